package training

import (
	"fmt"
	"iter"
	"math/rand"
	"sync"

	"github.com/hoopvision/overfit/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// Batch represents a batch of data and the class index of every sample
type Batch struct {
	Data   *tensor.Tensor
	Labels []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// BatchSource yields the batches of one pass over a dataset. Each call to
// Batches starts a new pass.
type BatchSource interface {
	Batches() iter.Seq2[*Batch, error]
	Len() int // Number of batches in a pass
}

// DataLoader provides batching, shuffling, and parallel sample loading.
// Batches are always yielded in index order of the (shuffled) pass, no matter
// how many workers load them.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	device     tensor.DeviceType
	rng        *rand.Rand
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int, device tensor.DeviceType, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		device:     device,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// epochOrder returns the sample indices of a pass split into batches.
func (dl *DataLoader) epochOrder() [][]int {
	indices := make([]int, dl.dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	if dl.shuffle {
		dl.mutex.Lock()
		dl.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		dl.mutex.Unlock()
	}

	var chunks [][]int
	for start := 0; start < len(indices); start += dl.batchSize {
		end := min(start+dl.batchSize, len(indices))
		chunks = append(chunks, indices[start:end])
	}
	return chunks
}

// Batches starts a pass over the dataset. With more than one worker, up to
// numWorkers batches are loaded ahead of the consumer. Iteration stops after
// the first error.
func (dl *DataLoader) Batches() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		chunks := dl.epochOrder()

		if dl.numWorkers == 1 {
			for _, chunk := range chunks {
				batch, err := dl.loadBatch(chunk)
				if !yield(batch, err) || err != nil {
					return
				}
			}
			return
		}

		type result struct {
			batch *Batch
			err   error
		}
		results := make([]chan result, len(chunks))
		for i := range results {
			results[i] = make(chan result, 1)
		}

		window := make(chan struct{}, dl.numWorkers)
		done := make(chan struct{})
		var wg sync.WaitGroup
		defer func() {
			close(done)
			wg.Wait()
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, chunk := range chunks {
				select {
				case window <- struct{}{}:
				case <-done:
					return
				}
				wg.Add(1)
				go func(i int, chunk []int) {
					defer wg.Done()
					batch, err := dl.loadBatch(chunk)
					results[i] <- result{batch: batch, err: err}
				}(i, chunk)
			}
		}()

		for i := range chunks {
			r := <-results[i]
			<-window
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
	}
}

// loadBatch loads a batch of samples and stacks them into one tensor
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	var sampleShape []int
	var data []float32
	labels := make([]int, len(indices))

	for i, idx := range indices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}

		if i == 0 {
			sampleShape = sample.Shape
			data = make([]float32, 0, len(indices)*sample.NumElems)
		} else if !equalShapes(sample.Shape, sampleShape) {
			return nil, fmt.Errorf("sample %d has shape %v, expected %v", idx, sample.Shape, sampleShape)
		}
		data = append(data, sample.Data()...)

		labels[i], err = LabelIndex(label)
		if err != nil {
			return nil, fmt.Errorf("invalid label for sample %d: %w", idx, err)
		}
	}

	batchData, err := tensor.NewTensor(append([]int{len(indices)}, sampleShape...), dl.device, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch tensor: %w", err)
	}
	return &Batch{Data: batchData, Labels: labels}, nil
}

// LabelIndex converts a label tensor into a class index. A single-element
// tensor holds the index itself; a longer vector is read as one-hot.
func LabelIndex(label *tensor.Tensor) (int, error) {
	if label == nil {
		return 0, fmt.Errorf("nil label")
	}
	values := label.Data()
	if len(values) == 1 {
		class := int(values[0])
		if float32(class) != values[0] || class < 0 {
			return 0, fmt.Errorf("label %v is not a class index", values[0])
		}
		return class, nil
	}

	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best, nil
}

func equalShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StaticBatches is a BatchSource over batches already in memory.
type StaticBatches []*Batch

func (sb StaticBatches) Batches() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for _, batch := range sb {
			if !yield(batch, nil) {
				return
			}
		}
	}
}

func (sb StaticBatches) Len() int {
	return len(sb)
}

// SimpleDataset provides a basic implementation of Dataset for testing and simple use cases
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset creates a new SimpleDataset
func NewSimpleDataset(data, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", len(data), len(labels))
	}

	return &SimpleDataset{
		data:   data,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns a sample at the given index
func (ds *SimpleDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}

	return ds.data[idx], ds.labels[idx], nil
}
