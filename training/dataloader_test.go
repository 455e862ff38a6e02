package training

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/hoopvision/overfit/tensor"
)

// indexDataset returns sample i as a [2] tensor {i, -i} labelled i % classes.
type indexDataset struct {
	n       int
	classes int
	failAt  int
}

func (d *indexDataset) Len() int { return d.n }

func (d *indexDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx == d.failAt {
		return nil, nil, errors.New("corrupt clip")
	}
	data, _ := tensor.NewTensor([]int{2}, tensor.CPU, []float32{float32(idx), float32(-idx)})
	label, _ := tensor.NewTensor([]int{1}, tensor.CPU, []float32{float32(idx % d.classes)})
	return data, label, nil
}

func collect(t *testing.T, source BatchSource) ([]*Batch, error) {
	t.Helper()
	var batches []*Batch
	for batch, err := range source.Batches() {
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func TestSimpleDataset(t *testing.T) {
	data1, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 2, 3, 4})
	label1, _ := tensor.NewTensor([]int{1}, tensor.CPU, []float32{0})

	dataset, err := NewSimpleDataset([]*tensor.Tensor{data1}, []*tensor.Tensor{label1})
	if err != nil {
		t.Fatalf("Failed to create simple dataset: %v", err)
	}
	if dataset.Len() != 1 {
		t.Errorf("Expected dataset length 1, got %d", dataset.Len())
	}

	d, l, err := dataset.Get(0)
	if err != nil || d != data1 || l != label1 {
		t.Errorf("Sample 0 mismatch (err=%v)", err)
	}
	if _, _, err := dataset.Get(1); err == nil {
		t.Error("Expected error for out of bounds index")
	}
	if _, err := NewSimpleDataset([]*tensor.Tensor{data1}, nil); err == nil {
		t.Error("Expected error for mismatched data and labels length")
	}
}

func TestDataLoaderSequential(t *testing.T) {
	loader, err := NewDataLoader(&indexDataset{n: 10, classes: 3, failAt: -1}, 4, false, 1, tensor.CPU, 1)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if loader.Len() != 3 {
		t.Errorf("Expected 3 batches, got %d", loader.Len())
	}

	batches, err := collect(t, loader)
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}

	if !reflect.DeepEqual(batches[0].Data.Shape, []int{4, 2}) || batches[2].Size() != 2 {
		t.Errorf("Unexpected batch shapes: %v, last size %d", batches[0].Data.Shape, batches[2].Size())
	}
	if !reflect.DeepEqual(batches[0].Data.Data(), []float32{0, 0, 1, -1, 2, -2, 3, -3}) {
		t.Errorf("Unexpected first batch data: %v", batches[0].Data.Data())
	}
	if !reflect.DeepEqual(batches[1].Labels, []int{1, 2, 0, 1}) {
		t.Errorf("Unexpected labels: %v", batches[1].Labels)
	}
}

// Parallel loading must yield exactly the same batches, in the same order,
// as sequential loading with the same seed.
func TestDataLoaderWorkersPreserveOrder(t *testing.T) {
	dataset := &indexDataset{n: 37, classes: 5, failAt: -1}
	sequential, _ := NewDataLoader(dataset, 5, true, 1, tensor.CPU, 7)
	parallel, _ := NewDataLoader(dataset, 5, true, 4, tensor.CPU, 7)

	for pass := 0; pass < 2; pass++ {
		a, err := collect(t, sequential)
		if err != nil {
			t.Fatalf("sequential: %v", err)
		}
		b, err := collect(t, parallel)
		if err != nil {
			t.Fatalf("parallel: %v", err)
		}
		if len(a) != len(b) {
			t.Fatalf("batch count mismatch: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if !a[i].Data.Equal(b[i].Data) || !reflect.DeepEqual(a[i].Labels, b[i].Labels) {
				t.Errorf("pass %d batch %d differs", pass, i)
			}
		}
	}
}

func TestDataLoaderShuffleCoversAllSamples(t *testing.T) {
	loader, _ := NewDataLoader(&indexDataset{n: 20, classes: 2, failAt: -1}, 3, true, 2, tensor.CPU, 3)

	batches, err := collect(t, loader)
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	var seen []int
	for _, batch := range batches {
		data := batch.Data.Data()
		for i := 0; i < batch.Size(); i++ {
			seen = append(seen, int(data[i*2]))
		}
	}
	sort.Ints(seen)
	for i, v := range seen {
		if v != i {
			t.Fatalf("Expected every sample exactly once, got %v", seen)
		}
	}
}

func TestDataLoaderStopsOnError(t *testing.T) {
	for _, workers := range []int{1, 3} {
		loader, _ := NewDataLoader(&indexDataset{n: 12, classes: 2, failAt: 5}, 2, false, workers, tensor.CPU, 1)

		batches, err := collect(t, loader)
		if err == nil {
			t.Fatalf("workers=%d: expected error", workers)
		}
		if len(batches) != 2 {
			t.Errorf("workers=%d: expected 2 batches before the failure, got %d", workers, len(batches))
		}
	}
}

func TestDataLoaderEarlyBreak(t *testing.T) {
	loader, _ := NewDataLoader(&indexDataset{n: 100, classes: 2, failAt: -1}, 1, false, 4, tensor.CPU, 1)

	count := 0
	for _, err := range loader.Batches() {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("Expected to stop after 3 batches, got %d", count)
	}
}

func TestDataLoaderDeviceTag(t *testing.T) {
	loader, _ := NewDataLoader(&indexDataset{n: 2, classes: 2, failAt: -1}, 2, false, 1, tensor.GPU, 1)
	batches, err := collect(t, loader)
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	if batches[0].Data.Device != tensor.GPU {
		t.Errorf("Expected batch on GPU, got %s", batches[0].Data.Device)
	}
}

func TestLabelIndex(t *testing.T) {
	scalar, _ := tensor.NewTensor([]int{1}, tensor.CPU, []float32{2})
	oneHot, _ := tensor.OneHot(3, 5, tensor.CPU)
	fractional, _ := tensor.NewTensor([]int{1}, tensor.CPU, []float32{1.5})

	if class, err := LabelIndex(scalar); err != nil || class != 2 {
		t.Errorf("scalar label: got %d, %v", class, err)
	}
	if class, err := LabelIndex(oneHot); err != nil || class != 3 {
		t.Errorf("one-hot label: got %d, %v", class, err)
	}
	if _, err := LabelIndex(fractional); err == nil {
		t.Error("Expected error for fractional class index")
	}
}
