package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hoopvision/overfit/tensor"
)

// AnnotationDataset is a set of video clips labeled by an annotation index.
// The index is a JSON object mapping clip id to class index; each clip is a
// float32 .npy array stored as <videoDir>/<clip id>.npy. Samples are ordered
// by clip id.
type AnnotationDataset struct {
	videoDir   string
	clipIDs    []string
	labels     []int
	numClasses int
	device     tensor.DeviceType
}

// NewAnnotationDataset reads the annotation index and checks that every clip
// file exists and every label is below numClasses.
func NewAnnotationDataset(annotationsPath, videoDir string, numClasses int) (*AnnotationDataset, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}

	data, err := os.ReadFile(annotationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}

	var index map[string]int
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", annotationsPath, err)
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("no clips annotated in %s", annotationsPath)
	}

	ds := &AnnotationDataset{
		videoDir:   videoDir,
		numClasses: numClasses,
		device:     tensor.CPU,
	}
	for id := range index {
		ds.clipIDs = append(ds.clipIDs, id)
	}
	sort.Strings(ds.clipIDs)

	ds.labels = make([]int, len(ds.clipIDs))
	for i, id := range ds.clipIDs {
		label := index[id]
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("clip %s has label %d outside [0, %d)", id, label, numClasses)
		}
		if _, err := os.Stat(ds.clipPath(id)); err != nil {
			return nil, fmt.Errorf("clip %s: %w", id, err)
		}
		ds.labels[i] = label
	}

	return ds, nil
}

func (d *AnnotationDataset) clipPath(id string) string {
	return filepath.Join(d.videoDir, id+".npy")
}

// Len returns the number of items in the dataset
func (d *AnnotationDataset) Len() int {
	return len(d.clipIDs)
}

// Get loads clip idx and returns it with its one-hot label.
func (d *AnnotationDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.clipIDs) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.clipIDs))
	}

	video, err := tensor.LoadNpy(d.clipPath(d.clipIDs[idx]), d.device)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load clip %s: %w", d.clipIDs[idx], err)
	}
	label, err := tensor.OneHot(d.labels[idx], d.numClasses, d.device)
	if err != nil {
		return nil, nil, err
	}
	return video, label, nil
}

// ClipID returns the id of sample idx
func (d *AnnotationDataset) ClipID(idx int) string {
	return d.clipIDs[idx]
}

// Label returns the class index of sample idx
func (d *AnnotationDataset) Label(idx int) int {
	return d.labels[idx]
}

// NumClasses returns the number of classes
func (d *AnnotationDataset) NumClasses() int {
	return d.numClasses
}

// ClassDistribution returns the number of samples per class index.
func (d *AnnotationDataset) ClassDistribution() []int {
	dist := make([]int, d.numClasses)
	for _, label := range d.labels {
		dist[label]++
	}
	return dist
}

// Subset keeps the first n samples in clip id order. n larger than the
// dataset keeps everything.
func (d *AnnotationDataset) Subset(n int) *AnnotationDataset {
	if n < 0 {
		n = 0
	}
	n = min(n, len(d.clipIDs))
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return d.pick(indices)
}

// TrainValSubsets returns the first trainSize clips for training. With
// valSize 0 the training subset is also the validation set; otherwise the
// next valSize clips after it are held out for validation.
func (d *AnnotationDataset) TrainValSubsets(trainSize, valSize int) (*AnnotationDataset, *AnnotationDataset, error) {
	train := d.Subset(trainSize)
	if valSize <= 0 {
		return train, train, nil
	}

	start := train.Len()
	end := min(start+valSize, len(d.clipIDs))
	if start >= end {
		return nil, nil, fmt.Errorf("no clips left for validation after %d training clips", start)
	}
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return train, d.pick(indices), nil
}

// Split shuffles the samples with seed and cuts them at trainRatio.
func (d *AnnotationDataset) Split(trainRatio float64, seed int64) (*AnnotationDataset, *AnnotationDataset, error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, fmt.Errorf("train ratio must be in (0, 1), got %v", trainRatio)
	}

	n := len(d.clipIDs)
	indices := rand.New(rand.NewSource(seed)).Perm(n)
	trainSize := int(float64(n) * trainRatio)

	train := indices[:trainSize]
	val := indices[trainSize:]
	sort.Ints(train)
	sort.Ints(val)
	return d.pick(train), d.pick(val), nil
}

func (d *AnnotationDataset) pick(indices []int) *AnnotationDataset {
	out := &AnnotationDataset{
		videoDir:   d.videoDir,
		clipIDs:    make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		numClasses: d.numClasses,
		device:     d.device,
	}
	for i, idx := range indices {
		out.clipIDs[i] = d.clipIDs[idx]
		out.labels[i] = d.labels[idx]
	}
	return out
}

// String returns a string representation of the dataset
func (d *AnnotationDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("AnnotationDataset: %d clips, %d classes\n", len(d.clipIDs), d.numClasses))
	sb.WriteString("Class distribution:\n")
	for class, count := range d.ClassDistribution() {
		sb.WriteString(fmt.Sprintf("  %d: %d clips\n", class, count))
	}
	return sb.String()
}
