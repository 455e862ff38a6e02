package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hoopvision/overfit/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, without the dot.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return "pb"
	default:
		return "json"
	}
}

// ParseFormat maps a config value ("json", "proto"/"pb") to a format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "proto", "pb", "protobuf":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) CheckpointFormat {
	if strings.EqualFold(filepath.Ext(path), ".pb") {
		return FormatProto
	}
	return FormatJSON
}

// Checkpoint is one epoch's model parameters, optimizer state and training
// progress.
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias"
}

// TrainingState captures the training progress at the time of the snapshot
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	ValAccuracy  float64 `json:"val_accuracy"`
	BestAccuracy float64 `json:"best_accuracy"`
	BestEpoch    int     `json:"best_epoch"`
}

// OptimizerState captures optimizer-specific state (momentum, moments, step count)
type OptimizerState struct {
	Type            string             `json:"type"` // "SGD", "Adam"
	StepCount       int                `json:"step_count"`
	Hyperparameters map[string]float64 `json:"hyperparameters"`
	StateData       []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (velocity, m, v)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version       string    `json:"version"`
	Framework     string    `json:"framework"`
	BaseModelName string    `json:"base_model_name"`
	CreatedAt     time.Time `json:"created_at"`
	Description   string    `json:"description,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes the checkpoint to path. The file is written to a
// temporary sibling first and renamed, so a failed save never leaves a
// truncated checkpoint under the final name.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "overfit"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var data []byte
	var err error
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatProto:
		data, err = MarshalProto(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	switch cs.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatProto:
		if err := UnmarshalProto(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	return &checkpoint, nil
}

// Load reads a checkpoint, choosing the format from the file extension.
func Load(path string) (*Checkpoint, error) {
	return NewCheckpointSaver(FormatFromPath(path)).LoadCheckpoint(path)
}

// ExtractWeights copies named parameter tensors into checkpoint weights.
// Names follow the "<layer>.<type>" convention.
func ExtractWeights(names []string, tensors []*tensor.Tensor) ([]WeightTensor, error) {
	if len(names) != len(tensors) {
		return nil, fmt.Errorf("name count mismatch: %d names, %d tensors", len(names), len(tensors))
	}

	weights := make([]WeightTensor, 0, len(tensors))
	for i, t := range tensors {
		data := make([]float32, t.NumElems)
		copy(data, t.Data())
		shape := make([]int, len(t.Shape))
		copy(shape, t.Shape)

		layer, kind := splitParamName(names[i])
		weights = append(weights, WeightTensor{
			Name:  names[i],
			Shape: shape,
			Data:  data,
			Layer: layer,
			Type:  kind,
		})
	}
	return weights, nil
}

// LoadWeights copies checkpoint weights into the tensors with the same name.
// Every tensor must be present in the checkpoint with a matching shape.
func LoadWeights(weights []WeightTensor, tensors map[string]*tensor.Tensor) error {
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, weight := range weights {
		weightMap[weight.Name] = weight
	}

	for name, t := range tensors {
		weight, ok := weightMap[name]
		if !ok {
			return fmt.Errorf("checkpoint has no weight named %s", name)
		}

		if len(t.Shape) != len(weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v",
				name, t.Shape, weight.Shape)
		}
		for j, dim := range t.Shape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					name, j, dim, weight.Shape[j])
			}
		}

		if err := t.SetData(weight.Data); err != nil {
			return fmt.Errorf("failed to copy weight data for %s: %w", name, err)
		}
	}

	return nil
}

func splitParamName(name string) (layer, kind string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
