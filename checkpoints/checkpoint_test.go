package checkpoints

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hoopvision/overfit/tensor"
)

func newTestCheckpoint() *Checkpoint {
	checkpoint := &Checkpoint{
		Weights: []WeightTensor{
			{
				Name:  "fc.weight",
				Shape: []int{16, 10},
				Data:  make([]float32, 160),
				Layer: "fc",
				Type:  "weight",
			},
			{
				Name:  "fc.bias",
				Shape: []int{10},
				Data:  make([]float32, 10),
				Layer: "fc",
				Type:  "bias",
			},
		},
		TrainingState: TrainingState{
			Epoch:        3,
			Step:         39,
			LearningRate: 0.001,
			ValAccuracy:  0.4,
			BestAccuracy: 0.4,
			BestEpoch:    3,
		},
		OptimizerState: &OptimizerState{
			Type:      "Adam",
			StepCount: 39,
			Hyperparameters: map[string]float64{
				"lr":    0.001,
				"beta1": 0.9,
			},
			StateData: []OptimizerTensor{
				{Name: "fc.bias", Shape: []int{10}, Data: make([]float32, 10), StateType: "m"},
			},
		},
		Metadata: CheckpointMetadata{
			Version:       "1.0.0",
			Framework:     "overfit",
			BaseModelName: "r2plus1d_multiclass",
			CreatedAt:     time.Unix(1700000000, 123),
			Description:   "Test checkpoint",
			Tags:          []string{"test", "overfit"},
		},
	}

	for i := range checkpoint.Weights[0].Data {
		checkpoint.Weights[0].Data[i] = float32(i%100) * 0.01
	}
	for i := range checkpoint.Weights[1].Data {
		checkpoint.Weights[1].Data[i] = float32(i%10) * -0.1
	}
	return checkpoint
}

func assertCheckpointsEqual(t *testing.T, expected, loaded *Checkpoint) {
	t.Helper()

	if len(loaded.Weights) != len(expected.Weights) {
		t.Fatalf("Weight count mismatch: expected %d, got %d", len(expected.Weights), len(loaded.Weights))
	}
	for i, w := range expected.Weights {
		got := loaded.Weights[i]
		if got.Name != w.Name || got.Layer != w.Layer || got.Type != w.Type {
			t.Errorf("Weight %d metadata mismatch: expected %s/%s/%s, got %s/%s/%s",
				i, w.Name, w.Layer, w.Type, got.Name, got.Layer, got.Type)
		}
		if !reflect.DeepEqual(got.Shape, w.Shape) {
			t.Errorf("Weight %s shape mismatch: expected %v, got %v", w.Name, w.Shape, got.Shape)
		}
		if !reflect.DeepEqual(got.Data, w.Data) {
			t.Errorf("Weight %s data mismatch", w.Name)
		}
	}

	if loaded.TrainingState != expected.TrainingState {
		t.Errorf("Training state mismatch: expected %+v, got %+v", expected.TrainingState, loaded.TrainingState)
	}

	if loaded.OptimizerState == nil {
		t.Fatal("Optimizer state was not restored")
	}
	if loaded.OptimizerState.Type != expected.OptimizerState.Type ||
		loaded.OptimizerState.StepCount != expected.OptimizerState.StepCount {
		t.Errorf("Optimizer state mismatch: expected %s/%d, got %s/%d",
			expected.OptimizerState.Type, expected.OptimizerState.StepCount,
			loaded.OptimizerState.Type, loaded.OptimizerState.StepCount)
	}
	if !reflect.DeepEqual(loaded.OptimizerState.Hyperparameters, expected.OptimizerState.Hyperparameters) {
		t.Errorf("Hyperparameters mismatch: expected %v, got %v",
			expected.OptimizerState.Hyperparameters, loaded.OptimizerState.Hyperparameters)
	}
	if len(loaded.OptimizerState.StateData) != 1 || loaded.OptimizerState.StateData[0].StateType != "m" {
		t.Errorf("Optimizer tensors mismatch: %+v", loaded.OptimizerState.StateData)
	}

	if loaded.Metadata.BaseModelName != expected.Metadata.BaseModelName {
		t.Errorf("Base model mismatch: expected %s, got %s", expected.Metadata.BaseModelName, loaded.Metadata.BaseModelName)
	}
	if !loaded.Metadata.CreatedAt.Equal(expected.Metadata.CreatedAt) {
		t.Errorf("CreatedAt mismatch: expected %v, got %v", expected.Metadata.CreatedAt, loaded.Metadata.CreatedAt)
	}
	if !reflect.DeepEqual(loaded.Metadata.Tags, expected.Metadata.Tags) {
		t.Errorf("Tags mismatch: expected %v, got %v", expected.Metadata.Tags, loaded.Metadata.Tags)
	}
}

func TestCheckpointJSONSaveLoad(t *testing.T) {
	checkpoint := newTestCheckpoint()
	saver := NewCheckpointSaver(FormatJSON)
	path := filepath.Join(t.TempDir(), "r2plus1d_multiclass_epoch_3.json")

	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("Failed to save JSON checkpoint: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load JSON checkpoint: %v", err)
	}
	assertCheckpointsEqual(t, checkpoint, loaded)
}

func TestCheckpointProtoSaveLoad(t *testing.T) {
	checkpoint := newTestCheckpoint()
	saver := NewCheckpointSaver(FormatProto)
	path := filepath.Join(t.TempDir(), "r2plus1d_multiclass_epoch_3.pb")

	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("Failed to save proto checkpoint: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load proto checkpoint: %v", err)
	}
	assertCheckpointsEqual(t, checkpoint, loaded)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ckpt.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(newTestCheckpoint(), path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "ckpt.json" {
		t.Errorf("Expected only ckpt.json in directory, got %v", entries)
	}
}

func TestSaveToMissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "ckpt.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(newTestCheckpoint(), path); err == nil {
		t.Error("Expected error when saving into a missing directory")
	}
}

func TestLoadCorruptProto(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pb")
	if err := os.WriteFile(path, []byte{0x0a, 0xff, 0xff}, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error loading a truncated proto checkpoint")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected CheckpointFormat
		wantErr  bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"Proto", FormatProto, false},
		{"pb", FormatProto, false},
		{"onnx", FormatJSON, true},
	}

	for _, test := range tests {
		format, err := ParseFormat(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
		}
		if format != test.expected {
			t.Errorf("ParseFormat(%q) = %s, expected %s", test.input, format, test.expected)
		}
	}

	if FormatFromPath("a/b/c.pb") != FormatProto || FormatFromPath("c.json") != FormatJSON {
		t.Error("FormatFromPath picked the wrong format")
	}
	if FormatProto.Extension() != "pb" || FormatJSON.Extension() != "json" {
		t.Error("Unexpected format extensions")
	}
}

func TestExtractAndLoadWeights(t *testing.T) {
	w, _ := tensor.NewTensor([]int{2, 2}, tensor.CPU, []float32{1, 2, 3, 4})
	b, _ := tensor.NewTensor([]int{2}, tensor.CPU, []float32{5, 6})

	weights, err := ExtractWeights([]string{"layer4.weight", "layer4.bias"}, []*tensor.Tensor{w, b})
	if err != nil {
		t.Fatalf("ExtractWeights failed: %v", err)
	}
	if weights[0].Layer != "layer4" || weights[0].Type != "weight" || weights[1].Type != "bias" {
		t.Errorf("Unexpected layer/type split: %+v", weights)
	}

	// Extraction copies data.
	w.Data()[0] = 100
	if weights[0].Data[0] != 1 {
		t.Error("ExtractWeights must copy tensor data")
	}

	w2, _ := tensor.Zeros([]int{2, 2}, tensor.CPU)
	b2, _ := tensor.Zeros([]int{2}, tensor.CPU)
	err = LoadWeights(weights, map[string]*tensor.Tensor{"layer4.weight": w2, "layer4.bias": b2})
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if !reflect.DeepEqual(w2.Data(), []float32{1, 2, 3, 4}) || !reflect.DeepEqual(b2.Data(), []float32{5, 6}) {
		t.Errorf("LoadWeights copied wrong data: %v %v", w2.Data(), b2.Data())
	}

	wrong, _ := tensor.Zeros([]int{3}, tensor.CPU)
	if err := LoadWeights(weights, map[string]*tensor.Tensor{"layer4.bias": wrong}); err == nil {
		t.Error("Expected shape mismatch error")
	}
	if err := LoadWeights(weights, map[string]*tensor.Tensor{"fc.bias": b2}); err == nil {
		t.Error("Expected missing weight error")
	}
	if _, err := ExtractWeights([]string{"a"}, nil); err == nil {
		t.Error("Expected name count mismatch error")
	}
}
