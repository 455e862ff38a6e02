package tensor

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNpyRoundTrip(t *testing.T) {
	data := []float32{0.5, -1, 2, 3.25, 4, 5}
	clip, _ := NewTensor([]int{1, 2, 3}, CPU, data)

	var buf bytes.Buffer
	if err := clip.WriteNpy(&buf); err != nil {
		t.Fatalf("WriteNpy failed: %v", err)
	}

	loaded, err := ReadNpy(&buf, GPU)
	if err != nil {
		t.Fatalf("ReadNpy failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.Shape, []int{1, 2, 3}) {
		t.Errorf("Expected shape [1 2 3], got %v", loaded.Shape)
	}
	if !reflect.DeepEqual(loaded.Data(), data) {
		t.Errorf("Expected data %v, got %v", data, loaded.Data())
	}
	if loaded.Device != GPU {
		t.Errorf("Expected GPU device, got %s", loaded.Device)
	}
}

func TestNpyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.npy")
	clip, _ := NewTensor([]int{4}, CPU, []float32{1, 2, 3, 4})

	if err := clip.SaveNpy(path); err != nil {
		t.Fatalf("SaveNpy failed: %v", err)
	}
	loaded, err := LoadNpy(path, CPU)
	if err != nil {
		t.Fatalf("LoadNpy failed: %v", err)
	}
	if !loaded.Equal(clip) {
		t.Errorf("Loaded %v, expected %v", loaded.Data(), clip.Data())
	}

	if _, err := LoadNpy(filepath.Join(t.TempDir(), "missing.npy"), CPU); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestReadNpyRejectsGarbage(t *testing.T) {
	if _, err := ReadNpy(bytes.NewReader([]byte("not a numpy file")), CPU); err == nil {
		t.Error("Expected error for invalid magic")
	}
}
