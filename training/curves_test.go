package training

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlotLearningCurves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	h := EpochHistory{
		Epochs:    []int{0, 1, 2},
		TrainLoss: []float64{2.1, 1.4, 0.6},
		ValLoss:   []float64{2.2, 1.9, 1.8},
		TrainAcc:  []float64{0.2, 0.5, 0.9},
		ValAcc:    []float64{0.1, 0.3, 0.35},
		TrainF1:   []float64{0.15, 0.45, 0.88},
		ValF1:     []float64{0.05, 0.2, 0.3},
	}

	paths, err := PlotLearningCurves(h, dir)
	if err != nil {
		t.Fatalf("PlotLearningCurves failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 plots, got %d", len(paths))
	}

	for _, name := range []string{"loss.png", "accuracy.png", "f1.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not written: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestPlotLearningCurvesErrors(t *testing.T) {
	if _, err := PlotLearningCurves(EpochHistory{}, t.TempDir()); err == nil {
		t.Error("expected error for empty history")
	}

	h := EpochHistory{
		Epochs:    []int{0, 1},
		TrainLoss: []float64{1},
		ValLoss:   []float64{1, 2},
		TrainAcc:  []float64{0, 1},
		ValAcc:    []float64{0, 1},
		TrainF1:   []float64{0, 1},
		ValF1:     []float64{0, 1},
	}
	if _, err := PlotLearningCurves(h, t.TempDir()); err == nil {
		t.Error("expected error for mismatched series")
	}
}
