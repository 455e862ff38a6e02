package training

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	trainColor = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	valColor   = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// PlotLearningCurves writes loss.png, accuracy.png and f1.png into dir, each
// with a train and a val line over the completed epochs. It returns the
// written paths in that order.
func PlotLearningCurves(h EpochHistory, dir string) ([]string, error) {
	if h.Len() == 0 {
		return nil, fmt.Errorf("no completed epochs to plot")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plots directory: %w", err)
	}

	charts := []struct {
		file       string
		title      string
		yLabel     string
		train, val []float64
	}{
		{"loss.png", "Loss", "loss", h.TrainLoss, h.ValLoss},
		{"accuracy.png", "Accuracy", "accuracy", h.TrainAcc, h.ValAcc},
		{"f1.png", "Macro F1", "f1", h.TrainF1, h.ValF1},
	}

	paths := make([]string, 0, len(charts))
	for _, c := range charts {
		path := filepath.Join(dir, c.file)
		if err := plotCurve(path, c.title, c.yLabel, h.Epochs, c.train, c.val); err != nil {
			return paths, fmt.Errorf("failed to plot %s: %w", c.file, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func plotCurve(path, title, yLabel string, epochs []int, train, val []float64) error {
	if len(train) != len(epochs) || len(val) != len(epochs) {
		return fmt.Errorf("series length mismatch: %d epochs, %d train, %d val", len(epochs), len(train), len(val))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	for _, s := range []struct {
		name   string
		values []float64
		color  color.Color
	}{
		{"train", train, trainColor},
		{"val", val, valColor},
	} {
		xys := make(plotter.XYs, len(epochs))
		for i, epoch := range epochs {
			xys[i] = plotter.XY{X: float64(epoch), Y: s.values[i]}
		}

		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1.5)
		points.Color = s.color
		points.Radius = vg.Points(2)
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
