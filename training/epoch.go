package training

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hoopvision/overfit/tensor"
)

// Phase is one pass type within an epoch
type Phase int

const (
	PhaseTrain Phase = iota
	PhaseVal
)

func (p Phase) String() string {
	switch p {
	case PhaseTrain:
		return "train"
	case PhaseVal:
		return "val"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// EpochStats accumulates the results of one phase
type EpochStats struct {
	Phase           Phase
	RunningLoss     float64 // sum of batch loss × batch size
	RunningCorrects int
	Samples         int
	Batches         int
	Predicted       []int
	GroundTruth     []int
	Duration        time.Duration
}

// Loss returns the mean per-sample loss of the phase
func (s *EpochStats) Loss() float64 {
	if s.Samples == 0 {
		return 0
	}
	return s.RunningLoss / float64(s.Samples)
}

// Accuracy returns the fraction of correctly classified samples
func (s *EpochStats) Accuracy() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.RunningCorrects) / float64(s.Samples)
}

// EpochRunner runs a model over one phase of batches
type EpochRunner struct {
	Model     Module
	Criterion Loss
	Optimizer Optimizer
	Device    tensor.DeviceType

	// MaxBatchesPerPhase stops a phase after that many batches when > 0.
	// Used to cap overfit checks to a handful of batches.
	MaxBatchesPerPhase int

	ShowProgress   bool
	ProgressOutput io.Writer // defaults to os.Stdout
	Logger         *slog.Logger
}

func (r *EpochRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RunPhase iterates loader once. In PhaseTrain every batch is followed by
// backpropagation and an optimizer step; in PhaseVal the model runs in
// evaluation mode and no parameter is touched. The first error aborts the
// phase.
func (r *EpochRunner) RunPhase(phase Phase, loader BatchSource) (*EpochStats, error) {
	if r.Model == nil || r.Criterion == nil {
		return nil, fmt.Errorf("epoch runner requires a model and a criterion")
	}
	if phase == PhaseTrain && r.Optimizer == nil {
		return nil, fmt.Errorf("train phase requires an optimizer")
	}

	switch phase {
	case PhaseTrain:
		r.Model.Train()
	case PhaseVal:
		r.Model.Eval()
	default:
		return nil, fmt.Errorf("unknown phase %v", phase)
	}

	stats := &EpochStats{Phase: phase}
	start := time.Now()

	total := loader.Len()
	if r.MaxBatchesPerPhase > 0 {
		total = min(total, r.MaxBatchesPerPhase)
	}
	var progress *ProgressBar
	if r.ShowProgress {
		out := r.ProgressOutput
		if out == nil {
			out = os.Stdout
		}
		progress = NewProgressBar(out, phase.String(), total)
	}

	for batch, err := range loader.Batches() {
		if err != nil {
			return nil, fmt.Errorf("%s batch %d: %w", phase, stats.Batches, err)
		}
		if err := r.runBatch(phase, batch, stats); err != nil {
			return nil, fmt.Errorf("%s batch %d: %w", phase, stats.Batches, err)
		}
		stats.Batches++

		if progress != nil {
			progress.Update(stats.Batches, map[string]float64{
				"loss": stats.Loss(),
				"acc":  stats.Accuracy(),
			})
		}
		if r.MaxBatchesPerPhase > 0 && stats.Batches >= r.MaxBatchesPerPhase {
			break
		}
	}
	if progress != nil {
		progress.Finish()
	}

	stats.Duration = time.Since(start)
	r.logger().Debug("phase complete",
		"phase", phase.String(),
		"batches", stats.Batches,
		"samples", stats.Samples,
		"loss", stats.Loss(),
		"acc", stats.Accuracy(),
		"duration", stats.Duration)

	return stats, nil
}

func (r *EpochRunner) runBatch(phase Phase, batch *Batch, stats *EpochStats) error {
	batchSize := batch.Size()
	if batchSize == 0 || batch.Data == nil {
		return fmt.Errorf("empty batch")
	}
	if batch.Data.Shape[0] != batchSize {
		return fmt.Errorf("batch has %d samples but %d labels", batch.Data.Shape[0], batchSize)
	}

	inputs, err := batch.Data.ToDevice(r.Device)
	if err != nil {
		return err
	}

	if phase == PhaseTrain {
		r.Optimizer.ZeroGrad()
	}

	outputs, err := r.Model.Forward(inputs)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}

	loss, err := r.Criterion.Forward(outputs, batch.Labels)
	if err != nil {
		return fmt.Errorf("loss: %w", err)
	}

	if phase == PhaseTrain {
		grad, err := r.Criterion.Backward(outputs, batch.Labels)
		if err != nil {
			return fmt.Errorf("loss backward: %w", err)
		}
		if _, err := r.Model.Backward(grad); err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		if err := r.Optimizer.Step(); err != nil {
			return fmt.Errorf("optimizer step: %w", err)
		}
	}

	predicted, err := tensor.ArgmaxRows(outputs)
	if err != nil {
		return err
	}

	stats.RunningLoss += loss * float64(batchSize)
	for i, p := range predicted {
		if p == batch.Labels[i] {
			stats.RunningCorrects++
		}
	}
	stats.Samples += batchSize
	stats.Predicted = append(stats.Predicted, predicted...)
	stats.GroundTruth = append(stats.GroundTruth, batch.Labels...)
	return nil
}
