package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hoopvision/overfit/checkpoints"
	"github.com/hoopvision/overfit/history"
	"github.com/hoopvision/overfit/tensor"
)

// TrainerConfig holds configuration for training
type TrainerConfig struct {
	NumEpochs  int  // exclusive upper bound of the epoch range
	StartEpoch int  // first epoch to run, 0 for a fresh run
	Resume     bool // restore checkpoint StartEpoch-1 before starting
	NumClasses int

	Device             tensor.DeviceType
	MaxBatchesPerPhase int // 0 = full pass
	ShowProgress       bool
	ProgressOutput     io.Writer

	Scheduler LRScheduler // nil keeps the optimizer's rate
	Logger    *slog.Logger
}

// EpochHistory holds the per-epoch series of a run
type EpochHistory struct {
	Epochs    []int
	TrainLoss []float64
	ValLoss   []float64
	TrainAcc  []float64
	ValAcc    []float64
	TrainF1   []float64
	ValF1     []float64
}

// Len returns the number of completed epochs
func (h *EpochHistory) Len() int {
	return len(h.Epochs)
}

func (h *EpochHistory) add(epoch int, train, val *ClassificationReport, trainStats, valStats *EpochStats) {
	h.Epochs = append(h.Epochs, epoch)
	h.TrainLoss = append(h.TrainLoss, trainStats.Loss())
	h.ValLoss = append(h.ValLoss, valStats.Loss())
	h.TrainAcc = append(h.TrainAcc, train.Accuracy)
	h.ValAcc = append(h.ValAcc, val.Accuracy)
	h.TrainF1 = append(h.TrainF1, train.F1)
	h.ValF1 = append(h.ValF1, val.F1)
}

// Result is returned by Train. Model carries the best validation weights.
type Result struct {
	Model        Module
	BestAccuracy float64
	BestEpoch    int // -1 when no epoch beat the initial weights
	History      EpochHistory
}

// Trainer runs the epoch loop: a train phase and a val phase per epoch,
// followed by one checkpoint and one history record.
type Trainer struct {
	model       Module
	optimizer   Optimizer
	criterion   Loss
	checkpoints *CheckpointManager
	sink        history.Sink
	config      TrainerConfig
	baseLR      float64
}

// NewTrainer creates a new Trainer
func NewTrainer(model Module, opt Optimizer, criterion Loss, ckpt *CheckpointManager, sink history.Sink, config TrainerConfig) (*Trainer, error) {
	switch {
	case model == nil:
		return nil, errors.New("trainer requires a model")
	case opt == nil:
		return nil, errors.New("trainer requires an optimizer")
	case criterion == nil:
		return nil, errors.New("trainer requires a loss")
	case ckpt == nil:
		return nil, errors.New("trainer requires a checkpoint manager")
	case sink == nil:
		return nil, errors.New("trainer requires a history sink")
	}
	if config.NumClasses <= 0 {
		return nil, fmt.Errorf("num classes must be positive, got %d", config.NumClasses)
	}
	if config.StartEpoch < 0 || config.NumEpochs < config.StartEpoch {
		return nil, fmt.Errorf("invalid epoch range [%d, %d)", config.StartEpoch, config.NumEpochs)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Trainer{
		model:       model,
		optimizer:   opt,
		criterion:   criterion,
		checkpoints: ckpt,
		sink:        sink,
		config:      config,
		baseLR:      float64(opt.GetLearningRate()),
	}, nil
}

func (t *Trainer) runner() *EpochRunner {
	return &EpochRunner{
		Model:              t.model,
		Criterion:          t.criterion,
		Optimizer:          t.optimizer,
		Device:             t.config.Device,
		MaxBatchesPerPhase: t.config.MaxBatchesPerPhase,
		ShowProgress:       t.config.ShowProgress,
		ProgressOutput:     t.config.ProgressOutput,
		Logger:             t.config.Logger,
	}
}

// Train runs epochs [StartEpoch, NumEpochs). The first error aborts the run;
// checkpoints and history lines of finished epochs stay on disk. On success
// the live model holds the weights of the best validation epoch.
func (t *Trainer) Train(ctx context.Context, trainLoader, valLoader BatchSource) (*Result, error) {
	logger := t.config.Logger.With("component", "trainer")

	bestAcc := 0.0
	bestEpoch := -1
	best := StateDict(t.model)

	if t.config.Resume && t.config.StartEpoch > 0 {
		var err error
		bestAcc, bestEpoch, best, err = t.resume(logger)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Model: t.model}
	runner := t.runner()

	logger.Info("training started",
		"start_epoch", t.config.StartEpoch,
		"num_epochs", t.config.NumEpochs,
		"device", t.config.Device.String(),
		"trainable", len(TrainableParameters(t.model)))

	for epoch := t.config.StartEpoch; epoch < t.config.NumEpochs; epoch++ {
		epochStart := time.Now()

		if t.config.Scheduler != nil {
			t.optimizer.UpdateLearningRate(float32(t.config.Scheduler.GetLR(epoch, t.baseLR)))
		}

		trainStats, err := runner.RunPhase(PhaseTrain, trainLoader)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		trainReport, err := ComputeMetrics(trainStats.Predicted, trainStats.GroundTruth, t.config.NumClasses)
		if err != nil {
			return nil, fmt.Errorf("epoch %d train metrics: %w", epoch, err)
		}

		valStats, err := runner.RunPhase(PhaseVal, valLoader)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		valReport, err := ComputeMetrics(valStats.Predicted, valStats.GroundTruth, t.config.NumClasses)
		if err != nil {
			return nil, fmt.Errorf("epoch %d val metrics: %w", epoch, err)
		}

		// strictly greater: the first epoch to reach an accuracy keeps it
		improved := valReport.Accuracy > bestAcc
		if improved {
			bestAcc = valReport.Accuracy
			bestEpoch = epoch
			best = StateDict(t.model)
		}

		path, err := t.checkpoints.SaveEpoch(epoch, t.model, t.optimizer, checkpoints.TrainingState{
			ValAccuracy:  valReport.Accuracy,
			BestAccuracy: bestAcc,
			BestEpoch:    bestEpoch,
		})
		if err != nil {
			return nil, err
		}

		record := newRecord(epoch, path, trainStats, valStats, trainReport, valReport)
		if err := t.sink.Append(ctx, record); err != nil {
			return nil, &CheckpointIOError{Op: "append history", Epoch: epoch, Err: err}
		}

		result.History.add(epoch, trainReport, valReport, trainStats, valStats)

		logger.Info("epoch complete",
			"epoch", epoch,
			"train_loss", trainStats.Loss(),
			"train_acc", trainReport.Accuracy,
			"val_loss", valStats.Loss(),
			"val_acc", valReport.Accuracy,
			"val_f1", valReport.F1,
			"val_micro_f1", valReport.MicroF1,
			"best_acc", bestAcc,
			"improved", improved,
			"checkpoint", path,
			"duration", time.Since(epochStart).Round(time.Millisecond))
	}

	if err := LoadStateDict(t.model, best); err != nil {
		return nil, fmt.Errorf("failed to load best weights: %w", err)
	}

	result.BestAccuracy = bestAcc
	result.BestEpoch = bestEpoch
	logger.Info("training finished", "best_acc", bestAcc, "best_epoch", bestEpoch, "epochs", result.History.Len())
	return result, nil
}

// resume restores the last finished epoch and rebuilds the best snapshot
// from the checkpoint of the best epoch recorded in it.
func (t *Trainer) resume(logger *slog.Logger) (float64, int, ModelState, error) {
	last := t.config.StartEpoch - 1
	state, err := t.checkpoints.Restore(last, t.model, t.optimizer)
	if err != nil {
		return 0, -1, nil, err
	}

	best := StateDict(t.model)
	if state.BestEpoch >= 0 && state.BestEpoch != last {
		ckpt, err := t.checkpoints.LoadEpoch(state.BestEpoch)
		if err != nil {
			return 0, -1, nil, err
		}
		if err := checkpoints.LoadWeights(ckpt.Weights, best); err != nil {
			return 0, -1, nil, &CheckpointIOError{Op: "restore best weights", Epoch: state.BestEpoch, Path: t.checkpoints.Path(state.BestEpoch), Err: err}
		}
	} else if state.BestEpoch < 0 {
		logger.Warn("resumed run has no best epoch, using restored weights as baseline", "epoch", last)
	}

	logger.Info("resumed from checkpoint",
		"epoch", last,
		"best_acc", state.BestAccuracy,
		"best_epoch", state.BestEpoch,
		"step", state.Step)
	return state.BestAccuracy, state.BestEpoch, best, nil
}

func newRecord(epoch int, path string, trainStats, valStats *EpochStats, train, val *ClassificationReport) history.Record {
	return history.Record{
		Epoch:          epoch,
		ModelFile:      path,
		TrainLoss:      trainStats.Loss(),
		ValLoss:        valStats.Loss(),
		TrainAcc:       train.Accuracy,
		ValAcc:         val.Accuracy,
		TrainF1:        train.F1,
		ValF1:          val.F1,
		TrainPrecision: train.Precision,
		ValPrecision:   val.Precision,
		TrainRecall:    train.Recall,
		ValRecall:      val.Recall,
		TrainConfusion: train.Confusion.String(),
		ValConfusion:   val.Confusion.String(),
	}
}
