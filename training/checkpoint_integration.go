package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hoopvision/overfit/checkpoints"
	"github.com/hoopvision/overfit/tensor"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory string                       // Directory to save checkpoints
	BaseModelName string                       // Prefix of every checkpoint file, stored in metadata
	Format        checkpoints.CheckpointFormat // JSON or Proto
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory: "./checkpoints",
		BaseModelName: "video_classifier",
		Format:        checkpoints.FormatJSON,
	}
}

// CheckpointManager writes one checkpoint per epoch and restores them
type CheckpointManager struct {
	config CheckpointConfig
	saver  *checkpoints.CheckpointSaver
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig) *CheckpointManager {
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format),
	}
}

// Path returns the file of the given epoch: <dir>/<base>_epoch_<N>.<ext>
func (cm *CheckpointManager) Path(epoch int) string {
	filename := fmt.Sprintf("%s_epoch_%d.%s", cm.config.BaseModelName, epoch, cm.config.Format.Extension())
	return filepath.Join(cm.config.SaveDirectory, filename)
}

// SaveEpoch snapshots the model parameters and optimizer state for epoch.
// Failures are returned as *CheckpointIOError.
func (cm *CheckpointManager) SaveEpoch(epoch int, model Module, opt Optimizer, state checkpoints.TrainingState) (string, error) {
	path := cm.Path(epoch)
	ioErr := func(err error) error {
		return &CheckpointIOError{Op: "save checkpoint", Epoch: epoch, Path: path, Err: err}
	}

	checkpoint, err := cm.createCheckpoint(epoch, model, opt, state)
	if err != nil {
		return "", ioErr(err)
	}

	if err := cm.ensureDirectory(); err != nil {
		return "", ioErr(fmt.Errorf("failed to create checkpoint directory: %w", err))
	}

	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", ioErr(err)
	}
	return path, nil
}

// LoadEpoch reads the checkpoint written for epoch
func (cm *CheckpointManager) LoadEpoch(epoch int) (*checkpoints.Checkpoint, error) {
	path := cm.Path(epoch)
	checkpoint, err := cm.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, &CheckpointIOError{Op: "load checkpoint", Epoch: epoch, Path: path, Err: err}
	}
	return checkpoint, nil
}

// Restore loads the checkpoint of epoch into model and, when non-nil, opt.
func (cm *CheckpointManager) Restore(epoch int, model Module, opt Optimizer) (*checkpoints.TrainingState, error) {
	checkpoint, err := cm.LoadEpoch(epoch)
	if err != nil {
		return nil, err
	}
	if err := RestoreCheckpoint(checkpoint, model, opt); err != nil {
		return nil, &CheckpointIOError{Op: "restore checkpoint", Epoch: epoch, Path: cm.Path(epoch), Err: err}
	}
	return &checkpoint.TrainingState, nil
}

// createCheckpoint builds a checkpoint from the current model and optimizer
func (cm *CheckpointManager) createCheckpoint(epoch int, model Module, opt Optimizer, state checkpoints.TrainingState) (*checkpoints.Checkpoint, error) {
	named := model.NamedParameters()
	names := make([]string, len(named))
	tensors := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		names[i] = p.Name
		tensors[i] = p.Tensor
	}

	weights, err := checkpoints.ExtractWeights(names, tensors)
	if err != nil {
		return nil, fmt.Errorf("failed to extract weights: %w", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: checkpoints.CheckpointMetadata{
			BaseModelName: cm.config.BaseModelName,
			Description:   fmt.Sprintf("Epoch %d", epoch),
		},
	}
	checkpoint.TrainingState.Epoch = epoch

	if opt != nil {
		optState, err := opt.GetState()
		if err != nil {
			return nil, fmt.Errorf("failed to extract optimizer state: %w", err)
		}
		checkpoint.OptimizerState = optState
		checkpoint.TrainingState.Step = int(opt.GetStepCount())
		checkpoint.TrainingState.LearningRate = float64(opt.GetLearningRate())
	}

	return checkpoint, nil
}

// RestoreCheckpoint copies checkpoint weights into model and restores the
// optimizer state when both opt and the saved state are present.
func RestoreCheckpoint(checkpoint *checkpoints.Checkpoint, model Module, opt Optimizer) error {
	params := make(map[string]*tensor.Tensor)
	for _, p := range model.NamedParameters() {
		params[p.Name] = p.Tensor
	}
	if err := checkpoints.LoadWeights(checkpoint.Weights, params); err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}

	if opt != nil && checkpoint.OptimizerState != nil {
		if err := opt.LoadState(checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to load optimizer state: %w", err)
		}
	}
	return nil
}

// LoadPretrained copies every checkpoint weight whose name and shape match a
// model parameter. Parameters without a match keep their initialization, so
// a backbone can be loaded under a head with a different class count.
func LoadPretrained(path string, model Module) (loaded, skipped []string, err error) {
	checkpoint, err := checkpoints.Load(path)
	if err != nil {
		return nil, nil, &CheckpointIOError{Op: "load pretrained weights", Path: path, Err: err}
	}

	weights := make(map[string]checkpoints.WeightTensor, len(checkpoint.Weights))
	for _, w := range checkpoint.Weights {
		weights[w.Name] = w
	}

	for _, p := range model.NamedParameters() {
		w, ok := weights[p.Name]
		if !ok || !equalShapes(w.Shape, p.Tensor.Shape) {
			skipped = append(skipped, p.Name)
			continue
		}
		if err := p.Tensor.SetData(w.Data); err != nil {
			return nil, nil, fmt.Errorf("failed to copy pretrained weight %s: %w", p.Name, err)
		}
		loaded = append(loaded, p.Name)
	}
	return loaded, skipped, nil
}

func (cm *CheckpointManager) ensureDirectory() error {
	return os.MkdirAll(cm.config.SaveDirectory, 0755)
}
