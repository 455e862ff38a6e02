package optimizer

import (
	"fmt"

	"github.com/hoopvision/overfit/checkpoints"
	"github.com/hoopvision/overfit/tensor"
)

// Optimizer defines the common interface for all optimizers.
// State save/restore goes through checkpoints.OptimizerState so a run can be
// resumed from any epoch snapshot.
type Optimizer interface {
	// Step applies one update to every parameter that requires gradients
	// and has one. Frozen parameters are never modified.
	Step() error

	// ZeroGrad clears the accumulated gradients of all parameters
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	GetLearningRate() float32

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)
}

// Parameter is a named tensor updated by an optimizer.
type Parameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// validateParameters rejects an empty or ambiguous parameter list.
func validateParameters(params []Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters provided")
	}
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if p.Tensor == nil {
			return fmt.Errorf("parameter %d (%s) has no tensor", i, p.Name)
		}
		if p.Name == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter name %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// updatable reports whether p takes part in the next step.
func updatable(p Parameter) bool {
	return p.Tensor.RequiresGrad() && p.Tensor.Grad() != nil
}

func zeroGrad(params []Parameter) {
	tensors := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		tensors[i] = p.Tensor
	}
	tensor.ZeroGrad(tensors)
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
