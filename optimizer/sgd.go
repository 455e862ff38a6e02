package optimizer

import (
	"fmt"

	"github.com/hoopvision/overfit/checkpoints"
)

// SGDOptimizerState holds SGD hyperparameters and per-parameter momentum
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Dampening    float32
	Nesterov     bool // Whether to use Nesterov momentum

	params          []Parameter
	MomentumBuffers [][]float32 // only allocated if momentum > 0

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Dampening    float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Dampening:    0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []Parameter) (*SGDOptimizerState, error) {
	if err := validateParameters(params); err != nil {
		return nil, err
	}

	// Validate configuration parameters
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum and zero dampening")
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Dampening:    config.Dampening,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([][]float32, len(params))
	}

	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step() error {
	sgd.StepCount++

	for i, p := range sgd.params {
		if !updatable(p) {
			continue
		}

		weights := p.Tensor.Data()
		grads := p.Tensor.Grad().Data()
		if len(grads) != len(weights) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(grads), len(weights))
		}

		var buf []float32
		fresh := false
		if sgd.Momentum != 0 {
			if sgd.MomentumBuffers[i] == nil {
				sgd.MomentumBuffers[i] = make([]float32, len(weights))
				fresh = true
			}
			buf = sgd.MomentumBuffers[i]
		}

		for j := range weights {
			g := grads[j]
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * weights[j]
			}

			if buf != nil {
				if fresh {
					buf[j] = g
				} else {
					buf[j] = sgd.Momentum*buf[j] + (1-sgd.Dampening)*g
				}
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}

			weights[j] -= sgd.LearningRate * g
		}
	}

	return nil
}

// ZeroGrad clears parameter gradients
func (sgd *SGDOptimizerState) ZeroGrad() {
	zeroGrad(sgd.params)
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:      "SGD",
		StepCount: int(sgd.StepCount),
		Hyperparameters: map[string]float64{
			"learning_rate": float64(sgd.LearningRate),
			"momentum":      float64(sgd.Momentum),
			"weight_decay":  float64(sgd.WeightDecay),
			"dampening":     float64(sgd.Dampening),
			"nesterov":      boolParam(sgd.Nesterov),
		},
	}

	for i, buf := range sgd.MomentumBuffers {
		if buf == nil {
			continue
		}
		p := sgd.params[i]
		state.StateData = append(state.StateData, extractBufferState(buf, p.Tensor.Shape, p.Name, "momentum"))
	}

	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Hyperparameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Hyperparameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Hyperparameters, "weight_decay", sgd.WeightDecay)
	sgd.Dampening = extractFloat32Param(state.Hyperparameters, "dampening", sgd.Dampening)
	sgd.Nesterov = extractBoolParam(state.Hyperparameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = uint64(state.StepCount)

	if sgd.Momentum == 0 {
		sgd.MomentumBuffers = nil
		return nil
	}

	index := indexStateData(state)
	sgd.MomentumBuffers = make([][]float32, len(sgd.params))
	for i, p := range sgd.params {
		saved, ok := index[stateKey("momentum", p.Name)]
		if !ok {
			continue
		}
		buf := make([]float32, p.Tensor.NumElems)
		if err := restoreBufferState(buf, saved.Data, "momentum for "+p.Name); err != nil {
			return err
		}
		sgd.MomentumBuffers[i] = buf
	}

	return nil
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

func (sgd *SGDOptimizerState) GetLearningRate() float32 {
	return sgd.LearningRate
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}
