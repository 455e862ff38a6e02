package optimizer

import (
	"fmt"
	"math"

	"github.com/hoopvision/overfit/checkpoints"
)

// RMSPropOptimizerState holds RMSProp hyperparameters and running averages
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Alpha        float32 // Smoothing constant (typically 0.99)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient
	Momentum     float32 // Momentum coefficient (typically 0.9, 0.0 for no momentum)
	Centered     bool    // Whether to use centered RMSProp (subtract mean of gradients)

	params                []Parameter
	SquaredGradAvgBuffers [][]float32 // Running average of squared gradients
	MomentumBuffers       [][]float32 // nil entries unless momentum > 0
	GradientAvgBuffers    [][]float32 // nil entries unless centered

	// Step tracking
	StepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer over params
func NewRMSPropOptimizer(config RMSPropConfig, params []Parameter) (*RMSPropOptimizerState, error) {
	if err := validateParameters(params); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	numWeights := len(params)
	rmsprop := &RMSPropOptimizerState{
		LearningRate:          config.LearningRate,
		Alpha:                 config.Alpha,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		Momentum:              config.Momentum,
		Centered:              config.Centered,
		params:                params,
		SquaredGradAvgBuffers: make([][]float32, numWeights),
		MomentumBuffers:       make([][]float32, numWeights),
		GradientAvgBuffers:    make([][]float32, numWeights),
	}

	for i, p := range params {
		size := p.Tensor.NumElems
		rmsprop.SquaredGradAvgBuffers[i] = make([]float32, size)
		if config.Momentum > 0 {
			rmsprop.MomentumBuffers[i] = make([]float32, size)
		}
		if config.Centered {
			rmsprop.GradientAvgBuffers[i] = make([]float32, size)
		}
	}

	return rmsprop, nil
}

// Step performs a single RMSProp optimization step
func (rmsprop *RMSPropOptimizerState) Step() error {
	rmsprop.StepCount++

	for i, p := range rmsprop.params {
		if !updatable(p) {
			continue
		}

		weights := p.Tensor.Data()
		grads := p.Tensor.Grad().Data()
		if len(grads) != len(weights) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(grads), len(weights))
		}

		sq := rmsprop.SquaredGradAvgBuffers[i]
		mom := rmsprop.MomentumBuffers[i]
		avg := rmsprop.GradientAvgBuffers[i]

		for j := range weights {
			g := grads[j]
			if rmsprop.WeightDecay != 0 {
				g += rmsprop.WeightDecay * weights[j]
			}

			sq[j] = rmsprop.Alpha*sq[j] + (1-rmsprop.Alpha)*g*g
			variance := float64(sq[j])
			if avg != nil {
				avg[j] = rmsprop.Alpha*avg[j] + (1-rmsprop.Alpha)*g
				variance -= float64(avg[j]) * float64(avg[j])
			}
			denom := float32(math.Sqrt(math.Max(variance, 0))) + rmsprop.Epsilon

			if mom != nil {
				mom[j] = rmsprop.Momentum*mom[j] + g/denom
				weights[j] -= rmsprop.LearningRate * mom[j]
			} else {
				weights[j] -= rmsprop.LearningRate * g / denom
			}
		}
	}

	return nil
}

// ZeroGrad clears parameter gradients
func (rmsprop *RMSPropOptimizerState) ZeroGrad() {
	zeroGrad(rmsprop.params)
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSPropOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:      "RMSProp",
		StepCount: int(rmsprop.StepCount),
		Hyperparameters: map[string]float64{
			"learning_rate": float64(rmsprop.LearningRate),
			"alpha":         float64(rmsprop.Alpha),
			"epsilon":       float64(rmsprop.Epsilon),
			"weight_decay":  float64(rmsprop.WeightDecay),
			"momentum":      float64(rmsprop.Momentum),
			"centered":      boolParam(rmsprop.Centered),
		},
	}

	for i, p := range rmsprop.params {
		state.StateData = append(state.StateData,
			extractBufferState(rmsprop.SquaredGradAvgBuffers[i], p.Tensor.Shape, p.Name, "squared_grad_avg"))
		if rmsprop.MomentumBuffers[i] != nil {
			state.StateData = append(state.StateData,
				extractBufferState(rmsprop.MomentumBuffers[i], p.Tensor.Shape, p.Name, "momentum"))
		}
		if rmsprop.GradientAvgBuffers[i] != nil {
			state.StateData = append(state.StateData,
				extractBufferState(rmsprop.GradientAvgBuffers[i], p.Tensor.Shape, p.Name, "gradient_avg"))
		}
	}

	return state, nil
}

// LoadState restores optimizer state from checkpoint. The momentum and
// centered settings must match the ones the optimizer was built with.
func (rmsprop *RMSPropOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}
	if extractBoolParam(state.Hyperparameters, "centered", rmsprop.Centered) != rmsprop.Centered {
		return fmt.Errorf("centered setting mismatch")
	}
	if (extractFloat32Param(state.Hyperparameters, "momentum", rmsprop.Momentum) > 0) != (rmsprop.Momentum > 0) {
		return fmt.Errorf("momentum setting mismatch")
	}

	index := indexStateData(state)
	for i, p := range rmsprop.params {
		buffers := map[string][]float32{
			"squared_grad_avg": rmsprop.SquaredGradAvgBuffers[i],
			"momentum":         rmsprop.MomentumBuffers[i],
			"gradient_avg":     rmsprop.GradientAvgBuffers[i],
		}
		for stateType, buffer := range buffers {
			if buffer == nil {
				continue
			}
			saved, ok := index[stateKey(stateType, p.Name)]
			if !ok {
				return fmt.Errorf("missing %s state for %s", stateType, p.Name)
			}
			if err := restoreBufferState(buffer, saved.Data, stateType+" for "+p.Name); err != nil {
				return err
			}
		}
	}

	rmsprop.LearningRate = extractFloat32Param(state.Hyperparameters, "learning_rate", rmsprop.LearningRate)
	rmsprop.Alpha = extractFloat32Param(state.Hyperparameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloat32Param(state.Hyperparameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloat32Param(state.Hyperparameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.Momentum = extractFloat32Param(state.Hyperparameters, "momentum", rmsprop.Momentum)
	rmsprop.StepCount = uint64(state.StepCount)

	return nil
}

// GetStepCount returns the current step count
func (rmsprop *RMSPropOptimizerState) GetStepCount() uint64 {
	return rmsprop.StepCount
}

func (rmsprop *RMSPropOptimizerState) GetLearningRate() float32 {
	return rmsprop.LearningRate
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (rmsprop *RMSPropOptimizerState) UpdateLearningRate(newLR float32) {
	rmsprop.LearningRate = newLR
}
