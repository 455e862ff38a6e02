package optimizer

import (
	"fmt"
	"math"

	"github.com/hoopvision/overfit/checkpoints"
)

// AdamOptimizerState holds Adam hyperparameters and per-parameter moments
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient

	params          []Parameter
	MomentumBuffers [][]float32 // First moment (momentum) for each parameter
	VarianceBuffers [][]float32 // Second moment (variance) for each parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []Parameter) (*AdamOptimizerState, error) {
	if err := validateParameters(params); err != nil {
		return nil, err
	}

	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		params:          params,
		MomentumBuffers: make([][]float32, len(params)),
		VarianceBuffers: make([][]float32, len(params)),
	}

	for i, p := range params {
		adam.MomentumBuffers[i] = make([]float32, p.Tensor.NumElems)
		adam.VarianceBuffers[i] = make([]float32, p.Tensor.NumElems)
	}

	return adam, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++

	// Bias corrections
	bc1 := 1 - math.Pow(float64(adam.Beta1), float64(adam.StepCount))
	bc2 := 1 - math.Pow(float64(adam.Beta2), float64(adam.StepCount))
	stepSize := float64(adam.LearningRate) / bc1

	for i, p := range adam.params {
		if !updatable(p) {
			continue
		}

		weights := p.Tensor.Data()
		grads := p.Tensor.Grad().Data()
		if len(grads) != len(weights) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(grads), len(weights))
		}

		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j := range weights {
			g := grads[j]
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * weights[j]
			}

			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			denom := math.Sqrt(float64(v[j])/bc2) + float64(adam.Epsilon)
			weights[j] -= float32(stepSize * float64(m[j]) / denom)
		}
	}

	return nil
}

// ZeroGrad clears parameter gradients
func (adam *AdamOptimizerState) ZeroGrad() {
	zeroGrad(adam.params)
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:      "Adam",
		StepCount: int(adam.StepCount),
		Hyperparameters: map[string]float64{
			"learning_rate": float64(adam.LearningRate),
			"beta1":         float64(adam.Beta1),
			"beta2":         float64(adam.Beta2),
			"epsilon":       float64(adam.Epsilon),
			"weight_decay":  float64(adam.WeightDecay),
		},
	}

	for i, p := range adam.params {
		state.StateData = append(state.StateData,
			extractBufferState(adam.MomentumBuffers[i], p.Tensor.Shape, p.Name, "momentum"),
			extractBufferState(adam.VarianceBuffers[i], p.Tensor.Shape, p.Name, "variance"),
		)
	}

	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	index := indexStateData(state)
	for i, p := range adam.params {
		for _, slot := range []struct {
			stateType string
			buffer    []float32
		}{
			{"momentum", adam.MomentumBuffers[i]},
			{"variance", adam.VarianceBuffers[i]},
		} {
			saved, ok := index[stateKey(slot.stateType, p.Name)]
			if !ok {
				return fmt.Errorf("missing %s state for %s", slot.stateType, p.Name)
			}
			if err := restoreBufferState(slot.buffer, saved.Data, slot.stateType+" for "+p.Name); err != nil {
				return err
			}
		}
	}

	adam.LearningRate = extractFloat32Param(state.Hyperparameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Hyperparameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Hyperparameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Hyperparameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Hyperparameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = uint64(state.StepCount)

	return nil
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

func (adam *AdamOptimizerState) GetLearningRate() float32 {
	return adam.LearningRate
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetStats returns optimizer statistics
func (adam *AdamOptimizerState) GetStats() AdamStats {
	return AdamStats{
		StepCount:       adam.StepCount,
		LearningRate:    adam.LearningRate,
		Beta1:           adam.Beta1,
		Beta2:           adam.Beta2,
		Epsilon:         adam.Epsilon,
		WeightDecay:     adam.WeightDecay,
		NumParameters:   len(adam.params),
		TotalBufferSize: adam.getTotalBufferSize(),
	}
}

// AdamStats provides statistics about the Adam optimizer
type AdamStats struct {
	StepCount       uint64
	LearningRate    float32
	Beta1           float32
	Beta2           float32
	Epsilon         float32
	WeightDecay     float32
	NumParameters   int
	TotalBufferSize int
}

// getTotalBufferSize calculates total bytes used by optimizer state
func (adam *AdamOptimizerState) getTotalBufferSize() int {
	total := 0
	for i := range adam.MomentumBuffers {
		total += (len(adam.MomentumBuffers[i]) + len(adam.VarianceBuffers[i])) * 4
	}
	return total
}
