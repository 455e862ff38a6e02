package optimizer

import (
	"fmt"

	"github.com/hoopvision/overfit/checkpoints"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single state buffer for checkpointing
func extractBufferState(buffer []float32, shape []int, name string, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buffer))
	copy(data, buffer)
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     shapeCopy,
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpointed state back into a buffer
func restoreBufferState(buffer []float32, data []float32, name string) error {
	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}
	copy(buffer, data)
	return nil
}

// indexStateData maps "<state_type>/<name>" to the state tensor.
func indexStateData(state *checkpoints.OptimizerState) map[string]checkpoints.OptimizerTensor {
	index := make(map[string]checkpoints.OptimizerTensor, len(state.StateData))
	for _, t := range state.StateData {
		index[stateKey(t.StateType, t.Name)] = t
	}
	return index
}

func stateKey(stateType, name string) string {
	return stateType + "/" + name
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]float64, key string, defaultValue float32) float32 {
	if val, ok := params[key]; ok {
		return float32(val)
	}
	return defaultValue
}

// extractBoolParam reads a flag stored as 0 or 1
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
