package optimizer

import (
	"testing"
)

func TestDefaultAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()
	if config.LearningRate != 0.001 || config.Beta1 != 0.9 || config.Beta2 != 0.999 {
		t.Errorf("Unexpected default config: %+v", config)
	}
}

func TestAdamCreationValidation(t *testing.T) {
	p := newParam(t, "w", []float32{1}, nil, true)

	bad := []AdamConfig{
		{LearningRate: -1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 1, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 1.5, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 0},
	}
	for i, config := range bad {
		if _, err := NewAdamOptimizer(config, []Parameter{p}); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
}

// The first Adam step moves every weight by roughly lr in the direction
// opposite to its gradient's sign.
func TestAdamFirstStep(t *testing.T) {
	p := newParam(t, "w", []float32{1, 1, 1}, []float32{0.5, -3, 0}, true)

	adam, err := NewAdamOptimizer(AdamConfig{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}, []Parameter{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	assertClose(t, p.Tensor.Data(), []float32{0.9, 1.1, 1}, 1e-5)
}

func TestAdamSkipsFrozenParameters(t *testing.T) {
	frozen := newParam(t, "stem.0.weight", []float32{1}, []float32{1}, false)
	trainable := newParam(t, "fc.weight", []float32{1}, []float32{1}, true)

	adam, _ := NewAdamOptimizer(DefaultAdamConfig(), []Parameter{frozen, trainable})
	_ = adam.Step()

	assertClose(t, frozen.Tensor.Data(), []float32{1}, 0)
	if trainable.Tensor.Data()[0] >= 1 {
		t.Errorf("Trainable parameter was not updated: %f", trainable.Tensor.Data()[0])
	}
	if adam.MomentumBuffers[0][0] != 0 {
		t.Error("Frozen parameter moments must stay untouched")
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := newParam(t, "fc.bias", []float32{0, 0}, []float32{1, -1}, true)
	adam, _ := NewAdamOptimizer(DefaultAdamConfig(), []Parameter{p})
	_ = adam.Step()
	_ = adam.Step()

	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("Expected momentum and variance tensors, got %d", len(state.StateData))
	}

	restored, _ := NewAdamOptimizer(AdamConfig{LearningRate: 0.5, Beta1: 0.5, Beta2: 0.5, Epsilon: 1}, []Parameter{p})
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetStepCount() != 2 || restored.LearningRate != adam.LearningRate || restored.Beta1 != adam.Beta1 {
		t.Errorf("State not restored: %+v", restored.GetStats())
	}
	assertClose(t, restored.MomentumBuffers[0], adam.MomentumBuffers[0], 0)
	assertClose(t, restored.VarianceBuffers[0], adam.VarianceBuffers[0], 0)

	state.StateData = state.StateData[:1]
	if err := restored.LoadState(state); err == nil {
		t.Error("Expected error when variance state is missing")
	}
}

func TestAdamStats(t *testing.T) {
	p := newParam(t, "w", []float32{1, 2, 3}, nil, true)
	adam, _ := NewAdamOptimizer(DefaultAdamConfig(), []Parameter{p})

	stats := adam.GetStats()
	if stats.NumParameters != 1 || stats.TotalBufferSize != 3*2*4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
