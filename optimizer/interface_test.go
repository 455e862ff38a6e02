package optimizer

import (
	"testing"

	"github.com/hoopvision/overfit/checkpoints"
)

var (
	_ Optimizer = (*SGDOptimizerState)(nil)
	_ Optimizer = (*AdamOptimizerState)(nil)
	_ Optimizer = (*RMSPropOptimizerState)(nil)
)

func TestValidateStateType(t *testing.T) {
	if err := validateStateType("Adam", &checkpoints.OptimizerState{Type: "Adam"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := validateStateType("Adam", &checkpoints.OptimizerState{Type: "SGD"}); err == nil {
		t.Error("Expected type mismatch error")
	}
	if err := validateStateType("Adam", nil); err == nil {
		t.Error("Expected error for nil state")
	}
}

func TestValidateParameters(t *testing.T) {
	p := newParam(t, "w", []float32{1}, nil, true)

	if err := validateParameters([]Parameter{p}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := validateParameters([]Parameter{{Name: "", Tensor: p.Tensor}}); err == nil {
		t.Error("Expected error for unnamed parameter")
	}
	if err := validateParameters([]Parameter{{Name: "x"}}); err == nil {
		t.Error("Expected error for parameter without tensor")
	}
}
