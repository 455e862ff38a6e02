package tensor

import (
	"fmt"

	gtensor "gorgonia.org/tensor"
)

// DeviceType tags where a tensor is placed. Tensors placed on different
// devices must not be mixed in one computation.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Tensor is a float32 tensor backed by a gorgonia dense array. It carries a
// device tag and an optional gradient of the same shape.
type Tensor struct {
	Shape        []int
	Device       DeviceType
	NumElems     int
	dense        *gtensor.Dense
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)",
		t.Shape, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Data returns the backing slice. Writes through it modify the tensor.
func (t *Tensor) Data() []float32 {
	return t.dense.Data().([]float32)
}

// Dense exposes the gorgonia array backing the tensor.
func (t *Tensor) Dense() *gtensor.Dense {
	return t.dense
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func validateDevice(device DeviceType) error {
	if device != CPU && device != GPU {
		return fmt.Errorf("invalid device type: %v (valid types: CPU, GPU)", device)
	}
	return nil
}
