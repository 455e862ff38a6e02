package tensor

import (
	"fmt"
	"math"

	gtensor "gorgonia.org/tensor"
)

// Reshape returns a tensor with a new shape over a copy of the data.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of %d elements to shape %v", t.NumElems, newShape)
	}
	data := make([]float32, t.NumElems)
	copy(data, t.Data())
	return NewTensor(newShape, t.Device, data)
}

// Clone deep copies the data and the requiresGrad flag. The gradient is not
// copied.
func (t *Tensor) Clone() *Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{
		Shape:        shape,
		Device:       t.Device,
		NumElems:     t.NumElems,
		dense:        t.dense.Clone().(*gtensor.Dense),
		requiresGrad: t.requiresGrad,
	}
}

// SetData copies data into the tensor in place.
func (t *Tensor) SetData(data []float32) error {
	if len(data) != t.NumElems {
		return fmt.Errorf("data length %d does not match tensor size %d", len(data), t.NumElems)
	}
	copy(t.Data(), data)
	return nil
}

// CopyFrom overwrites the tensor's data with src's. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !sameShape(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: destination %v, source %v", t.Shape, src.Shape)
	}
	return t.SetData(src.Data())
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports whether both tensors have the same shape and bit-identical
// elements.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || !sameShape(t.Shape, other.Shape) {
		return false
	}
	a, b := t.Data(), other.Data()
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// ToDevice returns t when already on device, otherwise a copy tagged with the
// new device. All devices share host memory.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}
	if t.Device == device {
		return t, nil
	}
	moved := t.Clone()
	moved.Device = device
	return moved, nil
}

// AccumulateGrad adds g to the tensor's gradient, allocating it on first use.
// Tensors that do not require gradients ignore the call.
func (t *Tensor) AccumulateGrad(g []float32) error {
	if !t.requiresGrad {
		return nil
	}
	if len(g) != t.NumElems {
		return fmt.Errorf("gradient length %d does not match tensor size %d", len(g), t.NumElems)
	}
	if t.grad == nil {
		grad, err := Zeros(t.Shape, t.Device)
		if err != nil {
			return err
		}
		t.grad = grad
	}
	dst := t.grad.Data()
	for i, v := range g {
		dst[i] += v
	}
	return nil
}

// ZeroGrad clears the gradients of all tensors that require them.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data()
			for i := range data {
				data[i] = 0
			}
		}
	}
}

// ArgmaxRows returns the column index of the maximum of every row of a 2D
// tensor.
func ArgmaxRows(t *Tensor) ([]int, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D tensor, got shape %v", t.Shape)
	}

	result, err := t.dense.Argmax(1)
	if err != nil {
		return nil, fmt.Errorf("argmax failed: %w", err)
	}

	switch idx := result.Data().(type) {
	case []int:
		out := make([]int, len(idx))
		copy(out, idx)
		return out, nil
	case int:
		return []int{idx}, nil
	default:
		return nil, fmt.Errorf("unexpected argmax result type %T", idx)
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
