package tensor

import (
	"fmt"

	gtensor "gorgonia.org/tensor"
)

// NewTensor wraps data in a tensor of the given shape. The tensor takes
// ownership of data; callers must not reuse the slice.
func NewTensor(shape []int, device DeviceType, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if err := validateDevice(device); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Device:   device,
		NumElems: numElems,
		dense:    gtensor.New(gtensor.WithShape(shapeCopy...), gtensor.WithBacking(data)),
	}, nil
}

func Zeros(shape []int, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, device, nil)
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float32, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, device, data)
}

// FromDense converts a gorgonia array into a tensor. Float64 arrays are
// narrowed to float32; other dtypes are rejected.
func FromDense(d *gtensor.Dense, device DeviceType) (*Tensor, error) {
	if d == nil {
		return nil, fmt.Errorf("nil dense array")
	}

	shape := []int(d.Shape().Clone())
	var data []float32

	switch d.Dtype() {
	case gtensor.Float32:
		src, ok := d.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("scalar arrays are not supported")
		}
		data = make([]float32, len(src))
		copy(data, src)
	case gtensor.Float64:
		src, ok := d.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("scalar arrays are not supported")
		}
		data = make([]float32, len(src))
		for i, v := range src {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %v: only float32 and float64 arrays can be loaded", d.Dtype())
	}

	return NewTensor(shape, device, data)
}

// OneHot returns a vector of length numClasses with a 1 at class.
func OneHot(class, numClasses int, device DeviceType) (*Tensor, error) {
	if class < 0 || class >= numClasses {
		return nil, fmt.Errorf("class %d out of range [0, %d)", class, numClasses)
	}
	data := make([]float32, numClasses)
	data[class] = 1
	return NewTensor([]int{numClasses}, device, data)
}
