package tensor

import (
	"fmt"
	"io"
	"os"

	gtensor "gorgonia.org/tensor"
)

// ReadNpy decodes a NumPy v1.0 array (float32 or float64, C order).
func ReadNpy(r io.Reader, device DeviceType) (*Tensor, error) {
	d := new(gtensor.Dense)
	if err := d.ReadNpy(r); err != nil {
		return nil, fmt.Errorf("failed to decode npy array: %w", err)
	}
	return FromDense(d, device)
}

func LoadNpy(path string, device DeviceType) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open npy file: %w", err)
	}
	defer f.Close()

	t, err := ReadNpy(f, device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteNpy encodes the tensor as a little-endian float32 NumPy array.
func (t *Tensor) WriteNpy(w io.Writer) error {
	if err := t.dense.WriteNpy(w); err != nil {
		return fmt.Errorf("failed to encode npy array: %w", err)
	}
	return nil
}

func (t *Tensor) SaveNpy(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file: %w", err)
	}
	if err := t.WriteNpy(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
