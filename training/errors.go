package training

import (
	"fmt"

	"github.com/hoopvision/overfit/tensor"
)

// InvalidInputError reports prediction or label arrays that cannot be scored.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid metric input: " + e.Reason
}

// DeviceError reports a tensor placed on a different device than the model.
type DeviceError struct {
	Op       string
	Expected tensor.DeviceType
	Got      tensor.DeviceType
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device mismatch: model on %s, tensor on %s", e.Op, e.Expected, e.Got)
}

// CheckpointIOError reports a failure to persist or restore a checkpoint or a
// history record.
type CheckpointIOError struct {
	Op    string
	Epoch int
	Path  string
	Err   error
}

func (e *CheckpointIOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s (epoch %d, %s): %v", e.Op, e.Epoch, e.Path, e.Err)
	}
	return fmt.Sprintf("%s (epoch %d): %v", e.Op, e.Epoch, e.Err)
}

func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}
