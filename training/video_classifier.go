package training

import (
	"fmt"

	"github.com/hoopvision/overfit/tensor"
)

// VideoClassifierConfig describes the classifier built by NewVideoClassifier.
type VideoClassifierConfig struct {
	// ClipShape is the per-sample input shape, e.g. [C, T, H, W].
	ClipShape  []int
	HiddenSize int
	NumClasses int
	Dropout    float64
	Device     tensor.DeviceType
}

// VideoClassifier maps a batch of clips to per-class logits through three
// named blocks: a stem, a "layer4" feature block and a linear "fc" head.
// Fine-tuning usually freezes everything but layer4 and fc.
type VideoClassifier struct {
	flatten *Flatten
	stem    *Sequential
	layer4  *Sequential
	dropout *Dropout
	fc      *Linear

	config   VideoClassifierConfig
	training bool
}

// NewVideoClassifier creates a classifier with freshly initialized weights.
func NewVideoClassifier(config VideoClassifierConfig) (*VideoClassifier, error) {
	if len(config.ClipShape) == 0 {
		return nil, fmt.Errorf("clip shape is required")
	}
	if config.HiddenSize <= 0 || config.NumClasses <= 0 {
		return nil, fmt.Errorf("hidden size and number of classes must be positive, got %d and %d",
			config.HiddenSize, config.NumClasses)
	}

	inFeatures := 1
	for _, dim := range config.ClipShape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid clip shape %v", config.ClipShape)
		}
		inFeatures *= dim
	}

	stemLinear, err := NewLinear(inFeatures, config.HiddenSize, true, config.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create stem: %w", err)
	}
	layer4Linear, err := NewLinear(config.HiddenSize, config.HiddenSize, true, config.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create layer4: %w", err)
	}
	fc, err := NewLinear(config.HiddenSize, config.NumClasses, true, config.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create fc: %w", err)
	}
	dropout, err := NewDropout(config.Dropout)
	if err != nil {
		return nil, err
	}

	return &VideoClassifier{
		flatten:  NewFlatten(),
		stem:     NewSequential(stemLinear, NewReLU()),
		layer4:   NewSequential(layer4Linear, NewReLU()),
		dropout:  dropout,
		fc:       fc,
		config:   config,
		training: true,
	}, nil
}

// Config returns the configuration the classifier was built with.
func (vc *VideoClassifier) Config() VideoClassifierConfig {
	return vc.config
}

func (vc *VideoClassifier) blocks() []Module {
	return []Module{vc.flatten, vc.stem, vc.layer4, vc.dropout, vc.fc}
}

// Forward returns logits of shape [batch, num_classes].
func (vc *VideoClassifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Device != vc.config.Device {
		return nil, &DeviceError{Op: "video classifier forward", Expected: vc.config.Device, Got: input.Device}
	}

	output := input
	for _, block := range vc.blocks() {
		var err error
		output, err = block.Forward(output)
		if err != nil {
			return nil, err
		}
	}
	return output, nil
}

func (vc *VideoClassifier) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	blocks := vc.blocks()
	grad := gradOutput
	for i := len(blocks) - 1; i >= 0; i-- {
		var err error
		grad, err = blocks[i].Backward(grad)
		if err != nil {
			return nil, err
		}
	}
	return grad, nil
}

func (vc *VideoClassifier) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, p := range vc.NamedParameters() {
		params = append(params, p.Tensor)
	}
	return params
}

// NamedParameters names parameters after their block: "stem.0.weight",
// "layer4.0.bias", "fc.weight".
func (vc *VideoClassifier) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, prefixed("stem", vc.stem.NamedParameters())...)
	params = append(params, prefixed("layer4", vc.layer4.NamedParameters())...)
	params = append(params, prefixed("fc", vc.fc.NamedParameters())...)
	return params
}

func (vc *VideoClassifier) Train() {
	vc.training = true
	for _, block := range vc.blocks() {
		block.Train()
	}
}

func (vc *VideoClassifier) Eval() {
	vc.training = false
	for _, block := range vc.blocks() {
		block.Eval()
	}
}

func (vc *VideoClassifier) IsTraining() bool {
	return vc.training
}
