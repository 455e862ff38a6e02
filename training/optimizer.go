package training

import (
	"fmt"
	"strings"

	"github.com/hoopvision/overfit/optimizer"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer = optimizer.Optimizer

// OptimizerConfig selects and configures an optimizer by name.
type OptimizerConfig struct {
	Type         string // "sgd", "adam" or "rmsprop"
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
	Beta1        float32
	Beta2        float32
	Epsilon      float32
}

// NewOptimizer builds the configured optimizer over all named parameters of
// the model. Frozen parameters are registered but never updated.
func NewOptimizer(model Module, config OptimizerConfig) (Optimizer, error) {
	named := model.NamedParameters()
	params := make([]optimizer.Parameter, len(named))
	for i, p := range named {
		params[i] = optimizer.Parameter{Name: p.Name, Tensor: p.Tensor}
	}

	switch strings.ToLower(config.Type) {
	case "sgd":
		sgd := optimizer.DefaultSGDConfig()
		sgd.LearningRate = config.LearningRate
		sgd.Momentum = config.Momentum
		sgd.WeightDecay = config.WeightDecay
		sgd.Nesterov = config.Nesterov
		return optimizer.NewSGDOptimizer(sgd, params)
	case "", "adam":
		adam := optimizer.DefaultAdamConfig()
		adam.LearningRate = config.LearningRate
		adam.WeightDecay = config.WeightDecay
		if config.Beta1 != 0 {
			adam.Beta1 = config.Beta1
		}
		if config.Beta2 != 0 {
			adam.Beta2 = config.Beta2
		}
		if config.Epsilon != 0 {
			adam.Epsilon = config.Epsilon
		}
		return optimizer.NewAdamOptimizer(adam, params)
	case "rmsprop":
		rmsprop := optimizer.DefaultRMSPropConfig()
		rmsprop.LearningRate = config.LearningRate
		rmsprop.Momentum = config.Momentum
		rmsprop.WeightDecay = config.WeightDecay
		if config.Epsilon != 0 {
			rmsprop.Epsilon = config.Epsilon
		}
		return optimizer.NewRMSPropOptimizer(rmsprop, params)
	default:
		return nil, fmt.Errorf("unknown optimizer type %q", config.Type)
	}
}
