package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler maps an epoch index to a learning rate. Implementations are
// pure so a resumed run reproduces the schedule from StartEpoch alone.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// ConstantLR keeps the base rate
type ConstantLR struct{}

func (ConstantLR) GetLR(epoch int, baseLR float64) float64 { return baseLR }

func (ConstantLR) GetName() string { return "ConstantLR" }

// StepLR multiplies the rate by Gamma every StepSize epochs
type StepLR struct {
	StepSize int
	Gamma    float64
}

// NewStepLR creates a step scheduler
func NewStepLR(stepSize int, gamma float64) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 || gamma > 1 {
		return nil, fmt.Errorf("gamma must be in (0, 1], got %g", gamma)
	}
	return &StepLR{StepSize: stepSize, Gamma: gamma}, nil
}

func (s *StepLR) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLR) GetName() string { return "StepLR" }

// ExponentialLR decays the rate by Gamma every epoch
type ExponentialLR struct {
	Gamma float64
}

func (s *ExponentialLR) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLR) GetName() string { return "ExponentialLR" }

// CosineAnnealingLR anneals from the base rate to EtaMin over TMax epochs
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

func (s *CosineAnnealingLR) GetLR(epoch int, baseLR float64) float64 {
	if s.TMax <= 0 || epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLR) GetName() string { return "CosineAnnealingLR" }

// NewScheduler builds a scheduler by name. An empty name or "constant" keeps
// the rate fixed; "step" uses stepSize and gamma; "exponential" uses gamma;
// "cosine" anneals to zero over numEpochs.
func NewScheduler(name string, stepSize int, gamma float64, numEpochs int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "", "constant":
		return ConstantLR{}, nil
	case "step":
		return NewStepLR(stepSize, gamma)
	case "exponential":
		if gamma <= 0 || gamma > 1 {
			return nil, fmt.Errorf("gamma must be in (0, 1], got %g", gamma)
		}
		return &ExponentialLR{Gamma: gamma}, nil
	case "cosine":
		return &CosineAnnealingLR{TMax: numEpochs}, nil
	default:
		return nil, fmt.Errorf("unknown lr scheduler %q", name)
	}
}
