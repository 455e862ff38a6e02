package training

import (
	"fmt"
	"math"

	"github.com/hoopvision/overfit/tensor"
)

// Loss interface for all loss functions. Targets are class indices.
type Loss interface {
	Forward(predicted *tensor.Tensor, targets []int) (float64, error)
	Backward(predicted *tensor.Tensor, targets []int) (*tensor.Tensor, error)
}

// CrossEntropyLoss implements Cross Entropy loss function for classification
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes the Cross Entropy loss
// predicted: [batch_size, num_classes] logits
// targets: batch_size class indices
func (ce *CrossEntropyLoss) Forward(predicted *tensor.Tensor, targets []int) (float64, error) {
	probs, batchSize, numClasses, err := ce.softmax(predicted, targets)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for i, target := range targets {
		p := math.Max(probs[i*numClasses+target], 1e-12)
		total -= math.Log(p)
	}

	if ce.reduction == "mean" {
		total /= float64(batchSize)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("cross entropy loss is not finite: %v", total)
	}
	return total, nil
}

// Backward computes the gradient of Cross Entropy loss with respect to the
// logits: softmax(x) - onehot(target), scaled by 1/batch for mean reduction.
func (ce *CrossEntropyLoss) Backward(predicted *tensor.Tensor, targets []int) (*tensor.Tensor, error) {
	probs, batchSize, numClasses, err := ce.softmax(predicted, targets)
	if err != nil {
		return nil, err
	}

	for i, target := range targets {
		probs[i*numClasses+target] -= 1.0
	}

	scale := 1.0
	if ce.reduction == "mean" {
		scale = 1.0 / float64(batchSize)
	}
	grad := make([]float32, len(probs))
	for i, v := range probs {
		grad[i] = float32(v * scale)
	}
	return tensor.NewTensor(predicted.Shape, predicted.Device, grad)
}

// softmax validates the inputs and returns row-wise softmax probabilities.
func (ce *CrossEntropyLoss) softmax(logits *tensor.Tensor, targets []int) ([]float64, int, int, error) {
	if len(logits.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes], got shape %v", logits.Shape)
	}
	batchSize, numClasses := logits.Shape[0], logits.Shape[1]
	if len(targets) != batchSize {
		return nil, 0, 0, fmt.Errorf("batch size mismatch: predicted %d, target %d", batchSize, len(targets))
	}

	data := logits.Data()
	probs := make([]float64, len(data))
	for i := 0; i < batchSize; i++ {
		if targets[i] < 0 || targets[i] >= numClasses {
			return nil, 0, 0, fmt.Errorf("target class %d out of range [0, %d)", targets[i], numClasses)
		}

		row := data[i*numClasses : (i+1)*numClasses]
		maxVal := float64(row[0])
		for _, v := range row[1:] {
			maxVal = math.Max(maxVal, float64(v))
		}

		sum := 0.0
		for j, v := range row {
			e := math.Exp(float64(v) - maxVal)
			probs[i*numClasses+j] = e
			sum += e
		}
		for j := range row {
			probs[i*numClasses+j] /= sum
		}
	}
	return probs, batchSize, numClasses, nil
}
