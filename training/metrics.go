package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions over a fixed label set
// {0, ..., NumClasses-1}. Rows are ground truth, columns are predictions.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int

	// Cached metrics to avoid recomputation
	cachedMetrics map[MetricType]float64
	metricsValid  bool
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Update adds one count per (groundTruth[i], predicted[i]) pair. Nothing is
// counted when the input is rejected.
func (cm *ConfusionMatrix) Update(predicted, groundTruth []int) error {
	if err := validateLabels(predicted, groundTruth, cm.NumClasses); err != nil {
		return err
	}

	for i, truth := range groundTruth {
		cm.Matrix[truth][predicted[i]]++
	}
	cm.TotalSamples += len(groundTruth)

	cm.metricsValid = false
	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// GetMetric calculates and caches evaluation metrics
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if cm.metricsValid {
		if value, exists := cm.cachedMetrics[metric]; exists {
			return value
		}
	}

	var result float64

	switch metric {
	case MacroPrecision:
		result = cm.calculateMacroPrecision()
	case MacroRecall:
		result = cm.calculateMacroRecall()
	case MacroF1:
		result = cm.calculateMacroF1()
	case MicroPrecision:
		result = cm.calculateMicroPrecision()
	case MicroRecall:
		result = cm.calculateMicroRecall()
	case MicroF1:
		result = cm.calculateMicroF1()
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	cm.metricsValid = true
	return result
}

// perClass returns true positives, false positives and false negatives of a class.
func (cm *ConfusionMatrix) perClass(class int) (tp, fp, fn float64) {
	tp = float64(cm.Matrix[class][class])
	for other := 0; other < cm.NumClasses; other++ {
		if other == class {
			continue
		}
		fp += float64(cm.Matrix[other][class])
		fn += float64(cm.Matrix[class][other])
	}
	return tp, fp, fn
}

// Macro metrics average over every class of the label set. A class whose
// denominator is zero contributes 0.
func (cm *ConfusionMatrix) calculateMacroPrecision() float64 {
	if cm.NumClasses == 0 {
		return 0.0
	}

	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		tp, fp, _ := cm.perClass(class)
		sum += safeDiv(tp, tp+fp)
	}
	return sum / float64(cm.NumClasses)
}

func (cm *ConfusionMatrix) calculateMacroRecall() float64 {
	if cm.NumClasses == 0 {
		return 0.0
	}

	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		tp, _, fn := cm.perClass(class)
		sum += safeDiv(tp, tp+fn)
	}
	return sum / float64(cm.NumClasses)
}

// calculateMacroF1 is the mean of per-class F1 scores.
func (cm *ConfusionMatrix) calculateMacroF1() float64 {
	if cm.NumClasses == 0 {
		return 0.0
	}

	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		tp, fp, fn := cm.perClass(class)
		sum += safeDiv(2*tp, 2*tp+fp+fn)
	}
	return sum / float64(cm.NumClasses)
}

func (cm *ConfusionMatrix) calculateMicroPrecision() float64 {
	totalTP := 0.0
	totalFP := 0.0

	for class := 0; class < cm.NumClasses; class++ {
		tp, fp, _ := cm.perClass(class)
		totalTP += tp
		totalFP += fp
	}

	return safeDiv(totalTP, totalTP+totalFP)
}

func (cm *ConfusionMatrix) calculateMicroRecall() float64 {
	totalTP := 0.0
	totalFN := 0.0

	for class := 0; class < cm.NumClasses; class++ {
		tp, _, fn := cm.perClass(class)
		totalTP += tp
		totalFN += fn
	}

	return safeDiv(totalTP, totalTP+totalFN)
}

func (cm *ConfusionMatrix) calculateMicroF1() float64 {
	precision := cm.calculateMicroPrecision()
	recall := cm.calculateMicroRecall()

	if precision+recall == 0 {
		return 0.0
	}

	return 2 * (precision * recall) / (precision + recall)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

// Dense returns the counts as a gonum matrix.
func (cm *ConfusionMatrix) Dense() *mat.Dense {
	if cm.NumClasses == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, 0, cm.NumClasses*cm.NumClasses)
	for _, row := range cm.Matrix {
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(cm.NumClasses, cm.NumClasses, data)
}

// RowSums returns the number of samples of each ground-truth class.
func (cm *ConfusionMatrix) RowSums() []int {
	sums := make([]int, cm.NumClasses)
	if cm.NumClasses == 0 {
		return sums
	}
	dense := cm.Dense()
	ones := mat.NewVecDense(cm.NumClasses, nil)
	for i := 0; i < cm.NumClasses; i++ {
		ones.SetVec(i, 1)
	}
	var rows mat.VecDense
	rows.MulVec(dense, ones)
	for i := range sums {
		sums[i] = int(rows.AtVec(i))
	}
	return sums
}

// String renders the counts on one line, e.g. "[1 0; 0 12]".
func (cm *ConfusionMatrix) String() string {
	if cm.NumClasses == 0 {
		return "[]"
	}
	return fmt.Sprintf("%.0f", mat.Formatted(cm.Dense(), mat.FormatMATLAB()))
}

// ClassificationReport is the scored result of one phase.
type ClassificationReport struct {
	Accuracy  float64
	F1        float64
	Precision float64
	Recall    float64
	MicroF1   float64 // equals Accuracy for single-label predictions
	Confusion *ConfusionMatrix
}

// ComputeMetrics scores predicted class indices against ground truth over the
// fixed label set {0, ..., numClasses-1}. Precision, recall and F1 are macro
// averaged.
func ComputeMetrics(predicted, groundTruth []int, numClasses int) (*ClassificationReport, error) {
	cm := NewConfusionMatrix(numClasses)
	if err := cm.Update(predicted, groundTruth); err != nil {
		return nil, err
	}

	return &ClassificationReport{
		Accuracy:  cm.GetAccuracy(),
		F1:        cm.GetMetric(MacroF1),
		Precision: cm.GetMetric(MacroPrecision),
		Recall:    cm.GetMetric(MacroRecall),
		MicroF1:   cm.GetMetric(MicroF1),
		Confusion: cm,
	}, nil
}

func validateLabels(predicted, groundTruth []int, numClasses int) error {
	if numClasses <= 0 {
		return &InvalidInputError{Reason: fmt.Sprintf("number of classes must be positive, got %d", numClasses)}
	}
	if len(predicted) != len(groundTruth) {
		return &InvalidInputError{Reason: fmt.Sprintf("length mismatch: %d predictions, %d labels", len(predicted), len(groundTruth))}
	}
	if len(predicted) == 0 {
		return &InvalidInputError{Reason: "no samples"}
	}
	for i := range predicted {
		if predicted[i] < 0 || predicted[i] >= numClasses {
			return &InvalidInputError{Reason: fmt.Sprintf("prediction %d at position %d out of range [0, %d)", predicted[i], i, numClasses)}
		}
		if groundTruth[i] < 0 || groundTruth[i] >= numClasses {
			return &InvalidInputError{Reason: fmt.Sprintf("label %d at position %d out of range [0, %d)", groundTruth[i], i, numClasses)}
		}
	}
	return nil
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0.0
	}
	return num / den
}
