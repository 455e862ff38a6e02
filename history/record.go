// Package history persists one record per completed epoch: a plain-text
// append-only log plus optional MySQL and Redis mirrors of the same records.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNilSink       = errors.New("history sink is nil")
	ErrMalformedLine = errors.New("malformed history line")
)

// Record is the per-epoch history entry. Confusion matrices are stored in
// their serialized single-line form, e.g. "[1 0; 0 2]".
type Record struct {
	Epoch          int     `json:"epoch"`
	ModelFile      string  `json:"model_file"`
	TrainLoss      float64 `json:"train_loss"`
	ValLoss        float64 `json:"val_loss"`
	TrainAcc       float64 `json:"train_acc"`
	ValAcc         float64 `json:"val_acc"`
	TrainF1        float64 `json:"train_f1"`
	ValF1          float64 `json:"val_f1"`
	TrainPrecision float64 `json:"train_precision"`
	ValPrecision   float64 `json:"val_precision"`
	TrainRecall    float64 `json:"train_recall"`
	ValRecall      float64 `json:"val_recall"`
	TrainConfusion string  `json:"train_cm"`
	ValConfusion   string  `json:"val_cm"`
}

// Sink receives history records in epoch order.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// FormatLine renders rec as one line of key=value pairs in fixed order.
// The confusion matrices come last since they contain spaces.
func FormatLine(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "epoch=%d model=%s", rec.Epoch, rec.ModelFile)
	for _, kv := range []struct {
		key   string
		value float64
	}{
		{"train_loss", rec.TrainLoss},
		{"val_loss", rec.ValLoss},
		{"train_acc", rec.TrainAcc},
		{"val_acc", rec.ValAcc},
		{"train_f1", rec.TrainF1},
		{"val_f1", rec.ValF1},
		{"train_precision", rec.TrainPrecision},
		{"val_precision", rec.ValPrecision},
		{"train_recall", rec.TrainRecall},
		{"val_recall", rec.ValRecall},
	} {
		fmt.Fprintf(&b, " %s=%.6f", kv.key, kv.value)
	}
	fmt.Fprintf(&b, " train_cm=%s val_cm=%s", rec.TrainConfusion, rec.ValConfusion)
	return b.String()
}

// ParseLine is the inverse of FormatLine. Floats come back rounded to six
// decimals.
func ParseLine(line string) (Record, error) {
	var rec Record

	line = strings.TrimSpace(line)
	cmIdx := strings.Index(line, " train_cm=")
	valIdx := strings.Index(line, " val_cm=")
	if cmIdx < 0 || valIdx < cmIdx {
		return rec, fmt.Errorf("%w: missing confusion matrices", ErrMalformedLine)
	}
	rec.TrainConfusion = line[cmIdx+len(" train_cm=") : valIdx]
	rec.ValConfusion = line[valIdx+len(" val_cm="):]

	floats := map[string]*float64{
		"train_loss":      &rec.TrainLoss,
		"val_loss":        &rec.ValLoss,
		"train_acc":       &rec.TrainAcc,
		"val_acc":         &rec.ValAcc,
		"train_f1":        &rec.TrainF1,
		"val_f1":          &rec.ValF1,
		"train_precision": &rec.TrainPrecision,
		"val_precision":   &rec.ValPrecision,
		"train_recall":    &rec.TrainRecall,
		"val_recall":      &rec.ValRecall,
	}

	seen := 0
	for _, field := range strings.Fields(line[:cmIdx]) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return rec, fmt.Errorf("%w: field %q", ErrMalformedLine, field)
		}
		switch key {
		case "epoch":
			epoch, err := strconv.Atoi(value)
			if err != nil {
				return rec, fmt.Errorf("%w: epoch %q", ErrMalformedLine, value)
			}
			rec.Epoch = epoch
		case "model":
			rec.ModelFile = value
		default:
			dst, ok := floats[key]
			if !ok {
				return rec, fmt.Errorf("%w: unknown key %q", ErrMalformedLine, key)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return rec, fmt.Errorf("%w: %s=%q", ErrMalformedLine, key, value)
			}
			*dst = v
		}
		seen++
	}
	if seen != len(floats)+2 {
		return rec, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedLine, len(floats)+2, seen)
	}
	return rec, nil
}

// MultiSink appends to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, rec Record) error {
	for i, sink := range m {
		if sink == nil {
			return fmt.Errorf("sink %d: %w", i, ErrNilSink)
		}
		if err := sink.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
