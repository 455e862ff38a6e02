package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	if pb.current < pb.total {
		pb.current = pb.total
	}
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}

	filled := min(int(percentage*float64(pb.width)), pb.width)
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	// Calculate timing information
	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64

	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for key := range pb.metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}

	line += "]"

	// Carriage return overwrites previous line
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintParameterSummary writes one line per named parameter with its shape
// and whether it is trainable, followed by totals.
func PrintParameterSummary(out io.Writer, modelName string, model Module) {
	fmt.Fprintf(out, "Model: %s\n", modelName)
	fmt.Fprintln(out, strings.Repeat("─", 64))
	fmt.Fprintf(out, "%-28s %-20s %s\n", "Parameter", "Shape", "Trainable")
	fmt.Fprintln(out, strings.Repeat("─", 64))

	var total, trainable int64
	for _, p := range model.NamedParameters() {
		count := int64(p.Tensor.NumElems)
		total += count
		if p.Tensor.RequiresGrad() {
			trainable += count
		}
		fmt.Fprintf(out, "%-28s %-20s %t\n", p.Name, fmt.Sprint(p.Tensor.Shape), p.Tensor.RequiresGrad())
	}

	fmt.Fprintln(out, strings.Repeat("─", 64))
	fmt.Fprintf(out, "Total params: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Trainable params: %s\n", formatParameterCount(trainable))
	fmt.Fprintf(out, "Non-trainable params: %s\n", formatParameterCount(total-trainable))
}

// formatParameterCount formats parameter count with commas
func formatParameterCount(count int64) string {
	str := fmt.Sprintf("%d", count)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	pre := len(str) % 3
	if pre > 0 {
		b.WriteString(str[:pre])
	}
	for i := pre; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
