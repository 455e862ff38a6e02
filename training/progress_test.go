package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hoopvision/overfit/tensor"
)

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	pb := NewProgressBar(&out, "train", 4)

	for i := 1; i <= 2; i++ {
		pb.Update(i, map[string]float64{"loss": 1.5, "acc": 0.25})
	}
	if !strings.Contains(out.String(), "train:  50%") {
		t.Errorf("expected 50%% progress, got %q", out.String())
	}
	if !strings.Contains(out.String(), "acc=25.00%") || !strings.Contains(out.String(), "loss=1.500") {
		t.Errorf("metrics not rendered: %q", out.String())
	}
	// metrics render in sorted order
	if strings.Index(out.String(), "acc=") > strings.Index(out.String(), "loss=") {
		t.Errorf("metrics out of order: %q", out.String())
	}

	pb.UpdateMetrics(map[string]float64{"lr": 0.001})
	if !strings.Contains(out.String(), "lr=0.001") {
		t.Errorf("UpdateMetrics did not render: %q", out.String())
	}

	pb.Finish()
	if !strings.Contains(out.String(), "4/4") || !strings.HasSuffix(out.String(), "\n") {
		t.Errorf("Finish should complete the bar and end the line: %q", out.String())
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var out bytes.Buffer
	pb := NewProgressBar(&out, "val", 0)
	pb.Finish()
	if !strings.Contains(out.String(), "100%") {
		t.Errorf("empty bar should render complete: %q", out.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{12*time.Minute + 5*time.Second, "12:05"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatParameterCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		12345:    "12,345",
		1234567:  "1,234,567",
		33000000: "33,000,000",
	}
	for in, want := range tests {
		if got := formatParameterCount(in); got != want {
			t.Errorf("formatParameterCount(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestPrintParameterSummary(t *testing.T) {
	model := newTestClassifier(t, tensor.CPU)
	FreezeAllExcept(model, "fc")

	var out bytes.Buffer
	PrintParameterSummary(&out, "video_classifier", model)
	text := out.String()

	// stem 6*8+8, layer4 8*8+8, fc 8*3+3
	for _, want := range []string{
		"Model: video_classifier",
		"stem.0.weight",
		"fc.bias",
		"Total params: 155",
		"Trainable params: 27",
		"Non-trainable params: 128",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
