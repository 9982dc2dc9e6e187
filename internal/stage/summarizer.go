package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buglens/api/internal/model"
)

// TextGenerator is the narrow contract the summarizer needs from an LLM
// backend.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Summarizer turns a fused report into a human-readable narrative. It is a
// best-effort network call: the caller substitutes a placeholder on any
// failure instead of failing the job.
type Summarizer struct {
	llm     TextGenerator
	timeout time.Duration
}

func NewSummarizer(llm TextGenerator, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Summarizer{llm: llm, timeout: timeout}
}

// Summarize builds a prompt from the fused events and asks the model for a
// short bug narrative. The call is bounded by the configured timeout.
func (s *Summarizer) Summarize(ctx context.Context, report *model.FusionReport) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.llm.Generate(ctx, BuildPrompt(report))
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// BuildPrompt renders the fused report as plain text for the model.
func BuildPrompt(report *model.FusionReport) string {
	var b strings.Builder
	b.WriteString("You are analyzing a screen recording of a software bug. ")
	b.WriteString("Below are moments where the reporter's speech coincided with on-screen findings. ")
	b.WriteString("Write a short plain-language summary of what went wrong.\n\n")

	if report.Status == model.FusionIncomplete {
		b.WriteString("Note: the recording contained no intelligible speech.\n")
	}

	for _, ev := range report.BugEvents {
		fmt.Fprintf(&b, "At %ds the reporter said: %q. On screen:", ev.Time, ev.Voice)
		for _, obs := range ev.Visuals {
			for _, det := range obs.Detections {
				fmt.Fprintf(&b, " %s (%.2f)", det.Label, det.Confidence)
				if det.Text != "" {
					fmt.Fprintf(&b, " reading %q", det.Text)
				}
			}
		}
		b.WriteString("\n")
	}

	if len(report.BugEvents) == 0 {
		b.WriteString("No corroborated events were found.\n")
	}

	return b.String()
}
