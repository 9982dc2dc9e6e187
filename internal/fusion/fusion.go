// Package fusion correlates independently-timestamped vision and audio
// streams into ordered bug events using a time-window join.
package fusion

import (
	"math"
	"sort"

	"github.com/buglens/api/internal/model"
)

// DefaultWindow is the correlation window size in seconds.
const DefaultWindow = 3.0

// Engine joins visual observations to speech segments. It is a pure
// function of its inputs plus the configured window: no side effects,
// deterministic, safe to call concurrently.
type Engine struct {
	window float64
}

// NewEngine creates an engine with the given window size in seconds.
// A non-positive window falls back to DefaultWindow.
func NewEngine(window float64) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{window: window}
}

// Window returns the configured window size in seconds.
func (e *Engine) Window() float64 {
	return e.window
}

// Fuse builds a report linking each speech segment to the visual
// observations inside its correlation window [max(0, start-W), end+W],
// bounds inclusive.
//
// A segment with no observation in its window emits no event: only
// multi-modal corroborated events are reported. Windows of consecutive
// segments may overlap, so one observation can appear in several events.
//
// Segments are expected in chronological order by start time; unsorted
// input is sorted on a copy rather than rejected. An empty segment list
// yields a degraded Incomplete report so callers can tell "no audio" apart
// from "no correlation found".
func (e *Engine) Fuse(visuals []model.VisualObservation, speech []model.SpeechSegment) *model.FusionReport {
	report := &model.FusionReport{
		Status:    model.FusionComplete,
		BugEvents: []model.BugEvent{},
	}

	if len(speech) == 0 {
		report.Status = model.FusionIncomplete
		return report
	}

	speech = sortedByStart(speech)

	for _, seg := range speech {
		lo := math.Max(0, seg.Start-e.window)
		hi := seg.End + e.window

		var matched []model.VisualObservation
		for _, obs := range visuals {
			if obs.Time >= lo && obs.Time <= hi {
				matched = append(matched, obs)
			}
		}

		if len(matched) == 0 {
			continue
		}

		report.BugEvents = append(report.BugEvents, model.BugEvent{
			Time:    int(seg.Start),
			Voice:   seg.Text,
			Visuals: matched,
		})
	}

	return report
}

// sortedByStart returns the segments ordered by start time, copying only
// when the input is out of order.
func sortedByStart(speech []model.SpeechSegment) []model.SpeechSegment {
	sorted := sort.SliceIsSorted(speech, func(i, j int) bool {
		return speech[i].Start < speech[j].Start
	})
	if sorted {
		return speech
	}
	out := make([]model.SpeechSegment, len(speech))
	copy(out, speech)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}
