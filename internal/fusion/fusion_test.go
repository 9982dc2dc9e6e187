package fusion

import (
	"encoding/json"
	"testing"

	"github.com/buglens/api/internal/model"
)

func obs(t float64, label string, conf float64) model.VisualObservation {
	return model.VisualObservation{
		Time: t,
		Detections: []model.DetectedElement{
			{Label: label, Confidence: conf},
		},
	}
}

func seg(start, end float64, text string) model.SpeechSegment {
	return model.SpeechSegment{Start: start, End: end, Text: text}
}

func TestFuse_CorrelatesSpeechWithVisuals(t *testing.T) {
	engine := NewEngine(3.0)

	visuals := []model.VisualObservation{obs(5, "ErrorModal", 0.9)}
	speech := []model.SpeechSegment{seg(4, 6, "why is this broken")}

	report := engine.Fuse(visuals, speech)

	if report.Status != model.FusionComplete {
		t.Fatalf("expected Complete status, got %s", report.Status)
	}
	if len(report.BugEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(report.BugEvents))
	}

	ev := report.BugEvents[0]
	if ev.Time != 4 {
		t.Errorf("expected anchor time 4, got %d", ev.Time)
	}
	if ev.Voice != "why is this broken" {
		t.Errorf("unexpected voice text: %q", ev.Voice)
	}
	if len(ev.Visuals) != 1 || ev.Visuals[0].Time != 5 {
		t.Errorf("expected the t=5 observation, got %+v", ev.Visuals)
	}
}

func TestFuse_NoCorroborationEmitsNoEvent(t *testing.T) {
	engine := NewEngine(3.0)

	// Observation at t=20 is far outside [7, 14].
	visuals := []model.VisualObservation{obs(20, "Toast", 0.8)}
	speech := []model.SpeechSegment{seg(10, 11, "ok next")}

	report := engine.Fuse(visuals, speech)

	if report.Status != model.FusionComplete {
		t.Fatalf("expected Complete status, got %s", report.Status)
	}
	if len(report.BugEvents) != 0 {
		t.Errorf("expected no events, got %d", len(report.BugEvents))
	}
}

func TestFuse_EmptyAudioReturnsIncomplete(t *testing.T) {
	engine := NewEngine(3.0)

	report := engine.Fuse([]model.VisualObservation{obs(1, "Spinner", 0.7)}, nil)

	if report.Status != model.FusionIncomplete {
		t.Errorf("expected Incomplete status, got %s", report.Status)
	}
	if len(report.BugEvents) != 0 {
		t.Errorf("expected no events, got %d", len(report.BugEvents))
	}
}

func TestFuse_EmptyAudioDistinctFromNoCorrelation(t *testing.T) {
	engine := NewEngine(3.0)

	noAudio := engine.Fuse(nil, nil)
	noMatch := engine.Fuse(nil, []model.SpeechSegment{seg(10, 11, "hm")})

	if noAudio.Status != model.FusionIncomplete {
		t.Errorf("no-audio report should be Incomplete, got %s", noAudio.Status)
	}
	if noMatch.Status != model.FusionComplete {
		t.Errorf("no-correlation report should be Complete, got %s", noMatch.Status)
	}
}

func TestFuse_WindowBoundsInclusive(t *testing.T) {
	engine := NewEngine(3.0)

	// Window for [4, 6] is exactly [1, 9].
	visuals := []model.VisualObservation{
		obs(1, "LowerEdge", 0.9),
		obs(9, "UpperEdge", 0.9),
		obs(0.9, "Below", 0.9),
		obs(9.1, "Above", 0.9),
	}
	report := engine.Fuse(visuals, []model.SpeechSegment{seg(4, 6, "edges")})

	if len(report.BugEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(report.BugEvents))
	}
	got := report.BugEvents[0].Visuals
	if len(got) != 2 || got[0].Time != 1 || got[1].Time != 9 {
		t.Errorf("expected exactly the t=1 and t=9 observations, got %+v", got)
	}
}

func TestFuse_WindowClampedAtZero(t *testing.T) {
	engine := NewEngine(3.0)

	// Segment [1, 2]: window lower bound is max(0, -2) = 0.
	visuals := []model.VisualObservation{obs(0, "Splash", 0.9)}
	report := engine.Fuse(visuals, []model.SpeechSegment{seg(1, 2, "start")})

	if len(report.BugEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(report.BugEvents))
	}
}

func TestFuse_OverlappingWindowsShareObservations(t *testing.T) {
	engine := NewEngine(3.0)

	// Observation at t=7 falls in both [2, 9] and [4, 11].
	visuals := []model.VisualObservation{obs(7, "Glitch", 0.95)}
	speech := []model.SpeechSegment{
		seg(5, 6, "first"),
		seg(7, 8, "second"),
	}

	report := engine.Fuse(visuals, speech)

	if len(report.BugEvents) != 2 {
		t.Fatalf("expected 2 events, got %d", len(report.BugEvents))
	}
	for _, ev := range report.BugEvents {
		if len(ev.Visuals) != 1 || ev.Visuals[0].Time != 7 {
			t.Errorf("event %q missing shared observation: %+v", ev.Voice, ev.Visuals)
		}
	}
}

func TestFuse_AnchorTimeTruncatesSubSeconds(t *testing.T) {
	engine := NewEngine(3.0)

	visuals := []model.VisualObservation{obs(5, "Modal", 0.9)}
	report := engine.Fuse(visuals, []model.SpeechSegment{seg(4.87, 6.2, "late")})

	if len(report.BugEvents) != 1 {
		t.Fatalf("expected 1 event, got %d", len(report.BugEvents))
	}
	if report.BugEvents[0].Time != 4 {
		t.Errorf("expected truncated anchor 4, got %d", report.BugEvents[0].Time)
	}
}

func TestFuse_SortsUnorderedSegments(t *testing.T) {
	engine := NewEngine(3.0)

	visuals := []model.VisualObservation{obs(5, "A", 0.9), obs(15, "B", 0.9)}
	speech := []model.SpeechSegment{
		seg(14, 16, "later"),
		seg(4, 6, "earlier"),
	}

	report := engine.Fuse(visuals, speech)

	if len(report.BugEvents) != 2 {
		t.Fatalf("expected 2 events, got %d", len(report.BugEvents))
	}
	if report.BugEvents[0].Voice != "earlier" || report.BugEvents[1].Voice != "later" {
		t.Errorf("events not in chronological order: %+v", report.BugEvents)
	}
	// Input must not be mutated by the defensive sort.
	if speech[0].Text != "later" {
		t.Error("input slice was reordered")
	}
}

func TestFuse_Idempotent(t *testing.T) {
	engine := NewEngine(3.0)

	visuals := []model.VisualObservation{
		obs(2, "Spinner", 0.6),
		obs(5, "ErrorModal", 0.9),
		obs(11, "Toast", 0.7),
	}
	speech := []model.SpeechSegment{
		seg(1, 3, "loading forever"),
		seg(4, 6, "there it is"),
	}

	first, err := json.Marshal(engine.Fuse(visuals, speech))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	second, err := json.Marshal(engine.Fuse(visuals, speech))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("fusion not deterministic:\n%s\n%s", first, second)
	}
}

func TestFuse_EmptyEventsMarshalAsArray(t *testing.T) {
	engine := NewEngine(3.0)

	data, err := json.Marshal(engine.Fuse(nil, nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"status":"Incomplete","bug_events":[]}`
	if string(data) != want {
		t.Errorf("unexpected wire form:\n got %s\nwant %s", data, want)
	}
}

func TestNewEngine_DefaultWindow(t *testing.T) {
	if w := NewEngine(0).Window(); w != DefaultWindow {
		t.Errorf("expected default window %v, got %v", DefaultWindow, w)
	}
	if w := NewEngine(-1).Window(); w != DefaultWindow {
		t.Errorf("expected default window %v, got %v", DefaultWindow, w)
	}
}
