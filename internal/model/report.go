package model

// BoundingBox locates a detected element within a frame, in pixels.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// DetectedElement is one UI element or anomaly found in a frame.
type DetectedElement struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"conf"`
	Box        *BoundingBox `json:"box,omitempty"`
	Text       string       `json:"text,omitempty"`
}

// VisualObservation is the set of detections for one sampled frame.
// Time is seconds from the start of the video.
type VisualObservation struct {
	Time       float64           `json:"time"`
	Detections []DetectedElement `json:"detections"`
}

// SpeechSegment is one transcribed utterance. Start and End are seconds
// from the start of the video, Start <= End. Text may be empty, never
// meaningfully null.
type SpeechSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// BugEvent links one utterance to the visual observations that fell inside
// its correlation window. Time is the utterance start truncated to whole
// seconds; the dashboard only needs second-granularity seek points.
type BugEvent struct {
	Time    int                 `json:"time"`
	Voice   string              `json:"voice"`
	Visuals []VisualObservation `json:"visuals"`
}

// FusionReport is the fused result persisted on the job record. Its JSON
// form must round-trip through the job store unchanged.
type FusionReport struct {
	Status    FusionStatus `json:"status"`
	BugEvents []BugEvent   `json:"bug_events"`
}
