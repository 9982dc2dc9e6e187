package model

// Job status
//
// Statuses are strictly monotonic: PENDING -> PROCESSING -> COMPLETED or
// FAILED. A terminal status is never left once written.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Pipeline stages, in execution order.
type Stage string

const (
	StageVision    Stage = "vision"
	StageAudio     Stage = "audio"
	StageFusion    Stage = "fusion"
	StageSummarize Stage = "summarize"
)

// Fusion report status
type FusionStatus string

const (
	// FusionComplete means the audio stream contributed at least one segment.
	FusionComplete FusionStatus = "Complete"
	// FusionIncomplete marks a degraded report: no speech was detected, so
	// no correlation could be attempted.
	FusionIncomplete FusionStatus = "Incomplete"
)
