package model

import (
	"encoding/json"
	"time"
)

// Job represents one video analysis request.
//
// The record is mutated only by the pipeline worker (status/result fields)
// and by the deletion endpoint. Summary and Result are set if and only if
// the job completed; Error is set if and only if it failed.
type Job struct {
	ID             string          `json:"id"`
	Filename       string          `json:"filename"`
	FilePath       string          `json:"filePath"`
	VisionFilePath string          `json:"visionFilePath,omitempty"`
	Status         JobStatus       `json:"status"`
	CurrentStage   string          `json:"currentStage,omitempty"`
	Summary        *string         `json:"summary,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// PipelineTaskPayload is the asynq task body for one analysis job.
type PipelineTaskPayload struct {
	JobID     string `json:"jobId"`
	VideoPath string `json:"videoPath"`
}

// JobCreateResponse is returned by the upload endpoint.
type JobCreateResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is returned by the status endpoint.
type JobStatusResponse struct {
	JobID          string     `json:"jobId"`
	Filename       string     `json:"filename"`
	Status         JobStatus  `json:"status"`
	CurrentStage   string     `json:"currentStage,omitempty"`
	VisionFilePath string     `json:"visionFilePath,omitempty"`
	Summary        *string    `json:"summary,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// JobResultResponse is returned by the result endpoint for completed jobs.
type JobResultResponse struct {
	JobID          string        `json:"jobId"`
	Summary        string        `json:"summary"`
	Report         *FusionReport `json:"report"`
	VisionFilePath string        `json:"visionFilePath,omitempty"`
}

// JobDeleteResponse is returned by the delete endpoint.
type JobDeleteResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}
