package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/buglens/api/internal/model"
	"github.com/buglens/api/internal/service"
)

// JobStore is the slice of the job record store the worker needs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	SaveJob(ctx context.Context, job *model.Job) error
}

// Notifier pushes job progress to subscribers.
type Notifier interface {
	NotifyStage(jobID string, status model.JobStatus, stage string)
	NotifyComplete(jobID string, result interface{})
	NotifyError(jobID, code, message string)
}

// PipelineWorker processes video analysis tasks. It owns all writes to the
// job record after creation: the PROCESSING transition before any stage
// runs, and exactly one terminal transition afterwards.
type PipelineWorker struct {
	store    JobStore
	pipeline *Pipeline
	hub      Notifier
}

func NewPipelineWorker(store JobStore, pipeline *Pipeline, hub Notifier) *PipelineWorker {
	return &PipelineWorker{
		store:    store,
		pipeline: pipeline,
		hub:      hub,
	}
}

// ProcessTask handles one analysis task end to end.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := payload.JobID
	log.Printf("Starting analysis job: %s", jobID)

	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			// The record was deleted before delivery; nothing to transition.
			log.Printf("Job %s not found, dropping task", jobID)
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if job.Status.IsTerminal() {
		// Redelivered task for a finished job. Terminal states are never
		// re-entered, so acknowledge without running.
		log.Printf("Job %s already %s, dropping task", jobID, job.Status)
		return nil
	}

	// Persist PROCESSING before any stage runs so status checks observe
	// progress immediately.
	now := time.Now()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &now
	if err := w.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s processing: %w", jobID, err)
	}

	progress := func(s model.Stage) {
		job.CurrentStage = string(s)
		if err := w.store.SaveJob(ctx, job); err != nil {
			log.Printf("Failed to record stage %s for job %s: %v", s, jobID, err)
		}
		w.hub.NotifyStage(jobID, model.JobStatusProcessing, string(s))
	}

	out, perr := w.pipeline.Run(ctx, jobID, job.FilePath, progress)
	if perr != nil {
		w.failJob(ctx, job, perr)
		return perr
	}

	resultBytes, err := json.Marshal(out.Report)
	if err != nil {
		w.failJob(ctx, job, &PipelineError{Stage: model.StageFusion, Err: err})
		return fmt.Errorf("failed to marshal report for job %s: %w", jobID, err)
	}

	done := time.Now()
	job.Status = model.JobStatusCompleted
	job.CurrentStage = ""
	job.Result = resultBytes
	job.Summary = &out.Summary
	job.VisionFilePath = out.AnnotatedPath
	job.CompletedAt = &done

	if err := w.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist result for job %s: %w", jobID, err)
	}

	w.hub.NotifyComplete(jobID, out.Report)
	log.Printf("Analysis job %s completed (%d events, fusion %s)", jobID, len(out.Report.BugEvents), out.Report.Status)
	return nil
}

// failJob writes the single terminal FAILED transition. No partial results
// are persisted alongside the error.
func (w *PipelineWorker) failJob(ctx context.Context, job *model.Job, perr *PipelineError) {
	msg := perr.Error()
	now := time.Now()

	job.Status = model.JobStatusFailed
	job.CurrentStage = ""
	job.Error = &msg
	job.Result = nil
	job.Summary = nil
	job.CompletedAt = &now

	if err := w.store.SaveJob(ctx, job); err != nil {
		log.Printf("Failed to persist failure for job %s: %v", job.ID, err)
		return
	}

	w.hub.NotifyError(job.ID, "PIPELINE_FAILED", msg)
	log.Printf("Analysis job %s failed: %s", job.ID, msg)
}
