package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/buglens/api/internal/config"
	"github.com/buglens/api/internal/model"
)

const (
	TaskTypePipeline = "pipeline:process"
	PipelineQueue    = "pipeline"

	// One unit of work per delivery; failed stages are fatal, retries are
	// an external policy.
	pipelineMaxRetry = 0
	pipelineTimeout  = 30 * time.Minute
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

// JobService manages job records and queues analysis work.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	uploadDir   string
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client, storage *config.StorageConfig) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
		uploadDir:   storage.UploadDir,
	}
}

// CreateJob persists the uploaded video, creates a PENDING record and
// enqueues the analysis task.
func (s *JobService) CreateJob(ctx context.Context, filename string, file io.Reader) (*model.JobCreateResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp4"
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	videoPath := filepath.Join(s.uploadDir, jobID+ext)
	dst, err := os.Create(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create video file: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(videoPath)
		return nil, fmt.Errorf("failed to save video: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(videoPath)
		return nil, fmt.Errorf("failed to save video: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Filename:  filename,
		FilePath:  videoPath,
		Status:    model.JobStatusPending,
		CreatedAt: now,
	}

	if err := s.SaveJob(ctx, job); err != nil {
		os.Remove(videoPath)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newPipelineTask(jobID, videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(PipelineQueue),
		asynq.MaxRetry(pipelineMaxRetry),
		asynq.Timeout(pipelineTimeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobCreateResponse{
		JobID:     jobID,
		Status:    model.JobStatusPending,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the externally visible state of a job.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:          job.ID,
		Filename:       job.Filename,
		Status:         job.Status,
		CurrentStage:   job.CurrentStage,
		VisionFilePath: job.VisionFilePath,
		Summary:        job.Summary,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}, nil
}

// GetResult returns the fused report of a completed job. The persisted
// payload round-trips unchanged.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.JobResultResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	var report model.FusionReport
	if err := json.Unmarshal(job.Result, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	summary := ""
	if job.Summary != nil {
		summary = *job.Summary
	}

	return &model.JobResultResponse{
		JobID:          job.ID,
		Summary:        summary,
		Report:         &report,
		VisionFilePath: job.VisionFilePath,
	}, nil
}

// DeleteJob removes the record and every video artifact the job owns.
func (s *JobService) DeleteJob(ctx context.Context, jobID string) (*model.JobDeleteResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.redis.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return nil, fmt.Errorf("failed to delete job record: %w", err)
	}

	for _, path := range []string{job.FilePath, job.VisionFilePath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to delete artifact %s: %w", path, err)
		}
	}

	return &model.JobDeleteResponse{Success: true, JobID: jobID}, nil
}

// SaveJob persists a job record. Records carry no TTL; jobs die only by
// explicit deletion.
func (s *JobService) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, 0).Err()
}

// GetJob loads a job record by id.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func newPipelineTask(jobID, videoPath string) (*asynq.Task, error) {
	payload := model.PipelineTaskPayload{
		JobID:     jobID,
		VideoPath: videoPath,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePipeline, data), nil
}
