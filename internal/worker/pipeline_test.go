package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/buglens/api/internal/fusion"
	"github.com/buglens/api/internal/model"
	"github.com/buglens/api/internal/service"
)

// fakeStore is an in-memory JobStore recording every save.
type fakeStore struct {
	mu    sync.Mutex
	jobs  map[string]*model.Job
	saves []model.JobStatus
}

func newFakeStore(jobs ...*model.Job) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		cp := *j
		s.jobs[j.ID] = &cp
	}
	return s
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) SaveJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	s.saves = append(s.saves, job.Status)
	return nil
}

func (s *fakeStore) get(t *testing.T, jobID string) *model.Job {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		t.Fatalf("job %s missing from store", jobID)
	}
	cp := *job
	return &cp
}

type fakeVision struct {
	observations []model.VisualObservation
	annotated    string
	err          error
	calls        int
}

func (f *fakeVision) Analyze(_ context.Context, _, _, workDir string) ([]model.VisualObservation, string, error) {
	f.calls++
	if _, err := os.Stat(workDir); err != nil {
		return nil, "", errors.New("workspace missing during vision stage")
	}
	return f.observations, f.annotated, f.err
}

type fakeAudio struct {
	segments []model.SpeechSegment
	err      error
}

func (f *fakeAudio) Transcribe(_ context.Context, _, _ string) ([]model.SpeechSegment, error) {
	return f.segments, f.err
}

type fakeSummarizer struct {
	text string
	err  error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ *model.FusionReport) (string, error) {
	return f.text, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	stages   []string
	complete int
	failed   int
}

func (n *fakeNotifier) NotifyStage(_ string, _ model.JobStatus, stage string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stages = append(n.stages, stage)
}

func (n *fakeNotifier) NotifyComplete(_ string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.complete++
}

func (n *fakeNotifier) NotifyError(_, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
}

func pendingJob(id string) *model.Job {
	return &model.Job{
		ID:        id,
		Filename:  "bug.mp4",
		FilePath:  "/videos/" + id + ".mp4",
		Status:    model.JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func pipelineTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(model.PipelineTaskPayload{JobID: jobID, VideoPath: "/videos/" + jobID + ".mp4"})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return asynq.NewTask(service.TaskTypePipeline, data)
}

func newTestWorker(t *testing.T, store JobStore, vision VisionAnalyzer, audio AudioTranscriber, sum ReportSummarizer, hub Notifier) *PipelineWorker {
	t.Helper()
	pipeline := NewPipeline(vision, audio, sum, fusion.NewEngine(3.0), t.TempDir())
	return NewPipelineWorker(store, pipeline, hub)
}

func TestProcessTask_CompletesJob(t *testing.T) {
	store := newFakeStore(pendingJob("job-1"))
	vision := &fakeVision{
		observations: []model.VisualObservation{
			{Time: 5, Detections: []model.DetectedElement{{Label: "ErrorModal", Confidence: 0.9}}},
		},
		annotated: "/videos/job-1_annotated.mp4",
	}
	audio := &fakeAudio{segments: []model.SpeechSegment{{Start: 4, End: 6, Text: "why is this broken"}}}
	hub := &fakeNotifier{}

	w := newTestWorker(t, store, vision, audio, &fakeSummarizer{text: "The error modal appeared."}, hub)
	if err := w.ProcessTask(context.Background(), pipelineTask(t, "job-1")); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}

	job := store.get(t, "job-1")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.Summary == nil || *job.Summary != "The error modal appeared." {
		t.Errorf("unexpected summary: %v", job.Summary)
	}
	if job.VisionFilePath != "/videos/job-1_annotated.mp4" {
		t.Errorf("annotated path not persisted: %q", job.VisionFilePath)
	}
	if job.Error != nil {
		t.Errorf("completed job must not carry an error: %v", *job.Error)
	}
	if job.CompletedAt == nil {
		t.Error("completed job missing CompletedAt")
	}

	var report model.FusionReport
	if err := json.Unmarshal(job.Result, &report); err != nil {
		t.Fatalf("persisted result does not round-trip: %v", err)
	}
	if report.Status != model.FusionComplete || len(report.BugEvents) != 1 {
		t.Errorf("unexpected persisted report: %+v", report)
	}
	if report.BugEvents[0].Time != 4 || report.BugEvents[0].Voice != "why is this broken" {
		t.Errorf("unexpected event: %+v", report.BugEvents[0])
	}

	if hub.complete != 1 || hub.failed != 0 {
		t.Errorf("expected one complete notification, got complete=%d failed=%d", hub.complete, hub.failed)
	}
}

func TestProcessTask_PersistsProcessingBeforeStages(t *testing.T) {
	store := newFakeStore(pendingJob("job-2"))
	w := newTestWorker(t, store, &fakeVision{}, &fakeAudio{}, &fakeSummarizer{text: "ok"}, &fakeNotifier{})

	if err := w.ProcessTask(context.Background(), pipelineTask(t, "job-2")); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}

	if len(store.saves) == 0 || store.saves[0] != model.JobStatusProcessing {
		t.Errorf("first persisted status should be PROCESSING, saves: %v", store.saves)
	}
}

func TestProcessTask_StageFailureMarksFailed(t *testing.T) {
	store := newFakeStore(pendingJob("job-3"))
	vision := &fakeVision{err: errors.New("source unreadable: no such file")}
	hub := &fakeNotifier{}

	w := newTestWorker(t, store, vision, &fakeAudio{}, &fakeSummarizer{text: "x"}, hub)
	err := w.ProcessTask(context.Background(), pipelineTask(t, "job-3"))
	if err == nil {
		t.Fatal("expected error from failed stage")
	}

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != model.StageVision {
		t.Errorf("expected vision PipelineError, got %v", err)
	}

	job := store.get(t, "job-3")
	if job.Status != model.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.Error == nil || *job.Error == "" {
		t.Error("failed job must carry the causal error message")
	}
	if job.Result != nil || job.Summary != nil {
		t.Error("failed job must not persist partial results")
	}
	if hub.failed != 1 || hub.complete != 0 {
		t.Errorf("expected one error notification, got complete=%d failed=%d", hub.complete, hub.failed)
	}
}

func TestProcessTask_SummarizerFailureStillCompletes(t *testing.T) {
	store := newFakeStore(pendingJob("job-4"))
	vision := &fakeVision{
		observations: []model.VisualObservation{
			{Time: 2, Detections: []model.DetectedElement{{Label: "Spinner", Confidence: 0.8}}},
		},
	}
	audio := &fakeAudio{segments: []model.SpeechSegment{{Start: 1, End: 3, Text: "stuck loading"}}}
	sum := &fakeSummarizer{err: errors.New("connection refused")}

	w := newTestWorker(t, store, vision, audio, sum, &fakeNotifier{})
	if err := w.ProcessTask(context.Background(), pipelineTask(t, "job-4")); err != nil {
		t.Fatalf("summarizer failure must not fail the job: %v", err)
	}

	job := store.get(t, "job-4")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.Summary == nil || *job.Summary != SummaryUnavailable {
		t.Errorf("expected placeholder summary, got %v", job.Summary)
	}
	if job.Result == nil {
		t.Error("fused report must still be persisted")
	}
}

func TestProcessTask_EmptyAudioCompletesDegraded(t *testing.T) {
	store := newFakeStore(pendingJob("job-5"))
	vision := &fakeVision{
		observations: []model.VisualObservation{
			{Time: 1, Detections: []model.DetectedElement{{Label: "Toast", Confidence: 0.7}}},
		},
	}

	w := newTestWorker(t, store, vision, &fakeAudio{segments: []model.SpeechSegment{}}, &fakeSummarizer{text: "silent video"}, &fakeNotifier{})
	if err := w.ProcessTask(context.Background(), pipelineTask(t, "job-5")); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}

	job := store.get(t, "job-5")
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("no speech is a degraded signal, not a failure: got %s", job.Status)
	}

	var report model.FusionReport
	if err := json.Unmarshal(job.Result, &report); err != nil {
		t.Fatalf("persisted result does not round-trip: %v", err)
	}
	if report.Status != model.FusionIncomplete || len(report.BugEvents) != 0 {
		t.Errorf("expected Incomplete report with no events, got %+v", report)
	}
}

func TestProcessTask_TerminalJobNotRerun(t *testing.T) {
	job := pendingJob("job-6")
	job.Status = model.JobStatusCompleted
	store := newFakeStore(job)
	vision := &fakeVision{}

	w := newTestWorker(t, store, vision, &fakeAudio{}, &fakeSummarizer{text: "x"}, &fakeNotifier{})
	if err := w.ProcessTask(context.Background(), pipelineTask(t, "job-6")); err != nil {
		t.Fatalf("redelivered terminal job should ack, got %v", err)
	}
	if vision.calls != 0 {
		t.Error("terminal job must not re-run stages")
	}
	if len(store.saves) != 0 {
		t.Errorf("terminal job must not be re-persisted, saves: %v", store.saves)
	}
}

func TestProcessTask_MissingJobAcked(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(t, store, &fakeVision{}, &fakeAudio{}, &fakeSummarizer{text: "x"}, &fakeNotifier{})

	if err := w.ProcessTask(context.Background(), pipelineTask(t, "ghost")); err != nil {
		t.Fatalf("missing job should be dropped without error, got %v", err)
	}
}

func TestProcessTask_AlwaysEndsTerminal(t *testing.T) {
	cases := []struct {
		name   string
		vision *fakeVision
		audio  *fakeAudio
		sum    *fakeSummarizer
	}{
		{"success", &fakeVision{}, &fakeAudio{}, &fakeSummarizer{text: "ok"}},
		{"vision fails", &fakeVision{err: errors.New("boom")}, &fakeAudio{}, &fakeSummarizer{text: "ok"}},
		{"audio fails", &fakeVision{}, &fakeAudio{err: errors.New("no track")}, &fakeSummarizer{text: "ok"}},
		{"summarizer fails", &fakeVision{}, &fakeAudio{}, &fakeSummarizer{err: errors.New("down")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore(pendingJob("job-t"))
			w := newTestWorker(t, store, tc.vision, tc.audio, tc.sum, &fakeNotifier{})
			_ = w.ProcessTask(context.Background(), pipelineTask(t, "job-t"))

			job := store.get(t, "job-t")
			if !job.Status.IsTerminal() {
				t.Errorf("job left at %s after processing", job.Status)
			}
		})
	}
}

func TestPipeline_RemovesWorkspaceOnEveryExit(t *testing.T) {
	workRoot := t.TempDir()
	engine := fusion.NewEngine(3.0)

	t.Run("success", func(t *testing.T) {
		p := NewPipeline(&fakeVision{}, &fakeAudio{}, &fakeSummarizer{text: "ok"}, engine, workRoot)
		if _, perr := p.Run(context.Background(), "clean-1", "/videos/v.mp4", nil); perr != nil {
			t.Fatalf("unexpected pipeline error: %v", perr)
		}
		if _, err := os.Stat(workRoot + "/job-clean-1"); !os.IsNotExist(err) {
			t.Error("workspace not removed after success")
		}
	})

	t.Run("failure", func(t *testing.T) {
		p := NewPipeline(&fakeVision{}, &fakeAudio{err: errors.New("boom")}, &fakeSummarizer{text: "ok"}, engine, workRoot)
		if _, perr := p.Run(context.Background(), "clean-2", "/videos/v.mp4", nil); perr == nil {
			t.Fatal("expected pipeline error")
		}
		if _, err := os.Stat(workRoot + "/job-clean-2"); !os.IsNotExist(err) {
			t.Error("workspace not removed after failure")
		}
	})
}

func TestPipeline_StageOrder(t *testing.T) {
	var order []model.Stage
	p := NewPipeline(&fakeVision{}, &fakeAudio{}, &fakeSummarizer{text: "ok"}, fusion.NewEngine(3.0), t.TempDir())

	_, perr := p.Run(context.Background(), "order-1", "/videos/v.mp4", func(s model.Stage) {
		order = append(order, s)
	})
	if perr != nil {
		t.Fatalf("unexpected pipeline error: %v", perr)
	}

	want := []model.Stage{model.StageVision, model.StageAudio, model.StageFusion, model.StageSummarize}
	if len(order) != len(want) {
		t.Fatalf("expected %d stage notifications, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}
