package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/buglens/api/internal/fusion"
	"github.com/buglens/api/internal/model"
)

// SummaryUnavailable is persisted in place of the narrative when the
// language model cannot be reached. The structured report remains the
// primary artifact.
const SummaryUnavailable = "Summary unavailable: the language model could not be reached. The fused report is complete."

const stageWorkspace = model.Stage("workspace")

// VisionAnalyzer produces timestamped visual observations from a video,
// optionally with an annotated copy of it.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, videoPath, jobID, workDir string) ([]model.VisualObservation, string, error)
}

// AudioTranscriber produces timestamped speech segments from a video. An
// empty result is valid.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, videoPath, workDir string) ([]model.SpeechSegment, error)
}

// ReportSummarizer turns a fused report into a narrative.
type ReportSummarizer interface {
	Summarize(ctx context.Context, report *model.FusionReport) (string, error)
}

// PipelineOutput is the complete result of a successful run.
type PipelineOutput struct {
	Report        *model.FusionReport
	Summary       string
	AnnotatedPath string
}

// PipelineError identifies which stage failed and why. Stage failures are
// fatal to the job; the worker maps this into the FAILED record.
type PipelineError struct {
	Stage model.Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Pipeline drives one job through vision, audio, fusion and summarization.
// Stages run strictly sequentially; a failure in any of the first three
// aborts the run, while a summarizer failure only degrades the summary.
type Pipeline struct {
	vision     VisionAnalyzer
	audio      AudioTranscriber
	summarizer ReportSummarizer
	engine     *fusion.Engine
	workRoot   string
}

func NewPipeline(vision VisionAnalyzer, audio AudioTranscriber, summarizer ReportSummarizer, engine *fusion.Engine, workRoot string) *Pipeline {
	return &Pipeline{
		vision:     vision,
		audio:      audio,
		summarizer: summarizer,
		engine:     engine,
		workRoot:   workRoot,
	}
}

// Run executes the stage sequence for one job. The per-job scratch
// directory is namespaced by job id and removed on every exit path, so
// concurrent jobs never touch each other's artifacts. progress, if
// non-nil, is invoked at the start of each stage.
func (p *Pipeline) Run(ctx context.Context, jobID, videoPath string, progress func(model.Stage)) (*PipelineOutput, *PipelineError) {
	notify := func(s model.Stage) {
		if progress != nil {
			progress(s)
		}
	}

	workDir := filepath.Join(p.workRoot, "job-"+jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &PipelineError{Stage: stageWorkspace, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("Failed to clean up workspace for job %s: %v", jobID, err)
		}
	}()

	notify(model.StageVision)
	visuals, annotatedPath, err := p.vision.Analyze(ctx, videoPath, jobID, workDir)
	if err != nil {
		return nil, &PipelineError{Stage: model.StageVision, Err: err}
	}

	notify(model.StageAudio)
	segments, err := p.audio.Transcribe(ctx, videoPath, workDir)
	if err != nil {
		return nil, &PipelineError{Stage: model.StageAudio, Err: err}
	}

	notify(model.StageFusion)
	report := p.engine.Fuse(visuals, segments)

	notify(model.StageSummarize)
	summary, err := p.summarizer.Summarize(ctx, report)
	if err != nil {
		log.Printf("Summarizer degraded for job %s: %v", jobID, err)
		summary = SummaryUnavailable
	}

	return &PipelineOutput{
		Report:        report,
		Summary:       summary,
		AnnotatedPath: annotatedPath,
	}, nil
}
