// Package stage implements the perception passes the pipeline runs over a
// source video, plus the narrative summarizer.
package stage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/buglens/api/internal/client"
	"github.com/buglens/api/internal/config"
	"github.com/buglens/api/internal/media"
	"github.com/buglens/api/internal/model"
)

const annotatedPattern = "annotated_%04d.jpg"

// VisionStage samples frames from a video and runs each one through the
// detector service, producing timestamped visual observations.
type VisionStage struct {
	detector      client.UIDetector
	extractor     *media.Extractor
	frameRate     int
	minConfidence float64
	annotate      bool
	uploadDir     string
}

func NewVisionStage(detector client.UIDetector, extractor *media.Extractor, cfg *config.VisionConfig, uploadDir string) *VisionStage {
	return &VisionStage{
		detector:      detector,
		extractor:     extractor,
		frameRate:     cfg.FrameRate,
		minConfidence: cfg.MinConfidence,
		annotate:      cfg.Annotate,
		uploadDir:     uploadDir,
	}
}

// Analyze extracts frames into workDir and detects UI elements in each.
// Frames whose detections all fall below the confidence threshold produce
// no observation. When annotation is on and the detector returned an
// annotated copy of every frame, they are reassembled into an annotated
// video next to the uploads and its path is returned.
func (s *VisionStage) Analyze(ctx context.Context, videoPath, jobID, workDir string) ([]model.VisualObservation, string, error) {
	if _, err := s.extractor.Probe(ctx, videoPath); err != nil {
		return nil, "", err
	}

	frameDir := filepath.Join(workDir, "frames")
	frames, err := s.extractor.ExtractFrames(ctx, videoPath, frameDir, s.frameRate)
	if err != nil {
		return nil, "", err
	}

	annotatedDir := filepath.Join(workDir, "annotated")
	if s.annotate {
		if err := os.MkdirAll(annotatedDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create annotated dir: %w", err)
		}
	}

	var observations []model.VisualObservation
	annotatedCount := 0

	for i, frame := range frames {
		resp, err := s.detector.Detect(ctx, frame, s.annotate)
		if err != nil {
			return nil, "", fmt.Errorf("detection failed on %s: %w", filepath.Base(frame), err)
		}

		var kept []model.DetectedElement
		for _, det := range resp.Detections {
			if det.Confidence >= s.minConfidence {
				kept = append(kept, det)
			}
		}

		if len(kept) > 0 {
			t, err := media.FrameTime(frame, s.frameRate)
			if err != nil {
				return nil, "", err
			}
			observations = append(observations, model.VisualObservation{
				Time:       t,
				Detections: kept,
			})
		}

		if s.annotate && resp.AnnotatedImage != "" {
			if err := s.writeAnnotatedFrame(annotatedDir, i+1, resp.AnnotatedImage); err != nil {
				return nil, "", err
			}
			annotatedCount++
		}
	}

	annotatedPath := ""
	// Assembly needs a gapless frame sequence; a partial set is discarded.
	if s.annotate && annotatedCount == len(frames) && len(frames) > 0 {
		annotatedPath = filepath.Join(s.uploadDir, jobID+"_annotated.mp4")
		if err := s.extractor.AssembleVideo(ctx, annotatedDir, annotatedPattern, s.frameRate, annotatedPath); err != nil {
			// The annotated copy is a bonus artifact, not a stage output.
			log.Printf("Skipping annotated video for job %s: %v", jobID, err)
			annotatedPath = ""
		}
	}

	return observations, annotatedPath, nil
}

func (s *VisionStage) writeAnnotatedFrame(dir string, index int, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode annotated frame %d: %w", index, err)
	}
	path := filepath.Join(dir, fmt.Sprintf(annotatedPattern, index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write annotated frame %d: %w", index, err)
	}
	return nil
}
