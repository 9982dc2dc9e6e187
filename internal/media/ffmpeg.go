// Package media wraps ffmpeg/ffprobe for frame and audio extraction.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const framePattern = "frame_%04d.jpg"

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Probe verifies that the input is a readable video container and returns
// its duration in seconds.
func (e *Extractor) Probe(ctx context.Context, inputPath string) (float64, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return 0, fmt.Errorf("source video missing: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, "ffprobe", args...)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("source unreadable: ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("source unreadable: no duration in container: %w", err)
	}

	return duration, nil
}

// ExtractFrames samples the video at the given rate into outputDir and
// returns the frame paths in temporal order.
func (e *Extractor) ExtractFrames(ctx context.Context, inputPath, outputDir string, fps int) ([]string, error) {
	if fps <= 0 {
		fps = 1
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}

	args := []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-y", filepath.Join(outputDir, framePattern),
	}
	if err := run(ctx, "ffmpeg", args); err != nil {
		return nil, fmt.Errorf("frame extraction failed: %w", err)
	}

	frames, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	sort.Strings(frames)
	return frames, nil
}

// ExtractAudio writes the audio track as mono 16 kHz WAV, the input format
// the transcriber expects.
func (e *Extractor) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-y", outputPath,
	}
	if err := run(ctx, "ffmpeg", args); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}
	return nil
}

// AssembleVideo muxes a directory of annotated frames back into an H264
// video at the given frame rate.
func (e *Extractor) AssembleVideo(ctx context.Context, frameDir, pattern string, fps int, outputPath string) error {
	if fps <= 0 {
		fps = 1
	}
	args := []string{
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(frameDir, pattern),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y", outputPath,
	}
	if err := run(ctx, "ffmpeg", args); err != nil {
		return fmt.Errorf("annotated video assembly failed: %w", err)
	}
	return nil
}

// FrameTime maps a frame path produced by ExtractFrames to seconds from
// the start of the video. Frames are numbered from 1.
func FrameTime(framePath string, fps int) (float64, error) {
	if fps <= 0 {
		fps = 1
	}
	idx, err := frameIndex(framePath)
	if err != nil {
		return 0, err
	}
	return float64(idx-1) / float64(fps), nil
}

func frameIndex(framePath string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(framePath), filepath.Ext(framePath))
	numeric := strings.TrimPrefix(stem, "frame_")
	idx, err := strconv.Atoi(numeric)
	if err != nil {
		return 0, fmt.Errorf("unexpected frame name %q: %w", framePath, err)
	}
	if idx < 1 {
		return 0, fmt.Errorf("unexpected frame index %d in %q", idx, framePath)
	}
	return idx, nil
}

// run executes a command, surfacing stderr in the returned error since
// ffmpeg writes its diagnostics there.
func run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %s: %w", name, msg, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
