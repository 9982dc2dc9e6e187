package stage

import (
	"context"
	"path/filepath"

	"github.com/buglens/api/internal/client"
	"github.com/buglens/api/internal/media"
	"github.com/buglens/api/internal/model"
)

// AudioStage extracts the audio track from a video and transcribes it.
type AudioStage struct {
	transcriber client.Transcriber
	extractor   *media.Extractor
}

func NewAudioStage(transcriber client.Transcriber, extractor *media.Extractor) *AudioStage {
	return &AudioStage{
		transcriber: transcriber,
		extractor:   extractor,
	}
}

// Transcribe writes a mono 16 kHz WAV into workDir and sends it to the
// transcriber. An empty segment list means the video had no intelligible
// speech; that is a degraded signal for the fusion engine, not an error.
func (s *AudioStage) Transcribe(ctx context.Context, videoPath, workDir string) ([]model.SpeechSegment, error) {
	audioPath := filepath.Join(workDir, "audio.wav")
	if err := s.extractor.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return nil, err
	}

	resp, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	segments := resp.Segments
	if segments == nil {
		segments = []model.SpeechSegment{}
	}
	return segments, nil
}
