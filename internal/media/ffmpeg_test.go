package media

import "testing"

func TestFrameTime(t *testing.T) {
	tests := []struct {
		path string
		fps  int
		want float64
	}{
		{"/tmp/job-x/frames/frame_0001.jpg", 1, 0},
		{"/tmp/job-x/frames/frame_0002.jpg", 1, 1},
		{"/tmp/job-x/frames/frame_0011.jpg", 1, 10},
		{"/tmp/job-x/frames/frame_0003.jpg", 2, 1},
		{"frame_0005.jpg", 0, 4}, // fps <= 0 falls back to 1
	}

	for _, tt := range tests {
		got, err := FrameTime(tt.path, tt.fps)
		if err != nil {
			t.Errorf("FrameTime(%q, %d) returned error: %v", tt.path, tt.fps, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FrameTime(%q, %d) = %v, want %v", tt.path, tt.fps, got, tt.want)
		}
	}
}

func TestFrameTime_RejectsMalformedNames(t *testing.T) {
	for _, path := range []string{
		"frames/snapshot.jpg",
		"frames/frame_abc.jpg",
		"frames/frame_0000.jpg",
	} {
		if _, err := FrameTime(path, 1); err == nil {
			t.Errorf("FrameTime(%q) expected error, got nil", path)
		}
	}
}
