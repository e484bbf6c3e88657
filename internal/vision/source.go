package vision

import (
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// FrameSource wraps one camera. URIs that parse as a decimal integer open a
// local device index; anything else is treated as a stream URL. The capture
// buffer is pinned to a single frame so a slow consumer reads the freshest
// frame rather than a growing backlog.
type FrameSource struct {
	uri string
	cap *gocv.VideoCapture
}

// OpenSource opens the camera behind uri.
func OpenSource(uri string) (*FrameSource, error) {
	var cap *gocv.VideoCapture
	var err error
	if idx, convErr := strconv.Atoi(strings.TrimSpace(uri)); convErr == nil {
		cap, err = gocv.OpenVideoCapture(idx)
	} else {
		cap, err = gocv.OpenVideoCapture(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open camera source %q: %w", uri, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("camera source %q did not open", uri)
	}
	cap.Set(gocv.VideoCaptureBufferSize, 1)
	return &FrameSource{uri: uri, cap: cap}, nil
}

// Read decodes the next frame into dst. It reports false on timeout or
// decode failure; the scheduler simply skips that tick.
func (s *FrameSource) Read(dst *gocv.Mat) bool {
	if s.cap == nil {
		return false
	}
	return s.cap.Read(dst) && !dst.Empty()
}

// URI returns the source the camera was opened with.
func (s *FrameSource) URI() string { return s.uri }

// Close releases the capture handle.
func (s *FrameSource) Close() error {
	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	return err
}
