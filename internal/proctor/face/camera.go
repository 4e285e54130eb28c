package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
)

// Capture acquires a video stream from the host.
type Capture interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture session.
type Stream interface {
	// Tracks returns the current video tracks.
	Tracks() []Track
	// Frame grabs the most recent frame.
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Surface displays the stream to the candidate. Hosts without a preview omit it.
type Surface interface {
	Attach(s Stream)
	Detach()
}

// TrackState mirrors a media track's ready state.
type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

// Track is one video track of a stream.
type Track struct {
	ID    string
	State TrackState
}

// Frame is one captured image.
type Frame struct {
	Seq   uint64
	Image image.Image
	At    time.Time
}

// Capture failure kinds. Capture implementations wrap one of these.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrUnsupported      = errors.New("camera capture unsupported")
)

// CameraError is returned when the stream cannot be acquired.
type CameraError struct {
	Reason string
	Err    error
}

func (e *CameraError) Error() string {
	return fmt.Sprintf("camera unavailable (%s): %v", e.Reason, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

// classifyCamera maps a capture error to its reason code. Unknown errors are UNSUPPORTED.
func classifyCamera(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return violation.ReasonPermissionDenied
	case errors.Is(err, ErrNoDevice):
		return violation.ReasonNoDevice
	case errors.Is(err, ErrDeviceBusy):
		return violation.ReasonDeviceBusy
	default:
		return violation.ReasonUnsupported
	}
}
