package face

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Tier names.
const (
	TierLandmark = "landmark"
	TierCount    = "count"
)

// ErrNoDetector is returned when no loader produced a detector.
var ErrNoDetector = errors.New("no face detector available")

// Point is a landmark position in image coordinates.
type Point struct {
	X, Y float64
}

// Landmarks holds the geometry gaze estimation needs.
type Landmarks struct {
	LeftEye  Point
	RightEye Point
	Nose     Point
}

// Face is one detected face. Landmarks is nil for count-only detectors.
type Face struct {
	Box       image.Rectangle
	Landmarks *Landmarks
}

// Detector finds faces in a frame.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Face, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, f Frame) ([]Face, error)

// Detect calls fn(ctx, f).
func (fn DetectorFunc) Detect(ctx context.Context, f Frame) ([]Face, error) { return fn(ctx, f) }

// Loader initializes one detector tier.
type Loader struct {
	Name string
	Load func(ctx context.Context) (Detector, error)
}

// Tier is the detector chosen at start-up.
type Tier struct {
	Name     string
	Detector Detector
}

// SelectTier tries loaders in order and returns the first that loads.
func SelectTier(ctx context.Context, loaders ...Loader) (Tier, error) {
	var errs []error
	for _, l := range loaders {
		if l.Load == nil {
			continue
		}
		d, err := l.Load(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
			continue
		}
		if d == nil {
			errs = append(errs, fmt.Errorf("%s: loader returned no detector", l.Name))
			continue
		}
		return Tier{Name: l.Name, Detector: d}, nil
	}
	return Tier{}, errors.Join(append([]error{ErrNoDetector}, errs...)...)
}
