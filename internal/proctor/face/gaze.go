package face

import "math"

// Gaze classifies where the candidate is looking.
type Gaze string

const (
	GazeUnknown  Gaze = ""
	GazeCentered Gaze = "centered"
	GazeAway     Gaze = "away"
)

const (
	defaultGazeTolerance = 0.35
	// Nose tip sits roughly half an interocular distance below the eye line
	// when the head faces the camera.
	defaultNeutralPitch = 0.5
)

// GazeEstimator classifies head orientation from eye and nose landmarks.
type GazeEstimator struct {
	Tolerance    float64
	NeutralPitch float64
}

// Estimate returns the classification and the normalized yaw and pitch offsets.
func (g GazeEstimator) Estimate(l Landmarks) (gaze Gaze, yaw, pitch float64) {
	midX := (l.LeftEye.X + l.RightEye.X) / 2
	midY := (l.LeftEye.Y + l.RightEye.Y) / 2
	inter := math.Hypot(l.RightEye.X-l.LeftEye.X, l.RightEye.Y-l.LeftEye.Y)
	if inter == 0 {
		return GazeUnknown, 0, 0
	}
	yaw = (l.Nose.X - midX) / inter
	pitch = (l.Nose.Y-midY)/inter - g.NeutralPitch
	if math.Abs(yaw) > g.Tolerance || math.Abs(pitch) > g.Tolerance {
		return GazeAway, yaw, pitch
	}
	return GazeCentered, yaw, pitch
}
