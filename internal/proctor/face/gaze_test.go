package face

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGazeEstimator(t *testing.T) {
	Convey("Given the default estimator", t, func() {
		g := GazeEstimator{Tolerance: defaultGazeTolerance, NeutralPitch: defaultNeutralPitch}
		eyes := func(nose Point) Landmarks {
			return Landmarks{LeftEye: Point{X: 100, Y: 100}, RightEye: Point{X: 160, Y: 100}, Nose: nose}
		}

		Convey("When the nose sits under the eye midpoint", func() {
			gaze, yaw, pitch := g.Estimate(eyes(Point{X: 130, Y: 130}))

			Convey("Then the candidate is centered", func() {
				So(gaze, ShouldEqual, GazeCentered)
				So(yaw, ShouldAlmostEqual, 0)
				So(pitch, ShouldAlmostEqual, 0)
			})
		})

		Convey("When the head turns sideways", func() {
			gaze, yaw, _ := g.Estimate(eyes(Point{X: 155, Y: 130}))

			Convey("Then yaw exceeds the band", func() {
				So(gaze, ShouldEqual, GazeAway)
				So(yaw, ShouldBeGreaterThan, defaultGazeTolerance)
			})
		})

		Convey("When the head tilts down", func() {
			gaze, _, pitch := g.Estimate(eyes(Point{X: 130, Y: 160}))

			Convey("Then pitch exceeds the band", func() {
				So(gaze, ShouldEqual, GazeAway)
				So(pitch, ShouldBeGreaterThan, defaultGazeTolerance)
			})
		})

		Convey("When the eyes coincide", func() {
			gaze, _, _ := g.Estimate(Landmarks{})

			Convey("Then gaze is unknown", func() {
				So(gaze, ShouldEqual, GazeUnknown)
			})
		})
	})
}
