package exam

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKey(t *testing.T) {
	Convey("Given session keys", t, func() {
		Convey("A complete key validates", func() {
			So(Key{CandidateID: "c", JobID: "j", AssessmentType: Coding}.Validate(), ShouldBeNil)
		})
		Convey("Missing ids are rejected", func() {
			So(errors.Is(Key{JobID: "j", AssessmentType: Coding}.Validate(), ErrInvalidKey), ShouldBeTrue)
		})
		Convey("Unknown assessment type is rejected", func() {
			So(errors.Is(Key{CandidateID: "c", JobID: "j", AssessmentType: "essay"}.Validate(), ErrInvalidKey), ShouldBeTrue)
		})
		Convey("String joins the components", func() {
			So(Key{CandidateID: "c", JobID: "j", AssessmentType: Technical}.String(), ShouldEqual, "c/j/technical")
		})
	})
}

func TestSession(t *testing.T) {
	Convey("Given a new session", t, func() {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		key := Key{CandidateID: "c", JobID: "j", AssessmentType: Coding}
		s := NewSession("id-1", key, 30*time.Minute, now)

		Convey("Then it starts active and in progress with the full duration", func() {
			So(s.IsActive, ShouldBeTrue)
			So(s.Status, ShouldEqual, StatusInProgress)
			So(s.TimeRemainingSeconds, ShouldEqual, 1800)
			So(s.Key(), ShouldResemble, key)
			So(s.Validate(), ShouldBeNil)
		})

		Convey("Then Clone does not share the code map", func() {
			s.CodesByQuestion[0] = "print(1)"
			c := s.Clone()
			c.CodesByQuestion[0] = "changed"
			So(s.CodesByQuestion[0], ShouldEqual, "print(1)")
		})

		Convey("Then a terminal session flagged active is invalid", func() {
			s.Status = StatusCompleted
			So(errors.Is(s.Validate(), ErrInvalidSession), ShouldBeTrue)
			s.IsActive = false
			So(s.Validate(), ShouldBeNil)
		})

		Convey("Then code maps survive JSON with integer keys", func() {
			s.CodesByQuestion[2] = "x := 1"
			raw, err := json.Marshal(s)
			So(err, ShouldBeNil)
			var back Session
			So(json.Unmarshal(raw, &back), ShouldBeNil)
			So(back.CodesByQuestion[2], ShouldEqual, "x := 1")
		})
	})

	Convey("Status terminality", t, func() {
		So(StatusInProgress.Terminal(), ShouldBeFalse)
		So(StatusCompleted.Terminal(), ShouldBeTrue)
		So(StatusMalpractice.Terminal(), ShouldBeTrue)
		So(Status("paused").Valid(), ShouldBeFalse)
	})
}
