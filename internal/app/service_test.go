package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testBatch(session string, at time.Time) violation.Batch {
	return violation.Batch{
		SessionID: session,
		Violations: []violation.Log{
			violation.New(violation.TabSwitch, at).WithReason(violation.ReasonTabVisible).WithDuration(4 * time.Second),
		},
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithQueueSize(10), service.WithDedupeSize(10))

		Convey("When it has not been started", func() {
			_, err := svc.GetSession(context.Background(), "x")

			Convey("Then operations report ErrNotStarted", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.Enqueue(context.Background(), testBatch("s", time.UnixMilli(1)), "fp"), ShouldBeFalse)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Size(), ShouldEqual, 0)
			})
		})

		Convey("When started twice and stopped twice", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats()
			So(stats[service.StatStarted], ShouldEqual, true)
			So(stats[service.StatWorkers], ShouldEqual, 2)
			So(stats[service.StatQueueCapacity], ShouldEqual, 10)
			So(stats[service.StatQueueLength], ShouldEqual, 0)
			So(stats, ShouldContainKey, service.StatActiveSessions)
			svc.Stop()
			svc.Stop()

			Convey("Then it ends stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_Dedupe(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		ctx := context.Background()

		Convey("When a fingerprint is seen twice", func() {
			first := svc.SeenAndRecord(ctx, "fp-1")
			second := svc.SeenAndRecord(ctx, "fp-1")

			Convey("Then only the second is a duplicate", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a fingerprint is unrecorded", func() {
			svc.SeenAndRecord(ctx, "fp-2")
			svc.Unrecord(ctx, "fp-2")

			Convey("Then it is accepted again", func() {
				So(svc.SeenAndRecord(ctx, "fp-2"), ShouldBeFalse)
			})
		})
	})
}

func TestService_Sessions(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		ctx := context.Background()
		key := exam.Key{CandidateID: "c1", JobID: "j1", AssessmentType: exam.Technical}

		Convey("When creating a session without an id", func() {
			sess := exam.NewSession("", key, 20*time.Minute, time.Now())
			created, err := svc.CreateSession(ctx, sess)

			Convey("Then an id is assigned and the session is findable", func() {
				So(err, ShouldBeNil)
				So(created.ID, ShouldNotBeEmpty)
				found, err := svc.FindActive(ctx, key)
				So(err, ShouldBeNil)
				So(found.ID, ShouldEqual, created.ID)
			})

			Convey("Then a second active session for the key is refused", func() {
				_, err := svc.CreateSession(ctx, exam.NewSession("", key, time.Minute, time.Now()))
				So(errors.Is(err, exam.ErrActiveExists), ShouldBeTrue)
			})

			Convey("Then updates are applied", func() {
				created.TimeRemainingSeconds = 600
				updated, err := svc.UpdateSession(ctx, created)
				So(err, ShouldBeNil)
				So(updated.TimeRemainingSeconds, ShouldEqual, 600)
				got, err := svc.GetSession(ctx, created.ID)
				So(err, ShouldBeNil)
				So(got.TimeRemainingSeconds, ShouldEqual, 600)
			})
		})

		Convey("When looking up with an invalid key", func() {
			_, err := svc.FindActive(ctx, exam.Key{CandidateID: "c1"})

			Convey("Then the key is rejected", func() {
				So(errors.Is(err, exam.ErrInvalidKey), ShouldBeTrue)
			})
		})
	})
}
