package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then metrics are registered under the proctor namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.violationsRecorded.WithLabelValues("tab_switch").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "proctor_violations_recorded_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("exam"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names carry namespace and subsystem", func() {
				manager.sessionsActive.Set(2)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "exam_engine_sessions_active")
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording violations", func() {
			before := testutil.ToFloat64(globalManager.violationsRecorded.WithLabelValues("copy_attempt"))
			RecordViolation("copy_attempt")
			RecordViolation("copy_attempt")

			Convey("Then the per-type counter increases", func() {
				after := testutil.ToFloat64(globalManager.violationsRecorded.WithLabelValues("copy_attempt"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When adjusting gauges", func() {
			AddSessionsActive(1)
			AddSessionsActive(1)
			AddSessionsActive(-1)
			UpdateSyncPending(7)
			UpdateQueueSize(3)

			Convey("Then gauges reflect the latest values", func() {
				So(testutil.ToFloat64(globalManager.syncPendingViolations), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
			})
		})

		Convey("When recording every other metric", func() {
			So(func() {
				RecordViolationRejected("duplicate")
				RecordSessionTransition("active")
				RecordFaceAnalysisTick("primary")
				RecordFaceDetectorError()
				RecordCameraFailure("NO_DEVICE")
				RecordSyncFlush("violations", "ok")
				RecordSyncLatency("checkpoint", 12)
				RecordViolationsIngested(4)
				RecordViolationDuplicate()
				RecordRepositoryWriteLatency(1.5)
				RecordRepositoryQueryLatency(0.5)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.03)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(4)
				AddWorkerActive(1)
				AddWorkerActive(-1)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordHTTPRequest("/violations", "POST", "202")
				RecordHTTPRequestDuration("/violations", "POST", "202", 3)
				RecordError("sync", "timeout")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
