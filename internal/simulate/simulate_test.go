package simulate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/http/api"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	svc := app.New(app.WithWorkerCount(2), app.WithQueueSize(1000), app.WithDatabasePath(":memory:"))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start backend: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv
}

func testConfig(url string) *Config {
	cfg := NewConfig(url)
	cfg.Candidates = 6
	cfg.Workers = 3
	cfg.Actions = 30
	cfg.Timeout = 2 * time.Second
	cfg.VerifyTimeout = 5 * time.Second
	return cfg
}

func TestGenerateScenario(t *testing.T) {
	Convey("Given a seeded configuration", t, func() {
		cfg := testConfig("")

		Convey("Then the same seed and index give the same scenario", func() {
			So(generateScenario(cfg, 3), ShouldResemble, generateScenario(cfg, 3))
		})

		Convey("Then another seed gives other candidates", func() {
			other := *cfg
			other.Seed = cfg.Seed + 1
			So(generateScenario(&other, 0).Candidate, ShouldNotEqual, generateScenario(cfg, 0).Candidate)
		})

		Convey("Then every scenario respects the bounds", func() {
			for i := 0; i < 50; i++ {
				s := generateScenario(cfg, i)
				So(len(s.Actions), ShouldBeLessThanOrEqualTo, cfg.Actions)

				var last time.Duration
				copied := false
				for _, a := range s.Actions {
					So(a.At, ShouldBeGreaterThanOrEqualTo, last)
					So(a.End(), ShouldBeLessThan, cfg.ExamDuration/usableShare)
					last = a.End() + time.Nanosecond
					switch a.Kind {
					case KindCopyEditor:
						copied = true
					case KindPasteInternal:
						So(copied, ShouldBeTrue)
					case KindPasteExternal:
						So(len(a.Text), ShouldBeGreaterThan, cfg.PasteMinLength)
					}
				}
			}
		})
	})
}

func TestSaveScenariosToFile(t *testing.T) {
	Convey("Given generated scenarios", t, func() {
		cfg := testConfig("")
		scenarios := []Scenario{generateScenario(cfg, 0), generateScenario(cfg, 1)}
		path := filepath.Join(t.TempDir(), "out", "scenarios.json")

		Convey("When they are saved", func() {
			So(saveScenariosToFile(context.Background(), path, scenarios), ShouldBeNil)

			Convey("Then the file reads back to the same scenarios", func() {
				raw, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				var got []Scenario
				So(json.Unmarshal(raw, &got), ShouldBeNil)
				So(got, ShouldResemble, scenarios)
			})
		})

		Convey("Then an empty set is refused", func() {
			So(saveScenariosToFile(context.Background(), path, nil), ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running backend", t, func() {
		srv := startBackend(t)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		Convey("When candidates run with auto-fail", func() {
			cfg := testConfig(srv.URL)
			cfg.OutputFile = filepath.Join(t.TempDir(), "scenarios.json")
			stats, err := Run(ctx, cfg)

			Convey("Then every stored log matches the local ones", func() {
				So(err, ShouldBeNil)
				So(stats.CandidatesGenerated, ShouldEqual, 6)
				So(stats.CandidatesRun, ShouldEqual, 6)
				So(stats.CandidatesFailed, ShouldEqual, 0)
				So(stats.Completed+stats.Malpractice, ShouldEqual, 6)
				So(stats.Mismatches, ShouldEqual, 0)
				So(stats.ViolationsStored, ShouldEqual, stats.ViolationsLogged)
				_, statErr := os.Stat(cfg.OutputFile)
				So(statErr, ShouldBeNil)
			})
		})

		Convey("When candidates run without auto-fail", func() {
			cfg := testConfig(srv.URL)
			cfg.AutoFail = false
			stats, err := Run(ctx, cfg)

			Convey("Then every session completes", func() {
				So(err, ShouldBeNil)
				So(stats.Completed, ShouldEqual, 6)
				So(stats.Malpractice, ShouldEqual, 0)
				So(stats.ViolationsStored, ShouldEqual, stats.ViolationsLogged)
			})
		})
	})

	Convey("Given an unreachable backend", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		cfg := testConfig(srv.URL)
		cfg.Timeout = time.Second

		Convey("Then the run stops at the health check", func() {
			stats, err := Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
			So(strings.Contains(err.Error(), "service health check failed"), ShouldBeTrue)
			So(stats.CandidatesGenerated, ShouldEqual, 0)
		})
	})
}
