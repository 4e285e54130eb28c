package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "127.0.0.1:19080"
	}
	defer l.Close()
	return l.Addr().String()
}

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given PROCTOR_ environment variables", t, func() {
		_ = os.Setenv("PROCTOR_ADDR", ":8080")
		_ = os.Setenv("PROCTOR_QUEUE_SIZE", "1000")
		_ = os.Setenv("PROCTOR_WORKER_COUNT", "4")
		defer func() {
			_ = os.Unsetenv("PROCTOR_ADDR")
			_ = os.Unsetenv("PROCTOR_QUEUE_SIZE")
			_ = os.Unsetenv("PROCTOR_WORKER_COUNT")
		}()

		convey.Convey("Then configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})
}

func TestNewMux(t *testing.T) {
	convey.Convey("Given the backend mux over a started service", t, func() {
		ctx := context.Background()
		svc := app.New(app.WithWorkerCount(1))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		mux := newMux(ctx, svc)

		for _, path := range []string{"/healthz", "/stats", "/openapi.yaml", "/api-docs"} {
			convey.Convey("Then GET "+path+" is served", func() {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			})
		}

		convey.Convey("Then service metrics can be refreshed", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a configuration with a free address", t, func() {
		cfg := config.New(context.Background())
		cfg.Addr = freeAddr()
		cfg.DatabasePath = ":memory:"
		cfg.WorkerCount = 1
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg) }()

		convey.Convey("When the server is up and then cancelled", func() {
			var status int
			for i := 0; i < 50; i++ {
				resp, err := http.Post(fmt.Sprintf("http://%s/violations", cfg.Addr), "application/json",
					strings.NewReader(`{"session_id":"s1","violations":[{"type":"tab_switch","timestamp":1000,"duration":3}]}`))
				if err == nil {
					status = resp.StatusCode
					_ = resp.Body.Close()
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			cancel()

			convey.Convey("Then the batch was accepted and run returns cleanly", func() {
				convey.So(status, convey.ShouldEqual, http.StatusAccepted)
				convey.So(<-done, convey.ShouldBeNil)
			})
		})
	})
}
