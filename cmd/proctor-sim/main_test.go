package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/proctor/internal/adapters/http/api"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestRootCmd(t *testing.T) {
	convey.Convey("Given the proctor-sim command", t, func() {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)

		convey.Convey("Then the defaults are registered as flags", func() {
			convey.So(cmd.Flags().Lookup("url").DefValue, convey.ShouldEqual, defaultURL)
			convey.So(cmd.Flags().Lookup("auto-fail").DefValue, convey.ShouldEqual, "true")
			convey.So(cmd.Flags().Lookup("max-violations").DefValue, convey.ShouldEqual, "5")
		})

		convey.Convey("When an unknown assessment type is given", func() {
			cmd.SetArgs([]string{"--assessment", "oral"})
			err := cmd.Execute()

			convey.Convey("Then the command fails before running", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "unknown assessment type")
			})
		})

		convey.Convey("When it runs against a live backend", func() {
			ctx := context.Background()
			svc := app.New(app.WithWorkerCount(2), app.WithDatabasePath(":memory:"))
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			mux := http.NewServeMux()
			api.NewServer(svc, svc).Register(ctx, mux)
			srv := httptest.NewServer(mux)
			defer func() {
				srv.Close()
				svc.Stop()
			}()

			cmd.SetArgs([]string{"--url", srv.URL, "--candidates", "3", "--workers", "2", "--actions", "15", "--seed", "7"})
			err := cmd.Execute()

			convey.Convey("Then the simulation verifies cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}
