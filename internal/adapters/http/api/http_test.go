package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// Mock implementations for testing
type mockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockDeduper) SeenAndRecord(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDeduper) Unrecord(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}

func (m *mockDeduper) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.seen))
}

type mockDependencies struct {
	mockDeduper

	enqueueSuccess bool
	enqueued       []violation.Batch

	sessions map[string]exam.Session
	logs     map[string][]violation.Log
	storeErr error
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		enqueueSuccess: true,
		sessions:       map[string]exam.Session{},
		logs:           map[string][]violation.Log{},
	}
}

func (m *mockDependencies) Enqueue(_ context.Context, b violation.Batch, _ string) bool {
	if !m.enqueueSuccess {
		return false
	}
	m.enqueued = append(m.enqueued, b)
	return true
}

func (m *mockDependencies) FindActive(_ context.Context, key exam.Key) (exam.Session, error) {
	if m.storeErr != nil {
		return exam.Session{}, m.storeErr
	}
	for _, s := range m.sessions {
		if s.IsActive && s.Key() == key {
			return s, nil
		}
	}
	return exam.Session{}, exam.ErrNotFound
}

func (m *mockDependencies) CreateSession(ctx context.Context, sess exam.Session) (exam.Session, error) {
	if _, err := m.FindActive(ctx, sess.Key()); err == nil {
		return exam.Session{}, exam.ErrActiveExists
	}
	if sess.ID == "" {
		sess.ID = fmt.Sprintf("s-%d", len(m.sessions)+1)
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *mockDependencies) GetSession(_ context.Context, id string) (exam.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return exam.Session{}, exam.ErrNotFound
	}
	return s, nil
}

func (m *mockDependencies) UpdateSession(_ context.Context, sess exam.Session) (exam.Session, error) {
	old, ok := m.sessions[sess.ID]
	if !ok {
		return exam.Session{}, exam.ErrNotFound
	}
	if old.Status.Terminal() && old.Status != sess.Status {
		return exam.Session{}, repository.ErrSessionClosed
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *mockDependencies) Violations(_ context.Context, id string) ([]violation.Log, error) {
	return m.logs[id], nil
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]any{"started": true}})
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func batchBody(session string, ts int64) string {
	b := violation.Batch{
		SessionID:   session,
		CandidateID: "c1",
		JobID:       "j1",
		Violations: []violation.Log{
			violation.New(violation.TabSwitch, time.UnixMilli(ts)).WithReason(violation.ReasonTabVisible).WithDuration(20 * time.Second),
		},
	}
	raw, _ := json.Marshal(b)
	return string(raw)
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(newMockDependencies())

		Convey("Then health serves metrics", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats serves JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then stats that cannot be encoded yield a 500", func() {
			h := api.NewStatsHandler(&mockStatsProvider{stats: map[string]any{"queue_length": make(chan int)}})
			w := httptest.NewRecorder()
			h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/stats", http.NoBody))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldNotContainSubstring, "queue_length")
		})

		Convey("Then unknown paths are not found", func() {
			So(do(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then wrong methods are not found", func() {
			So(do(mux, http.MethodGet, "/violations", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodDelete, "/sessions/s-1", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestViolationsHandler(t *testing.T) {
	Convey("Given the violation sink", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)

		Convey("When a valid batch is posted", func() {
			w := do(mux, http.MethodPost, "/violations", batchBody("sess-1", 1000))

			Convey("Then it is accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"status":"accepted"`)
				So(len(deps.enqueued), ShouldEqual, 1)
				So(deps.enqueued[0].Violations[0].Duration, ShouldEqual, 20)
			})

			Convey("Then the same batch again is a duplicate", func() {
				w2 := do(mux, http.MethodPost, "/violations", batchBody("sess-1", 1000))
				So(w2.Code, ShouldEqual, http.StatusOK)
				So(w2.Body.String(), ShouldContainSubstring, `"duplicate":true`)
				So(len(deps.enqueued), ShouldEqual, 1)
			})
		})

		Convey("When the body is malformed", func() {
			w := do(mux, http.MethodPost, "/violations", `{`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
			})
		})

		Convey("When a violation has an unknown type", func() {
			w := do(mux, http.MethodPost, "/violations",
				`{"session_id":"s","violations":[{"type":"mind_reading","timestamp":1}]}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueSuccess = false
			w := do(mux, http.MethodPost, "/violations", batchBody("sess-2", 2000))

			Convey("Then backpressure is reported and the fingerprint released", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(deps.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestSessionsHandler(t *testing.T) {
	Convey("Given the session store", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)
		body := `{"candidate_id":"c1","job_id":"j1","assessment_type":"coding","time_remaining_seconds":1800,"is_active":true,"status":"in_progress"}`

		Convey("When a session is created", func() {
			w := do(mux, http.MethodPost, "/sessions", body)
			So(w.Code, ShouldEqual, http.StatusCreated)
			var created exam.Session
			So(json.Unmarshal(w.Body.Bytes(), &created), ShouldBeNil)

			Convey("Then it is found by key", func() {
				w := do(mux, http.MethodGet, "/sessions/active?candidate_id=c1&job_id=j1&assessment_type=coding", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, created.ID)
			})

			Convey("Then a second create conflicts", func() {
				So(do(mux, http.MethodPost, "/sessions", body).Code, ShouldEqual, http.StatusConflict)
			})

			Convey("Then it can be read and updated by id", func() {
				So(do(mux, http.MethodGet, "/sessions/"+created.ID, "").Code, ShouldEqual, http.StatusOK)
				created.TimeRemainingSeconds = 1760
				raw, _ := json.Marshal(created)
				w := do(mux, http.MethodPut, "/sessions/"+created.ID, string(raw))
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.sessions[created.ID].TimeRemainingSeconds, ShouldEqual, 1760)
			})

			Convey("Then a terminal session cannot be reopened", func() {
				created.Status = exam.StatusMalpractice
				created.IsActive = false
				raw, _ := json.Marshal(created)
				So(do(mux, http.MethodPut, "/sessions/"+created.ID, string(raw)).Code, ShouldEqual, http.StatusOK)

				created.Status = exam.StatusInProgress
				created.IsActive = true
				raw, _ = json.Marshal(created)
				So(do(mux, http.MethodPut, "/sessions/"+created.ID, string(raw)).Code, ShouldEqual, http.StatusConflict)
			})

			Convey("Then an id mismatch in the body is rejected", func() {
				So(do(mux, http.MethodPut, "/sessions/"+created.ID, `{"id":"other"}`).Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the key is incomplete", func() {
			w := do(mux, http.MethodGet, "/sessions/active?candidate_id=c1", "")

			Convey("Then the lookup is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When no session matches", func() {
			Convey("Then lookups are not found", func() {
				So(do(mux, http.MethodGet, "/sessions/active?candidate_id=c9&job_id=j1&assessment_type=coding", "").Code,
					ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodGet, "/sessions/missing", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the store fails", func() {
			deps.storeErr = fmt.Errorf("disk I/O error")
			w := do(mux, http.MethodGet, "/sessions/active?candidate_id=c1&job_id=j1&assessment_type=coding", "")

			Convey("Then it is an internal error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})

		Convey("When listing violations of a session with none", func() {
			w := do(mux, http.MethodGet, "/sessions/s-1/violations", "")

			Convey("Then an empty array is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})
	})
}
