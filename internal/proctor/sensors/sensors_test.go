package sensors_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/internal/proctor/aggregator"
	"github.com/okian/proctor/internal/proctor/sensors"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"pgregory.net/rapid"
)

func init() {
	_ = logger.Init()
}

type sink struct {
	mu   sync.Mutex
	logs []violation.Log
}

func (s *sink) Record(l violation.Log) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return true
}

func (s *sink) all() []violation.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]violation.Log(nil), s.logs...)
}

var t0 = time.UnixMilli(1_700_000_000_000)

func at(sec float64) time.Time { return t0.Add(time.Duration(sec * float64(time.Second))) }

func TestVisibility(t *testing.T) {
	Convey("Given a visibility sensor", t, func() {
		s := &sink{}
		v := sensors.NewVisibility(s)

		Convey("When the tab is hidden at 10s for 20s", func() {
			v.Hidden(at(10))
			So(v.IsHidden(), ShouldBeTrue)
			v.Hidden(at(15))
			emitted := v.Visible(at(30))

			Convey("Then one tab_switch with duration 20 is logged", func() {
				So(emitted, ShouldBeTrue)
				logs := s.all()
				So(len(logs), ShouldEqual, 1)
				So(logs[0].Type, ShouldEqual, violation.TabSwitch)
				So(logs[0].Reason, ShouldEqual, violation.ReasonTabVisible)
				So(logs[0].Duration, ShouldEqual, 20)
				So(logs[0].Timestamp, ShouldEqual, at(30).UnixMilli())
			})
		})

		Convey("When visible arrives without a hide", func() {
			Convey("Then nothing is logged", func() {
				So(v.Visible(at(1)), ShouldBeFalse)
				So(s.all(), ShouldBeEmpty)
			})
		})
	})
}

func TestFocus(t *testing.T) {
	Convey("Given a focus sensor", t, func() {
		s := &sink{}
		f := sensors.NewFocus(s)

		Convey("When the window blurs and refocuses twice", func() {
			f.Blur(at(0))
			f.Focused(at(2.4))
			f.Blur(at(5))
			So(f.IsBlurred(), ShouldBeTrue)
			f.Focused(at(5.6))
			f.Focused(at(7))

			Convey("Then two window_blur logs with rounded durations exist", func() {
				logs := s.all()
				So(len(logs), ShouldEqual, 2)
				So(logs[0].Type, ShouldEqual, violation.WindowBlur)
				So(logs[0].Reason, ShouldEqual, violation.ReasonWindowFocus)
				So(logs[0].Duration, ShouldEqual, 2)
				So(logs[1].Duration, ShouldEqual, 1)
			})
		})
	})
}

func TestVisibilityCycles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := &sink{}
		v := sensors.NewVisibility(s)
		hiddenEvents := rapid.SliceOf(rapid.Bool()).Draw(t, "events")
		cycles := 0
		hidden := false
		now := t0
		for _, h := range hiddenEvents {
			now = now.Add(time.Second)
			if h {
				v.Hidden(now)
				hidden = true
				continue
			}
			v.Visible(now)
			if hidden {
				cycles++
			}
			hidden = false
		}
		logs := s.all()
		if len(logs) != cycles {
			t.Fatalf("got %d tab_switch logs for %d hide/show cycles", len(logs), cycles)
		}
		for _, l := range logs {
			if l.Type != violation.TabSwitch || l.Duration < 1 {
				t.Fatalf("unexpected log %+v", l)
			}
		}
	})
}

func TestClipboard(t *testing.T) {
	Convey("Given a clipboard sensor with a 20 char minimum", t, func() {
		s := &sink{}
		c := sensors.NewClipboard(s, sensors.WithPasteMinLength(20), sensors.WithPasteSuspiciousLength(100))
		code := "func main() { fmt.Println(\"hello, world\") }"

		Convey("When the candidate copies from the editor and pastes it back", func() {
			So(c.Copy(code, sensors.SourceEditor, at(0)), ShouldBeFalse)
			So(c.Paste(code, at(1)), ShouldBeFalse)

			Convey("Then nothing is logged", func() {
				So(s.all(), ShouldBeEmpty)
			})
		})

		Convey("When an editor cut is pasted back", func() {
			c.Cut(code, sensors.SourceEditor, at(0))
			c.Paste(code, at(1))

			Convey("Then nothing is logged", func() {
				So(s.all(), ShouldBeEmpty)
			})
		})

		Convey("When long external text is pasted", func() {
			c.Copy("short", sensors.SourceEditor, at(0))
			So(c.Paste(code, at(1)), ShouldBeTrue)

			Convey("Then exactly one paste_attempt is logged", func() {
				logs := s.all()
				So(len(logs), ShouldEqual, 1)
				So(logs[0].Type, ShouldEqual, violation.PasteAttempt)
				So(logs[0].Reason, ShouldEqual, violation.ReasonExternalPaste)
				So(logs[0].Context, ShouldStartWith, sensors.ContextExternalPaste)
				So(logs[0].Context, ShouldContainSubstring, "length=")
			})
		})

		Convey("When a very large external text is pasted", func() {
			c.Paste(strings.Repeat("x", 150), at(1))

			Convey("Then it is flagged suspicious", func() {
				So(s.all()[0].Context, ShouldEqual, sensors.ContextSuspiciousPaste+" length=150")
			})
		})

		Convey("When a trivial external paste happens", func() {
			Convey("Then it is ignored", func() {
				So(c.Paste("hello", at(1)), ShouldBeFalse)
				So(c.Paste(strings.Repeat("y", 20), at(2)), ShouldBeFalse)
				So(s.all(), ShouldBeEmpty)
			})
		})

		Convey("When question text is copied or cut", func() {
			So(c.Copy("What is a goroutine?", sensors.SourceQuestion, at(1)), ShouldBeTrue)
			So(c.Cut("Explain channels", sensors.SourceQuestion, at(2)), ShouldBeTrue)

			Convey("Then both are logged and do not become the internal clipboard", func() {
				logs := s.all()
				So(len(logs), ShouldEqual, 2)
				So(logs[0].Type, ShouldEqual, violation.CopyAttempt)
				So(logs[0].Reason, ShouldEqual, violation.ReasonQuestionCopy)
				So(logs[1].Type, ShouldEqual, violation.CutAttempt)
				So(c.Paste("What is a goroutine? Explain please", at(3)), ShouldBeTrue)
			})
		})
	})
}

func TestInternalPasteNeverLogged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := &sink{}
		c := sensors.NewClipboard(s)
		text := rapid.String().Draw(t, "text")
		c.Copy(text, sensors.SourceEditor, t0)
		if c.Paste(text, t0.Add(time.Second)) {
			t.Fatalf("internal paste of %q was logged", text)
		}
		external := rapid.StringMatching(`[a-z]{21,60}`).Draw(t, "external")
		if external == text {
			return
		}
		if !c.Paste(external, t0.Add(2*time.Second)) {
			t.Fatalf("external paste of %q was not logged", external)
		}
		if len(s.all()) != 1 {
			t.Fatalf("want exactly one log, got %d", len(s.all()))
		}
	})
}

func TestKeys(t *testing.T) {
	Convey("Given a key sensor", t, func() {
		s := &sink{}
		k := sensors.NewKeys(s)

		Convey("When devtools and view-source shortcuts are pressed", func() {
			So(k.Handle(sensors.KeyEvent{Key: "F12", At: at(1)}), ShouldBeTrue)
			So(k.Handle(sensors.KeyEvent{Key: "i", Ctrl: true, Shift: true, At: at(2)}), ShouldBeTrue)
			So(k.Handle(sensors.KeyEvent{Key: "j", Meta: true, Alt: true, At: at(3)}), ShouldBeTrue)
			So(k.Handle(sensors.KeyEvent{Key: "u", Ctrl: true, At: at(4)}), ShouldBeTrue)

			Convey("Then each is logged with its combo", func() {
				logs := s.all()
				So(len(logs), ShouldEqual, 4)
				So(logs[0].Reason, ShouldEqual, violation.ReasonDevtoolsShortcut)
				So(logs[1].Context, ShouldEqual, "Ctrl+Shift+I")
				So(logs[2].Context, ShouldEqual, "Cmd+Alt+J")
				So(logs[3].Reason, ShouldEqual, violation.ReasonViewSourceShortcut)
				for _, l := range logs {
					So(l.Type, ShouldEqual, violation.DisallowedKey)
				}
			})
		})

		Convey("When ordinary editing keys are pressed", func() {
			Convey("Then they pass through", func() {
				So(k.Handle(sensors.KeyEvent{Key: "c", Ctrl: true, At: at(1)}), ShouldBeFalse)
				So(k.Handle(sensors.KeyEvent{Key: "i", Shift: true, At: at(2)}), ShouldBeFalse)
				So(k.Handle(sensors.KeyEvent{Key: "a", At: at(3)}), ShouldBeFalse)
				So(s.all(), ShouldBeEmpty)
			})
		})
	})
}

type fullHost struct {
	vis  chan sensors.VisibilityEvent
	keys chan sensors.KeyPress
	menu chan sensors.ContextMenuEvent
}

func (h *fullHost) VisibilityChanges() <-chan sensors.VisibilityEvent { return h.vis }
func (h *fullHost) KeyPresses() <-chan sensors.KeyPress { return h.keys }
func (h *fullHost) ContextMenus() <-chan sensors.ContextMenuEvent { return h.menu }

func TestMonitor(t *testing.T) {
	Convey("Given a monitor attached to a host with some capabilities", t, func() {
		s := &sink{}
		m := sensors.NewMonitor(s)
		host := &fullHost{
			vis:  make(chan sensors.VisibilityEvent),
			keys: make(chan sensors.KeyPress),
			menu: make(chan sensors.ContextMenuEvent),
		}
		m.Attach(context.Background(), host)

		Convey("When events arrive", func() {
			host.vis <- sensors.VisibilityEvent{Hidden: true, At: at(0)}
			host.vis <- sensors.VisibilityEvent{Hidden: false, At: at(4)}
			prevented := make(chan struct{}, 2)
			host.keys <- sensors.KeyPress{Event: sensors.KeyEvent{Key: "F12", At: at(5)}, Prevent: func() { prevented <- struct{}{} }}
			host.menu <- sensors.ContextMenuEvent{Prevent: func() { prevented <- struct{}{} }}
			m.Detach()

			Convey("Then they reach the sensors and defaults are prevented", func() {
				types := map[violation.Type]int{}
				for _, l := range s.all() {
					types[l.Type]++
				}
				So(types, ShouldResemble, map[violation.Type]int{violation.TabSwitch: 1, violation.DisallowedKey: 1})
				So(len(prevented), ShouldEqual, 2)
			})
		})

		Convey("When detached twice", func() {
			m.Detach()

			Convey("Then it does not block", func() {
				So(m.Detach, ShouldNotPanic)
			})
		})
	})

	Convey("Given a host with no capabilities", t, func() {
		m := sensors.NewMonitor(&sink{})

		Convey("Then attaching is a silent no-op", func() {
			So(func() { m.Attach(context.Background(), struct{}{}) }, ShouldNotPanic)
			m.Detach()
		})
	})
}

func TestMonitor_KeyTimestamps(t *testing.T) {
	Convey("Given a monitor with a fixed clock over a real aggregator", t, func() {
		agg := aggregator.New()
		m := sensors.NewMonitor(agg, sensors.WithClock(func() time.Time { return at(7) }))
		host := &fullHost{keys: make(chan sensors.KeyPress)}
		m.Attach(context.Background(), host)

		Convey("When a blocked key arrives without a timestamp", func() {
			prevented := false
			host.keys <- sensors.KeyPress{Event: sensors.KeyEvent{Key: "u", Ctrl: true}, Prevent: func() { prevented = true }}
			m.Detach()

			Convey("Then it is logged at the monitor's clock time", func() {
				So(prevented, ShouldBeTrue)
				logs := agg.Logs()
				So(len(logs), ShouldEqual, 1)
				So(logs[0].Type, ShouldEqual, violation.DisallowedKey)
				So(logs[0].Time().Equal(at(7)), ShouldBeTrue)
			})
		})

		Convey("When the same combo is pressed twice in one millisecond", func() {
			for i := 0; i < 2; i++ {
				host.keys <- sensors.KeyPress{Event: sensors.KeyEvent{Key: "u", Ctrl: true, At: at(3)}}
			}
			m.Detach()

			Convey("Then both presses are logged", func() {
				logs := agg.Logs()
				So(len(logs), ShouldEqual, 2)
				So(logs[0].Timestamp, ShouldEqual, logs[1].Timestamp)
				So(logs[0].Key("s1"), ShouldNotEqual, logs[1].Key("s1"))
			})
		})
	})
}
