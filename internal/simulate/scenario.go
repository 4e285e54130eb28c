package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/okian/proctor/pkg/logger"
)

// Kind names one simulated candidate behaviour.
type Kind string

const (
	KindAnswer        Kind = "answer"
	KindHideTab       Kind = "hide_tab"
	KindBlur          Kind = "blur"
	KindCopyEditor    Kind = "copy_editor"
	KindPasteInternal Kind = "paste_internal"
	KindPasteExternal Kind = "paste_external"
	KindCopyQuestion  Kind = "copy_question"
	KindDevtools      Kind = "devtools"
	KindViewSource    Kind = "view_source"
	KindContextMenu   Kind = "context_menu"
	KindBreak         Kind = "break"
)

// Weighted behaviour table. Honest activity dominates so runs end both ways.
var kindWeights = []struct {
	kind   Kind
	weight int
}{
	{KindAnswer, 30},
	{KindCopyEditor, 12},
	{KindPasteInternal, 12},
	{KindHideTab, 8},
	{KindBlur, 8},
	{KindPasteExternal, 6},
	{KindCopyQuestion, 4},
	{KindDevtools, 3},
	{KindViewSource, 2},
	{KindContextMenu, 10},
	{KindBreak, 5},
}

// Scenario generation bounds.
const (
	minGap        = time.Second
	maxGap        = 90 * time.Second
	maxAway       = 40 * time.Second
	maxBreak      = 2 * time.Minute
	maxQuestions  = 10
	maxTextLength = 400
	// Scenarios stop at this fraction of the exam so the countdown never expires mid-run.
	usableShare   = 2
)

// Action is one behaviour at an offset from the exam start.
type Action struct {
	Kind     Kind          `json:"kind"`
	At       time.Duration `json:"at"`
	Span     time.Duration `json:"span,omitempty"`
	Question int           `json:"question,omitempty"`
	Text     string        `json:"text,omitempty"`
}

// End is when the action is over.
func (a Action) End() time.Duration { return a.At + a.Span }

// Scenario is the full behaviour script of one candidate.
type Scenario struct {
	Candidate string   `json:"candidate"`
	Actions   []Action `json:"actions"`
}

// generateScenarios builds one deterministic scenario per candidate from config.Seed.
func generateScenarios(ctx context.Context, config *Config, stats *Stats) ([]Scenario, error) {
	logger.Get().Info(ctx, "generating scenarios",
		logger.Int("candidates", config.Candidates),
		logger.Int64("seed", config.Seed))

	scenarios := make([]Scenario, config.Candidates)
	for i := range scenarios {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during scenario generation: %w", err)
		}
		scenarios[i] = generateScenario(config, i)
	}

	stats.CandidatesGenerated = len(scenarios)
	logger.Get().Info(ctx, "generated scenarios", logger.Int("count", len(scenarios)))
	return scenarios, nil
}

// generateScenario is a pure function of the seed, the candidate index and the bounds in config.
func generateScenario(config *Config, index int) Scenario {
	rng := rand.New(rand.NewPCG(uint64(config.Seed), uint64(index)))
	limit := config.ExamDuration / usableShare

	s := Scenario{Candidate: candidateID(config.Seed, index)}
	var (
		at         time.Duration
		copiedText string
	)
	for len(s.Actions) < config.Actions {
		at += between(rng, minGap, maxGap)
		a := Action{Kind: pick(rng), At: at}
		switch a.Kind {
		case KindAnswer:
			a.Question = rng.IntN(maxQuestions)
			a.Text = text(rng, 'a', 1+rng.IntN(maxTextLength))
		case KindHideTab, KindBlur:
			a.Span = between(rng, time.Second, maxAway)
		case KindBreak:
			a.Span = between(rng, time.Second, maxBreak)
		case KindCopyEditor:
			copiedText = text(rng, 'a', 1+rng.IntN(maxTextLength))
			a.Text = copiedText
		case KindPasteInternal:
			if copiedText == "" {
				// Nothing copied yet: copy first.
				a.Kind = KindCopyEditor
				copiedText = text(rng, 'a', 1+rng.IntN(maxTextLength))
			}
			a.Text = copiedText
		case KindPasteExternal:
			// Always above the floor so every external paste is logged.
			a.Text = text(rng, 'A', config.PasteMinLength+1+rng.IntN(maxTextLength))
		case KindCopyQuestion:
			a.Text = text(rng, 'a', 1+rng.IntN(maxTextLength))
		}
		if a.End() >= limit {
			break
		}
		s.Actions = append(s.Actions, a)
		at = a.End()
	}
	return s
}

// candidateID is a stable id per seed and index.
func candidateID(seed int64, index int) string {
	name := strconv.FormatInt(seed, 10) + "/" + strconv.Itoa(index)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func pick(rng *rand.Rand) Kind {
	total := 0
	for _, w := range kindWeights {
		total += w.weight
	}
	n := rng.IntN(total)
	for _, w := range kindWeights {
		if n < w.weight {
			return w.kind
		}
		n -= w.weight
	}
	return KindAnswer
}

// between returns a whole-second duration in [lo, hi].
func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	secs := int64(lo/time.Second) + rng.Int64N(int64((hi-lo)/time.Second)+1)
	return time.Duration(secs) * time.Second
}

// text returns n letters starting at base, so editor and external texts never collide.
func text(rng *rand.Rand, base byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base + byte(rng.IntN(26))
	}
	return string(b)
}
