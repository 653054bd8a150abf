package race

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
)

// GenerateFunc is one race arm: a single generation call.
type GenerateFunc func(ctx context.Context) (*models.GeneratedAnswer, error)

// Judge reconciles a surfaced preliminary answer with the authoritative one.
type Judge interface {
	Judge(ctx context.Context, preliminary, final string) (*llm.JudgeVerdict, error)
}

// SurfaceFunc shows a preliminary answer to the user. It runs before the
// slow arm resolves and must not block on it.
type SurfaceFunc func(ctx context.Context, answer *models.GeneratedAnswer)

// Outcome is the result of one race.
type Outcome struct {
	// Answer is the authoritative answer, nil on total failure.
	Answer *models.GeneratedAnswer
	// Preliminary is non-nil when a fast answer was surfaced to the user
	// and therefore must be replaced or reconciled, never left stale.
	Preliminary *models.GeneratedAnswer
}

// Coordinator races a fast and a slow generation call and arbitrates
// between their results.
type Coordinator struct {
	judge  Judge
	logger *slog.Logger
}

// NewCoordinator creates a coordinator. judge may be nil, in which case a
// surfaced preliminary answer is always replaced by the slow answer.
func NewCoordinator(judge Judge, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{judge: judge, logger: logger}
}

type armResult struct {
	name   string
	answer *models.GeneratedAnswer
	err    error
}

// runArm invokes a single arm synchronously, turning a failure into a nil
// answer.
func (c *Coordinator) runArm(ctx context.Context, name string, fn GenerateFunc) *models.GeneratedAnswer {
	answer, err := fn(ctx)
	if err != nil {
		c.logger.Warn("generation arm failed", "arm", name, "error", err)
		return nil
	}
	return answer
}

// Run executes the race and returns exactly one authoritative answer (or
// none). When racing is disabled only the slow arm runs. surface, when
// non-nil, is invoked if the fast arm returned a usable answer first.
func (c *Coordinator) Run(ctx context.Context, fast, slow GenerateFunc, racing bool, surface SurfaceFunc) *Outcome {
	if !racing || fast == nil {
		slowAnswer := c.runArm(ctx, "slow", slow)
		return &Outcome{Answer: slowAnswer}
	}

	results := make(chan armResult, 2)
	launch := func(name string, fn GenerateFunc) {
		go func() {
			answer, err := fn(ctx)
			results <- armResult{name: name, answer: answer, err: err}
		}()
	}
	launch("fast", fast)
	launch("slow", slow)

	var preliminary *models.GeneratedAnswer
	var fastAnswer, slowAnswer *models.GeneratedAnswer

	first := <-results
	if first.err != nil {
		c.logger.Warn("generation arm failed", "arm", first.name, "error", first.err)
	}

	if first.name == "fast" {
		if first.err == nil && !first.answer.Empty() {
			fastAnswer = first.answer
			preliminary = first.answer
			if surface != nil {
				surface(ctx, first.answer)
			}
		}
		second := <-results
		if second.err != nil {
			c.logger.Warn("generation arm failed", "arm", second.name, "error", second.err)
		} else {
			slowAnswer = second.answer
		}
	} else {
		if first.err == nil {
			slowAnswer = first.answer
		}
		// The fast arm keeps running in the background; its outcome is
		// logged but never surfaces to the user.
		go func() {
			r := <-results
			if r.err != nil {
				c.logger.Warn("losing generation arm failed", "arm", r.name, "error", r.err)
			} else {
				c.logger.Debug("losing generation arm finished", "arm", r.name, "empty", r.answer.Empty())
			}
		}()
	}

	authoritative := c.selectAnswer(fastAnswer, slowAnswer)
	if authoritative.Empty() {
		return &Outcome{Answer: nil, Preliminary: preliminary}
	}

	if preliminary != nil && !slowAnswer.Empty() {
		authoritative = c.reconcile(ctx, preliminary, slowAnswer)
	}
	return &Outcome{Answer: authoritative, Preliminary: preliminary}
}

// selectAnswer applies the selection rule: the slow result is authoritative
// whenever it produced a non-empty answer, otherwise the fast result.
func (c *Coordinator) selectAnswer(fastAnswer, slowAnswer *models.GeneratedAnswer) *models.GeneratedAnswer {
	if !slowAnswer.Empty() {
		return slowAnswer
	}
	return fastAnswer
}

// reconcile asks the judge whether the surfaced preliminary answer stands.
// Judge failures fall back to replacing with the slow answer outright.
func (c *Coordinator) reconcile(ctx context.Context, preliminary, slowAnswer *models.GeneratedAnswer) *models.GeneratedAnswer {
	if c.judge == nil {
		return slowAnswer
	}

	verdict, err := c.judge.Judge(ctx, StripConfidenceNote(preliminary.Text), StripConfidenceNote(slowAnswer.Text))
	if err != nil {
		c.logger.Warn("judge step failed, replacing preliminary answer", "error", err)
		return slowAnswer
	}

	if verdict.NoUpdate {
		final := *preliminary
		if verdict.Confidence != nil {
			final.Confidence = verdict.Confidence
		}
		return &final
	}

	final := &models.GeneratedAnswer{
		Text:       verdict.Text,
		Confidence: verdict.Confidence,
		ResponseID: slowAnswer.ResponseID,
	}
	if final.Confidence == nil {
		final.Confidence = slowAnswer.Confidence
	}
	return final
}

var confidenceNote = regexp.MustCompile(`(?m)\n*_?Confidence: \d+%_?\s*$`)

// FormatAnswer renders an answer body with its confidence annotation.
func FormatAnswer(a *models.GeneratedAnswer) string {
	if a.Confidence == nil {
		return a.Text
	}
	return fmt.Sprintf("%s\n\n_Confidence: %d%%_", a.Text, *a.Confidence)
}

// StripConfidenceNote removes a prior confidence annotation from an answer
// body before it is passed to the judge.
func StripConfidenceNote(text string) string {
	return strings.TrimSpace(confidenceNote.ReplaceAllString(text, ""))
}
