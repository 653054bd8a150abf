package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/gathertown/grapevine/internal/chat"
	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/progress"
	"github.com/gathertown/grapevine/internal/race"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/triage"
)

// ackReaction is added to a message the bot has committed to answering.
const ackReaction = "eyes"

// fallbackAnswer is posted when an always-respond context produced no usable
// answer. Silence is only acceptable for ambient questions.
const fallbackAnswer = "I wasn't able to come up with an answer this time. You may want to rephrase or ask a teammate."

// reservedUsers never trigger a response.
var reservedUsers = map[string]struct{}{
	"USLACKBOT": {},
}

// Classify maps an inbound event to a response context. ok is false when the
// message should be dropped without any processing.
func Classify(ev chat.MessageEvent) (models.ResponseContext, bool) {
	if ev.BotID != "" {
		return "", false
	}
	if ev.Subtype != "" && ev.Subtype != "thread_broadcast" {
		return "", false
	}
	if _, reserved := reservedUsers[ev.UserID]; reserved {
		return "", false
	}
	switch {
	case ev.ChannelType == "im":
		return models.ContextDirectMessage, true
	case ev.Mentioned && ev.InThread():
		return models.ContextThreadMention, true
	case ev.Mentioned:
		return models.ContextChannelMention, true
	}
	return models.ContextAmbientQuestion, true
}

// Generator is the LLM surface the router needs.
type Generator interface {
	Generate(ctx context.Context, msgs []models.Message, opts llm.Options) (*models.GeneratedAnswer, error)
	GenerateStreaming(ctx context.Context, msgs []models.Message, opts llm.Options, onEvent func(models.StreamEvent)) (*models.GeneratedAnswer, error)
	ClassifyShouldAnswer(ctx context.Context, text string, sources []string) (llm.ShouldAnswerResult, error)
	ClassifyIsMutatingAction(ctx context.Context, text string, context []models.Message) (bool, error)
}

// Router turns inbound message events into answers, progress updates, or
// triage runs.
type Router struct {
	gen       Generator
	transport chat.Transport
	store     store.Store
	coord     *race.Coordinator
	triage    *triage.Engine
	botUserID string
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithClock injects the clock used by per-message progress updaters.
func WithClock(c clockwork.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// NewRouter wires the orchestration core together.
func NewRouter(gen Generator, transport chat.Transport, st store.Store, coord *race.Coordinator, tr *triage.Engine, botUserID string, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		gen:       gen,
		transport: transport,
		store:     st,
		coord:     coord,
		triage:    tr,
		botUserID: botUserID,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route processes one validated inbound event end to end.
func (r *Router) Route(ctx context.Context, ev chat.MessageEvent) error {
	respCtx, ok := Classify(ev)
	if !ok {
		return nil
	}

	tenant, err := r.store.GetTenant(ctx, ev.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", ev.TenantID, err)
	}

	if tenant.TriageChannelID != "" && tenant.TriageChannelID == ev.ChannelID {
		return r.handleTriage(ctx, ev, tenant)
	}

	msgs := []models.Message{{Role: models.RoleUser, Content: ev.Text}}

	if respCtx.AlwaysRespond() {
		return r.answerAlways(ctx, ev, tenant, msgs)
	}
	return r.answerAmbient(ctx, ev, tenant, msgs)
}

func (r *Router) handleTriage(ctx context.Context, ev chat.MessageEvent, tenant *models.Tenant) error {
	conv := triage.Conversation{
		TenantID:  tenant.ID,
		ChannelID: ev.ChannelID,
		ThreadTS:  ev.ReplyThreadTS(),
		Messages:  []models.Message{{Role: models.RoleUser, Content: ev.Text}},
	}
	_, _, err := r.triage.Run(ctx, conv, tenant.TriageMode)
	return err
}

// answerAlways handles the contexts that guarantee a reply. Whatever fails
// along the way, something gets posted.
func (r *Router) answerAlways(ctx context.Context, ev chat.MessageEvent, tenant *models.Tenant, msgs []models.Message) error {
	if err := r.transport.AddReaction(ctx, ev.ChannelID, ev.TS, ackReaction); err != nil {
		r.logger.Debug("ack reaction failed", "channel", ev.ChannelID, "error", err)
	}

	mutating := tenant.TriageTeamID != ""
	if !mutating {
		var err error
		mutating, err = r.gen.ClassifyIsMutatingAction(ctx, ev.Text, msgs)
		if err != nil {
			r.logger.Warn("mutation classification failed, treating as question", "error", err)
			mutating = false
		}
	}

	hint := knowledgeHint(tenant)
	pm := newProgressMessage(r.transport, ev.ChannelID, ev.ReplyThreadTS(), r.logger)

	if mutating {
		// Mutation requests never race: two concurrent arms could apply the
		// same side effect twice. One fast call with mutations enabled.
		answer, err := r.gen.Generate(ctx, msgs, llm.Options{
			Mode:           llm.ModeFast,
			AllowMutations: true,
			KnowledgeHint:  hint,
		})
		if err != nil {
			r.logger.Warn("mutation generation failed", "error", err)
			answer = nil
		}
		return r.deliver(ctx, ev, pm, &race.Outcome{Answer: answer}, true)
	}

	updater := progress.NewUpdater(pm.render, progress.WithClock(r.clock))
	updater.Start()

	fast := func(ctx context.Context) (*models.GeneratedAnswer, error) {
		return r.gen.Generate(ctx, msgs, llm.Options{Mode: llm.ModeFast, KnowledgeHint: hint})
	}
	slow := func(ctx context.Context) (*models.GeneratedAnswer, error) {
		return r.gen.GenerateStreaming(ctx, msgs, llm.Options{Mode: llm.ModeSlow, KnowledgeHint: hint}, updater.Push)
	}
	surface := func(ctx context.Context, answer *models.GeneratedAnswer) {
		updater.SetFastAnswer(race.FormatAnswer(answer))
	}
	outcome := r.coord.Run(ctx, fast, slow, tenant.RacingEnabled, surface)

	updater.Stop()
	return r.deliver(ctx, ev, pm, outcome, true)
}

// answerAmbient handles unaddressed channel messages. Every exit except a
// confident answer is silent, which means a surfaced preliminary answer is
// withdrawn if the final answer lands under the tenant's threshold.
func (r *Router) answerAmbient(ctx context.Context, ev chat.MessageEvent, tenant *models.Tenant, msgs []models.Message) error {
	verdict, err := r.gen.ClassifyShouldAnswer(ctx, ev.Text, tenant.KnowledgeSources)
	if err != nil {
		r.logger.Debug("ambient pre-filter failed", "error", err)
		return nil
	}
	if !verdict.ShouldAnswer {
		return nil
	}

	hint := knowledgeHint(tenant)
	pm := newProgressMessage(r.transport, ev.ChannelID, ev.ReplyThreadTS(), r.logger)

	fast := func(ctx context.Context) (*models.GeneratedAnswer, error) {
		return r.gen.Generate(ctx, msgs, llm.Options{Mode: llm.ModeFast, KnowledgeHint: hint})
	}
	slow := func(ctx context.Context) (*models.GeneratedAnswer, error) {
		return r.gen.Generate(ctx, msgs, llm.Options{Mode: llm.ModeSlow, KnowledgeHint: hint})
	}
	surface := func(ctx context.Context, answer *models.GeneratedAnswer) {
		if err := pm.render(race.FormatAnswer(answer)); err != nil {
			r.logger.Debug("preliminary post failed", "channel", ev.ChannelID, "error", err)
		}
	}
	outcome := r.coord.Run(ctx, fast, slow, tenant.RacingEnabled, surface)

	answer := outcome.Answer
	threshold := tenant.ConfidenceThreshold
	if threshold == 0 {
		threshold = models.DefaultConfidenceThreshold
	}
	if answer == nil || answer.Empty() || answer.Confidence == nil || *answer.Confidence < threshold {
		r.logger.Debug("ambient answer below threshold, staying silent",
			"channel", ev.ChannelID, "threshold", threshold)
		pm.discard(ctx)
		return nil
	}

	return r.deliver(ctx, ev, pm, outcome, false)
}

func knowledgeHint(tenant *models.Tenant) string {
	hint := ""
	for i, s := range tenant.KnowledgeSources {
		if i > 0 {
			hint += ", "
		}
		hint += s
	}
	return hint
}
