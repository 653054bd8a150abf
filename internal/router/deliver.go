package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gathertown/grapevine/internal/chat"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/race"
)

// progressMessage is the single bot message a response flow owns. The first
// render posts it; every later render, including the final answer, updates
// it in place so the channel never fills with stale status lines.
type progressMessage struct {
	transport chat.Transport
	channel   string
	threadTS  string
	logger    *slog.Logger

	mu sync.Mutex
	ts string
}

func newProgressMessage(transport chat.Transport, channel, threadTS string, logger *slog.Logger) *progressMessage {
	return &progressMessage{transport: transport, channel: channel, threadTS: threadTS, logger: logger}
}

func (p *progressMessage) render(body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ts == "" {
		ts, err := p.transport.PostMessage(context.Background(), p.channel, p.threadTS, body)
		if err != nil {
			return err
		}
		p.ts = ts
		return nil
	}
	return p.transport.UpdateMessage(context.Background(), p.channel, p.ts, body)
}

func (p *progressMessage) messageTS() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ts
}

func (p *progressMessage) discard(ctx context.Context) {
	ts := p.messageTS()
	if ts == "" {
		return
	}
	if err := p.transport.DeleteMessage(ctx, p.channel, ts); err != nil {
		p.logger.Debug("progress message delete failed", "channel", p.channel, "error", err)
	}
}

// deliver posts or finalizes the authoritative answer. The world may have
// moved on while we were generating, so the outcome is re-validated against
// the conversation before anything user-visible happens.
func (r *Router) deliver(ctx context.Context, ev chat.MessageEvent, pm *progressMessage, outcome *race.Outcome, mustRespond bool) error {
	// The question may have been deleted mid-generation. Answering a message
	// that no longer exists reads like a malfunction, so all output for it
	// is withdrawn instead.
	exists, err := r.transport.MessageExists(ctx, ev.ChannelID, ev.TS)
	if err != nil {
		r.logger.Debug("origin existence check failed, assuming present", "error", err)
		exists = true
	}
	if !exists {
		if pm != nil {
			pm.discard(ctx)
		}
		return nil
	}

	// If someone else (a teammate, another bot run) already replied with our
	// identity after the question, yield rather than double-answer, even when
	// all we have left is the fallback. Our own progress message does not
	// count.
	if newer, err := r.transport.LatestReplyAfter(ctx, ev.ChannelID, ev.ReplyThreadTS(), ev.TS, r.botUserID); err == nil {
		ownTS := ""
		if pm != nil {
			ownTS = pm.messageTS()
		}
		if newer != "" && newer != ownTS {
			r.logger.Info("newer reply present, yielding", "channel", ev.ChannelID, "reply_ts", newer)
			if pm != nil {
				pm.discard(ctx)
			}
			return nil
		}
	}

	answer := outcome.Answer
	if answer == nil || answer.Empty() {
		if !mustRespond {
			return nil
		}
		fb := &models.GeneratedAnswer{Text: fallbackAnswer, Fallback: true}
		r.logger.Info("posting fallback answer", "channel", ev.ChannelID)
		answer = fb
	}

	return r.finalize(ctx, ev, pm, race.FormatAnswer(answer))
}

// finalize writes the terminal body, reusing the progress message when one
// was posted.
func (r *Router) finalize(ctx context.Context, ev chat.MessageEvent, pm *progressMessage, body string) error {
	if pm != nil && pm.messageTS() != "" {
		return r.transport.UpdateMessage(ctx, ev.ChannelID, pm.messageTS(), body)
	}
	_, err := r.transport.PostMessage(ctx, ev.ChannelID, ev.ReplyThreadTS(), body)
	return err
}
