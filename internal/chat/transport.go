package chat

import "context"

// MessageEvent is one validated inbound message from the messaging platform.
type MessageEvent struct {
	TenantID    string `json:"tenant_id"`
	ChannelID   string `json:"channel_id"`
	ChannelType string `json:"channel_type"` // "im" or "channel"
	UserID      string `json:"user_id"`
	BotID       string `json:"bot_id,omitempty"` // non-empty when sent by a bot
	Subtype     string `json:"subtype,omitempty"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	Mentioned   bool   `json:"mentioned"` // the bot was @-mentioned
}

// InThread reports whether the message was posted inside an existing thread.
func (e MessageEvent) InThread() bool {
	return e.ThreadTS != "" && e.ThreadTS != e.TS
}

// ReplyThreadTS is the thread a response to this message belongs in.
func (e MessageEvent) ReplyThreadTS() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// Transport is the messaging platform seen by the orchestration core. All
// message identifiers are platform timestamps.
type Transport interface {
	// PostMessage posts body into channel (threaded under threadTS when
	// non-empty) and returns the new message id.
	PostMessage(ctx context.Context, channel, threadTS, body string) (string, error)
	UpdateMessage(ctx context.Context, channel, messageTS, body string) error
	DeleteMessage(ctx context.Context, channel, messageTS string) error
	MessageExists(ctx context.Context, channel, messageTS string) (bool, error)
	AddReaction(ctx context.Context, channel, messageTS, name string) error
	// LatestReplyAfter returns the id of the newest reply in the thread that
	// was authored by userID and posted after afterTS, or "" if none.
	LatestReplyAfter(ctx context.Context, channel, threadTS, afterTS, userID string) (string, error)
}
