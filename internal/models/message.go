package models

// Role identifies who authored a conversational message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is a file attached to a conversational message.
type Attachment struct {
	Name     string
	MimeType string
	URL      string
}

// Message is one unit of conversational input or context. Messages are
// constructed per inbound event and never mutated afterward.
type Message struct {
	Role        Role
	Content     string
	Attachments []Attachment
}

// ResponseContext classifies why the bot is producing a response.
type ResponseContext string

const (
	ContextDirectMessage   ResponseContext = "direct_message"
	ContextThreadMention   ResponseContext = "thread_mention"
	ContextChannelMention  ResponseContext = "channel_mention"
	ContextAmbientQuestion ResponseContext = "ambient_question"
	ContextTriage          ResponseContext = "triage"
)

// AlwaysRespond reports whether this context guarantees a reply. Ambient
// channel questions may legitimately produce no reply at all.
func (c ResponseContext) AlwaysRespond() bool {
	switch c {
	case ContextDirectMessage, ContextThreadMention, ContextChannelMention:
		return true
	}
	return false
}
