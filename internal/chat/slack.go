package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const slackAPIEndpoint = "https://slack.com/api"

// SlackTransport implements Transport against the Slack Web API.
type SlackTransport struct {
	token    string
	endpoint string
	client   *http.Client
}

// NewSlackTransport creates a transport with the given bot token. An empty
// endpoint uses the public Slack API.
func NewSlackTransport(token, endpoint string) *SlackTransport {
	if endpoint == "" {
		endpoint = slackAPIEndpoint
	}
	return &SlackTransport{
		token:    token,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{},
	}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
	Messages []struct {
		TS     string `json:"ts"`
		User   string `json:"user"`
		BotID  string `json:"bot_id"`
		Text   string `json:"text"`
	} `json:"messages"`
}

// call posts a JSON body to one Slack Web API method.
func (t *SlackTransport) call(ctx context.Context, method string, body any) (*slackResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.endpoint+"/"+method, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.OK {
		return &out, fmt.Errorf("%s: %s", method, out.Error)
	}
	return &out, nil
}

func (t *SlackTransport) PostMessage(ctx context.Context, channel, threadTS, body string) (string, error) {
	payload := map[string]string{"channel": channel, "text": body}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	resp, err := t.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}
	return resp.TS, nil
}

func (t *SlackTransport) UpdateMessage(ctx context.Context, channel, messageTS, body string) error {
	_, err := t.call(ctx, "chat.update", map[string]string{
		"channel": channel, "ts": messageTS, "text": body,
	})
	return err
}

func (t *SlackTransport) DeleteMessage(ctx context.Context, channel, messageTS string) error {
	_, err := t.call(ctx, "chat.delete", map[string]string{
		"channel": channel, "ts": messageTS,
	})
	return err
}

func (t *SlackTransport) AddReaction(ctx context.Context, channel, messageTS, name string) error {
	_, err := t.call(ctx, "reactions.add", map[string]string{
		"channel": channel, "timestamp": messageTS, "name": name,
	})
	return err
}

// MessageExists checks whether the message is still present, via a
// single-message history lookup. Deleted messages return false, not an error.
func (t *SlackTransport) MessageExists(ctx context.Context, channel, messageTS string) (bool, error) {
	resp, err := t.get(ctx, "conversations.history", url.Values{
		"channel":   {channel},
		"latest":    {messageTS},
		"oldest":    {messageTS},
		"inclusive": {"true"},
		"limit":     {"1"},
	})
	if err != nil {
		return false, err
	}
	return len(resp.Messages) > 0, nil
}

func (t *SlackTransport) LatestReplyAfter(ctx context.Context, channel, threadTS, afterTS, userID string) (string, error) {
	resp, err := t.get(ctx, "conversations.replies", url.Values{
		"channel": {channel},
		"ts":      {threadTS},
		"oldest":  {afterTS},
	})
	if err != nil {
		return "", err
	}
	latest := ""
	for _, m := range resp.Messages {
		if m.TS == afterTS {
			continue
		}
		if (m.User != "" && m.User == userID) || (m.BotID != "" && m.BotID == userID) {
			if m.TS > latest {
				latest = m.TS
			}
		}
	}
	return latest, nil
}

// get issues a form-encoded GET to a Slack Web API read method.
func (t *SlackTransport) get(ctx context.Context, method string, params url.Values) (*slackResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.OK {
		return &out, fmt.Errorf("%s: %s", method, out.Error)
	}
	return &out, nil
}
