package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEventThreading(t *testing.T) {
	cases := []struct {
		name      string
		ev        MessageEvent
		inThread  bool
		replyInto string
	}{
		{"top-level message", MessageEvent{TS: "10.0"}, false, "10.0"},
		{"thread reply", MessageEvent{TS: "11.0", ThreadTS: "10.0"}, true, "10.0"},
		{"thread parent carries its own ts", MessageEvent{TS: "10.0", ThreadTS: "10.0"}, false, "10.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.inThread, tc.ev.InThread())
			assert.Equal(t, tc.replyInto, tc.ev.ReplyThreadTS())
		})
	}
}

func TestSlackPostMessage(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "123.456"})
	}))
	defer srv.Close()

	tr := NewSlackTransport("xoxb-test", srv.URL)
	ts, err := tr.PostMessage(context.Background(), "C1", "99.0", "hello")
	require.NoError(t, err)

	assert.Equal(t, "123.456", ts)
	assert.Equal(t, "Bearer xoxb-test", gotAuth)
	assert.Equal(t, "C1", gotPayload["channel"])
	assert.Equal(t, "99.0", gotPayload["thread_ts"])
	assert.Equal(t, "hello", gotPayload["text"])
}

func TestSlackAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	tr := NewSlackTransport("xoxb-test", srv.URL)
	err := tr.UpdateMessage(context.Background(), "C1", "1.0", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackMessageExists(t *testing.T) {
	present := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.history", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "true", r.URL.Query().Get("inclusive"))
		msgs := []map[string]string{}
		if present {
			msgs = append(msgs, map[string]string{"ts": r.URL.Query().Get("latest")})
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": msgs})
	}))
	defer srv.Close()

	tr := NewSlackTransport("xoxb-test", srv.URL)

	exists, err := tr.MessageExists(context.Background(), "C1", "5.0")
	require.NoError(t, err)
	assert.True(t, exists)

	present = false
	exists, err = tr.MessageExists(context.Background(), "C1", "5.0")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSlackLatestReplyAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations.replies", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []map[string]string{
			{"ts": "1.0", "user": "UBOT"},         // the afterTS message itself
			{"ts": "2.0", "user": "UOTHER"},       // someone else
			{"ts": "3.0", "bot_id": "UBOT"},       // our bot identity
			{"ts": "4.0", "user": "UBOT"},         // newest matching reply
		}})
	}))
	defer srv.Close()

	tr := NewSlackTransport("xoxb-test", srv.URL)
	latest, err := tr.LatestReplyAfter(context.Background(), "C1", "1.0", "1.0", "UBOT")
	require.NoError(t, err)
	assert.Equal(t, "4.0", latest)
}
