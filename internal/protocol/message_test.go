package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecode_StreamContent(t *testing.T) {
	ev, err := Decode([]byte(`{"kind":"stream_content","content":"**Hi"}`))
	require.NoError(t, err)
	require.Equal(t, KindStreamContent, ev.Kind)
	require.Equal(t, "**Hi", ev.Content)
	require.True(t, ev.Kind.IsStream())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"kind":`))
	require.Error(t, err)
}

func TestEventMessage_NullTimestampIsStamped(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err := Decode([]byte(`{"kind":"received","text":"sorry","timestamp":null,"isAutomated":true}`))
	require.NoError(t, err)

	msg := ev.Message(now)
	require.Equal(t, now, msg.Timestamp)
	require.True(t, msg.IsAutomated)
	require.True(t, msg.Persistable())
}

func TestEncode_SentMessageShape(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := Encode(FromMessage(Message{Text: "hi", Kind: KindSent, Timestamp: ts}))
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"hi","kind":"sent","timestamp":"2025-03-01T12:00:00Z"}`, string(b))
}

func TestSystemNoticeIsNotPersistable(t *testing.T) {
	msg := System("Connected to chat server", time.Now()).Message(time.Now())
	require.False(t, msg.Persistable())
}
