package ui

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptUserRoundTrip(t *testing.T) {
	m := NewWSManager(5*time.Second, 100)
	srv := httptest.NewServer(m)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	answered := make(chan string, 1)
	go func() {
		resp, err := m.PromptUser(context.Background(), "continue?", []string{"yes", "no"})
		if err != nil {
			answered <- "error: " + err.Error()
			return
		}
		answered <- resp
	}()

	var prompt Frame
	require.NoError(t, conn.ReadJSON(&prompt))
	assert.Equal(t, "user_input_required", prompt.Type)
	require.NotEmpty(t, prompt.PromptID)

	require.NoError(t, conn.WriteJSON(Frame{
		Type:     "user_input",
		PromptID: prompt.PromptID,
		Response: "yes",
	}))

	select {
	case resp := <-answered:
		assert.Equal(t, "yes", resp)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt was never answered")
	}
}

func TestPromptUserRejectsResponseOutsideChoices(t *testing.T) {
	m := NewWSManager(5*time.Second, 100)
	srv := httptest.NewServer(m)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	answered := make(chan string, 1)
	go func() {
		resp, _ := m.PromptUser(context.Background(), "continue?", []string{"yes", "no"})
		answered <- resp
	}()

	var prompt Frame
	require.NoError(t, conn.ReadJSON(&prompt))
	require.NoError(t, conn.WriteJSON(Frame{
		Type:     "user_input",
		PromptID: prompt.PromptID,
		Response: "maybe later",
	}))

	select {
	case resp := <-answered:
		assert.Empty(t, resp, "a response outside the choice list collapses to empty")
	case <-time.After(5 * time.Second):
		t.Fatal("prompt was never answered")
	}
}

func TestMatchChoice(t *testing.T) {
	assert.Equal(t, "yes", matchChoice(" YES ", []string{"yes", "no"}))
	assert.Equal(t, "", matchChoice("maybe", []string{"yes", "no"}))
	assert.Equal(t, "anything", matchChoice("anything", nil))
}

func TestPromptUserTimeoutReturnsEmpty(t *testing.T) {
	m := NewWSManager(50*time.Millisecond, 100)

	resp, err := m.PromptUser(context.Background(), "anyone there?", nil)
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestPromptUserUnknownIDDiscarded(t *testing.T) {
	m := NewWSManager(100*time.Millisecond, 100)
	srv := httptest.NewServer(m)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Frame{
		Type:     "user_input",
		PromptID: "never-issued",
		Response: "ignored",
	}))

	// The stray response must not satisfy a later prompt.
	resp, err := m.PromptUser(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestUnknownInboundFrameIgnored(t *testing.T) {
	m := NewWSManager(5*time.Second, 100)
	srv := httptest.NewServer(m)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// An unrecognized frame type must not break the read loop.
	require.NoError(t, conn.WriteJSON(Frame{Type: "telemetry", Data: map[string]any{"x": 1}}))

	answered := make(chan string, 1)
	go func() {
		resp, _ := m.PromptUser(context.Background(), "still alive?", nil)
		answered <- resp
	}()

	var prompt Frame
	require.NoError(t, conn.ReadJSON(&prompt))
	require.NoError(t, conn.WriteJSON(Frame{
		Type:     "user_input",
		PromptID: prompt.PromptID,
		Response: "yes",
	}))

	select {
	case resp := <-answered:
		assert.Equal(t, "yes", resp)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt was never answered")
	}
}

func TestStepCompleteBroadcast(t *testing.T) {
	m := NewWSManager(time.Second, 100)
	m.NotifyStepComplete(2, 5)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.replay, 1)
	assert.Equal(t, "step_complete", m.replay[0].Type)
	assert.Equal(t, 2, m.replay[0].Data["step"])
	assert.Equal(t, 5, m.replay[0].Data["total"])
}

func TestReplayBufferBounded(t *testing.T) {
	m := NewWSManager(time.Second, 10)
	for i := 0; i < 25; i++ {
		m.DisplayMessage(fmt.Sprintf("msg %d", i), LevelInfo)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.replay, 10)
	assert.Equal(t, "msg 15", m.replay[0].Data["text"])
	assert.Equal(t, "msg 24", m.replay[9].Data["text"])
}

func TestLateJoinerReceivesReplay(t *testing.T) {
	m := NewWSManager(time.Second, 100)
	m.DisplayHeader("phase1", "Goals")
	m.DisplayMessage("hello", LevelInfo)

	srv := httptest.NewServer(m)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second Frame
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "header", first.Type)
	assert.Equal(t, "message", second.Type)
	assert.Equal(t, "hello", second.Data["text"])
}

func TestClearStreamBufferDropsTokens(t *testing.T) {
	m := NewWSManager(time.Second, 100)
	m.DisplayMessage("before", LevelInfo)
	m.DisplayStream("tok1")
	m.DisplayStream("tok2")
	m.ClearStreamBuffer()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.replay {
		assert.NotEqual(t, "stream_token", f.Type)
	}
}
