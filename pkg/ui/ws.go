package ui

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fathom-agent/fathom/pkg/model"
)

// Frame is one message on the WebSocket wire, in either direction.
type Frame struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	PromptID string         `json:"prompt_id,omitempty"`
	Response string         `json:"response,omitempty"`
}

// WSManager fans research events out to WebSocket clients and relays user
// input back to the engine. A bounded replay buffer lets late-joining
// clients catch up on recent frames; pending prompts are replayed
// separately so they survive buffer eviction until answered.
type WSManager struct {
	upgrader      websocket.Upgrader
	promptTimeout time.Duration
	replayCap     int
	logger        *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
	replay  []Frame
	mailbox map[string]chan string
	pending map[string]Frame
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

func NewWSManager(promptTimeout time.Duration, replayCap int) *WSManager {
	return &WSManager{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		promptTimeout: promptTimeout,
		replayCap:     replayCap,
		logger:        slog.Default().With("component", "ws"),
		clients:       make(map[*wsClient]bool),
		mailbox:       make(map[string]chan string),
		pending:       make(map[string]Frame),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (m *WSManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade to WebSocket", http.StatusBadRequest)
		return
	}
	client := &wsClient{conn: conn}

	m.mu.Lock()
	m.clients[client] = true
	backlog := make([]Frame, len(m.replay))
	copy(backlog, m.replay)
	prompts := make([]Frame, 0, len(m.pending))
	for _, f := range m.pending {
		prompts = append(prompts, f)
	}
	m.mu.Unlock()

	for _, f := range backlog {
		if err := client.send(f); err != nil {
			break
		}
	}
	for _, f := range prompts {
		if err := client.send(f); err != nil {
			break
		}
	}

	defer func() {
		m.mu.Lock()
		delete(m.clients, client)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "user_input" {
			m.logger.Warn("Ignoring unknown inbound frame", "type", frame.Type)
			continue
		}
		m.deposit(frame.PromptID, frame.Response)
	}
}

// deposit delivers a response into its prompt mailbox. Responses for
// unknown or already-answered prompts are discarded.
func (m *WSManager) deposit(promptID, response string) {
	m.mu.Lock()
	ch, ok := m.mailbox[promptID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("Discarding response for unknown prompt", "prompt_id", promptID)
		return
	}
	select {
	case ch <- response:
	default:
	}
}

// broadcast records the frame for replay and sends it to every client.
func (m *WSManager) broadcast(f Frame) {
	m.mu.Lock()
	m.replay = append(m.replay, f)
	if len(m.replay) > m.replayCap {
		m.replay = m.replay[len(m.replay)-m.replayCap:]
	}
	targets := make([]*wsClient, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	for _, c := range targets {
		if err := c.send(f); err != nil {
			m.logger.Warn("Failed to send to WebSocket client", "error", err)
		}
	}
}

func (m *WSManager) DisplayHeader(phase, title string) {
	m.broadcast(Frame{Type: "header", Data: map[string]any{"phase": phase, "title": title}})
}

func (m *WSManager) DisplayMessage(text string, level Level) {
	m.broadcast(Frame{Type: "message", Data: map[string]any{"text": text, "level": string(level)}})
}

func (m *WSManager) DisplayProgress(current, total int, label string) {
	m.broadcast(Frame{Type: "progress", Data: map[string]any{"current": current, "total": total, "label": label}})
}

func (m *WSManager) DisplayStream(token string) {
	m.broadcast(Frame{Type: "stream_token", Data: map[string]any{"token": token}})
}

// ClearStreamBuffer drops buffered stream tokens from the replay so late
// joiners are not flooded with a stale token tail.
func (m *WSManager) ClearStreamBuffer() {
	m.mu.Lock()
	kept := m.replay[:0]
	for _, f := range m.replay {
		if f.Type != "stream_token" {
			kept = append(kept, f)
		}
	}
	m.replay = kept
	m.mu.Unlock()

	m.broadcast(Frame{Type: "clear_stream"})
}

func (m *WSManager) NotifyPhaseChange(phaseKey string) {
	m.broadcast(Frame{Type: "phase_change", Data: map[string]any{"phase": phaseKey}})
}

func (m *WSManager) NotifyStepComplete(step, total int) {
	m.broadcast(Frame{Type: "step_complete", Data: map[string]any{"step": step, "total": total}})
}

func (m *WSManager) DisplayGoals(goals []model.SuggestedGoal) {
	m.broadcast(Frame{Type: "goals", Data: map[string]any{"goals": goals}})
}

func (m *WSManager) DisplaySynthesizedGoal(goal model.SynthesizedGoal) {
	m.broadcast(Frame{Type: "synthesized_goal", Data: map[string]any{"goal": goal}})
}

func (m *WSManager) DisplayPlan(plan []model.PlanStep) {
	m.broadcast(Frame{Type: "plan", Data: map[string]any{"steps": plan}})
}

func (m *WSManager) DisplaySummary(linkID string, kind model.DataKind, data string) {
	m.broadcast(Frame{Type: "summary", Data: map[string]any{"link_id": linkID, "kind": string(kind), "data": data}})
}

func (m *WSManager) DisplayReport(text, path string) {
	m.broadcast(Frame{Type: "report", Data: map[string]any{"text": text, "path": path}})
}

// PromptUser broadcasts a user_input_required frame and blocks until a
// matching user_input frame arrives, the timeout elapses (empty string),
// or ctx is cancelled. Prompts are never re-sent automatically; they are
// replayed only to clients that connect while the prompt is pending.
func (m *WSManager) PromptUser(ctx context.Context, question string, choices []string) (string, error) {
	promptID := uuid.NewString()
	frame := Frame{
		Type:     "user_input_required",
		PromptID: promptID,
		Data:     map[string]any{"prompt": question, "choices": choices},
	}
	ch := make(chan string, 1)

	m.mu.Lock()
	m.mailbox[promptID] = ch
	m.pending[promptID] = frame
	targets := make([]*wsClient, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.mailbox, promptID)
		delete(m.pending, promptID)
		m.mu.Unlock()
	}()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			m.logger.Warn("Failed to send prompt to WebSocket client", "error", err)
		}
	}

	timer := time.NewTimer(m.promptTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return matchChoice(resp, choices), nil
	case <-timer.C:
		m.logger.Warn("Prompt timed out", "prompt_id", promptID)
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ Bus = (*WSManager)(nil)
