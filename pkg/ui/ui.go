// Package ui decouples the research engine from its presentation. The
// engine talks to a Bus; adapters render to a terminal, fan out over
// WebSocket, or discard everything in tests. PromptUser is the only
// blocking operation on the bus.
package ui

import (
	"context"
	"strings"

	"github.com/fathom-agent/fathom/pkg/model"
)

// Level classifies a display message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Bus is the capability set the research engine needs from a UI.
type Bus interface {
	DisplayHeader(phase, title string)
	DisplayMessage(text string, level Level)
	DisplayProgress(current, total int, label string)
	DisplayStream(token string)
	ClearStreamBuffer()
	NotifyPhaseChange(phaseKey string)
	NotifyStepComplete(step, total int)
	DisplayGoals(goals []model.SuggestedGoal)
	DisplaySynthesizedGoal(goal model.SynthesizedGoal)
	DisplayPlan(plan []model.PlanStep)
	DisplaySummary(linkID string, kind model.DataKind, data string)
	DisplayReport(text, path string)

	// PromptUser blocks until the user responds, the timeout elapses, or
	// ctx is cancelled. A timeout returns an empty string with nil error.
	PromptUser(ctx context.Context, question string, choices []string) (string, error)
}

// matchChoice validates a response against a prompt's choice list. A
// response matching no choice collapses to empty, which callers treat as
// decline-or-default. An empty choice list accepts any response.
func matchChoice(response string, choices []string) string {
	response = strings.TrimSpace(response)
	if len(choices) == 0 {
		return response
	}
	for _, c := range choices {
		if strings.EqualFold(response, c) {
			return c
		}
	}
	return ""
}

// Multi fans every display call out to several buses. Prompting goes to
// the first bus only; the others see the question as a plain message.
type Multi struct {
	buses []Bus
}

func NewMulti(buses ...Bus) *Multi {
	return &Multi{buses: buses}
}

func (m *Multi) DisplayHeader(phase, title string) {
	for _, b := range m.buses {
		b.DisplayHeader(phase, title)
	}
}

func (m *Multi) DisplayMessage(text string, level Level) {
	for _, b := range m.buses {
		b.DisplayMessage(text, level)
	}
}

func (m *Multi) DisplayProgress(current, total int, label string) {
	for _, b := range m.buses {
		b.DisplayProgress(current, total, label)
	}
}

func (m *Multi) DisplayStream(token string) {
	for _, b := range m.buses {
		b.DisplayStream(token)
	}
}

func (m *Multi) ClearStreamBuffer() {
	for _, b := range m.buses {
		b.ClearStreamBuffer()
	}
}

func (m *Multi) NotifyPhaseChange(phaseKey string) {
	for _, b := range m.buses {
		b.NotifyPhaseChange(phaseKey)
	}
}

func (m *Multi) NotifyStepComplete(step, total int) {
	for _, b := range m.buses {
		b.NotifyStepComplete(step, total)
	}
}

func (m *Multi) DisplayGoals(goals []model.SuggestedGoal) {
	for _, b := range m.buses {
		b.DisplayGoals(goals)
	}
}

func (m *Multi) DisplaySynthesizedGoal(goal model.SynthesizedGoal) {
	for _, b := range m.buses {
		b.DisplaySynthesizedGoal(goal)
	}
}

func (m *Multi) DisplayPlan(plan []model.PlanStep) {
	for _, b := range m.buses {
		b.DisplayPlan(plan)
	}
}

func (m *Multi) DisplaySummary(linkID string, kind model.DataKind, data string) {
	for _, b := range m.buses {
		b.DisplaySummary(linkID, kind, data)
	}
}

func (m *Multi) DisplayReport(text, path string) {
	for _, b := range m.buses {
		b.DisplayReport(text, path)
	}
}

func (m *Multi) PromptUser(ctx context.Context, question string, choices []string) (string, error) {
	if len(m.buses) == 0 {
		return "", nil
	}
	for _, b := range m.buses[1:] {
		b.DisplayMessage(question, LevelInfo)
	}
	return m.buses[0].PromptUser(ctx, question, choices)
}

var _ Bus = (*Multi)(nil)
