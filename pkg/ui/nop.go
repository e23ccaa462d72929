package ui

import (
	"context"

	"github.com/fathom-agent/fathom/pkg/model"
)

// Nop discards all output and answers every prompt with an empty string.
// Used in tests and in non-interactive runs.
type Nop struct{}

func NewNop() *Nop { return &Nop{} }

func (Nop) DisplayHeader(string, string)                      {}
func (Nop) DisplayMessage(string, Level)                      {}
func (Nop) DisplayProgress(int, int, string)                  {}
func (Nop) DisplayStream(string)                              {}
func (Nop) ClearStreamBuffer()                                {}
func (Nop) NotifyPhaseChange(string)                          {}
func (Nop) NotifyStepComplete(int, int)                       {}
func (Nop) DisplayGoals([]model.SuggestedGoal)                {}
func (Nop) DisplaySynthesizedGoal(model.SynthesizedGoal)      {}
func (Nop) DisplayPlan([]model.PlanStep)                      {}
func (Nop) DisplaySummary(string, model.DataKind, string)     {}
func (Nop) DisplayReport(string, string)                      {}
func (Nop) PromptUser(context.Context, string, []string) (string, error) {
	return "", nil
}

var _ Bus = (*Nop)(nil)
