package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/fathom-agent/fathom/pkg/model"
)

// Console renders research progress to a terminal.
type Console struct {
	out           io.Writer
	in            *bufio.Reader
	promptTimeout time.Duration

	header  *color.Color
	success *color.Color
	warning *color.Color
	errorC  *color.Color
	dim     *color.Color
}

func NewConsole(promptTimeout time.Duration) *Console {
	return &Console{
		out:           os.Stdout,
		in:            bufio.NewReader(os.Stdin),
		promptTimeout: promptTimeout,
		header:        color.New(color.FgCyan, color.Bold),
		success:       color.New(color.FgGreen),
		warning:       color.New(color.FgYellow),
		errorC:        color.New(color.FgRed),
		dim:           color.New(color.Faint),
	}
}

func (c *Console) DisplayHeader(phase, title string) {
	fmt.Fprintln(c.out)
	c.header.Fprintf(c.out, "=== %s: %s ===\n", phase, title)
}

func (c *Console) DisplayMessage(text string, level Level) {
	switch level {
	case LevelError:
		c.errorC.Fprintf(c.out, "❌ %s\n", text)
	case LevelWarning:
		c.warning.Fprintf(c.out, "⚠️  %s\n", text)
	case LevelSuccess:
		c.success.Fprintf(c.out, "✅ %s\n", text)
	default:
		fmt.Fprintln(c.out, text)
	}
}

func (c *Console) DisplayProgress(current, total int, label string) {
	c.dim.Fprintf(c.out, "[%d/%d] %s\n", current, total, label)
}

func (c *Console) DisplayStream(token string) {
	fmt.Fprint(c.out, token)
}

func (c *Console) ClearStreamBuffer() {
	fmt.Fprintln(c.out)
}

func (c *Console) NotifyPhaseChange(phaseKey string) {
	c.dim.Fprintf(c.out, "→ entering %s\n", phaseKey)
}

func (c *Console) NotifyStepComplete(step, total int) {
	c.success.Fprintf(c.out, "✅ step %d/%d complete\n", step, total)
}

func (c *Console) DisplayGoals(goals []model.SuggestedGoal) {
	fmt.Fprintf(c.out, "\n📋 Suggested research goals (%d):\n\n", len(goals))
	for i, g := range goals {
		fmt.Fprintf(c.out, "%d. %s\n", i+1, g.GoalText)
		if g.Rationale != "" {
			c.dim.Fprintf(c.out, "   %s\n", g.Rationale)
		}
	}
	fmt.Fprintln(c.out)
}

func (c *Console) DisplaySynthesizedGoal(goal model.SynthesizedGoal) {
	fmt.Fprintf(c.out, "\n🎯 Research topic: %s\n", goal.ComprehensiveTopic)
	for _, q := range goal.ComponentQuestions {
		fmt.Fprintf(c.out, "   • %s\n", q)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) DisplayPlan(plan []model.PlanStep) {
	fmt.Fprintf(c.out, "\n🗺  Research plan (%d steps):\n\n", len(plan))
	for _, step := range plan {
		fmt.Fprintf(c.out, "%d. %s\n", step.StepID, step.Goal)
		c.dim.Fprintf(c.out, "   data=%s strategy=%s\n", step.RequiredData, step.ChunkStrategy)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) DisplaySummary(linkID string, kind model.DataKind, data string) {
	c.dim.Fprintf(c.out, "— %s (%s) —\n%s\n", linkID, kind, data)
}

func (c *Console) DisplayReport(text, path string) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, text)
	c.success.Fprintf(c.out, "\n📄 Report saved to %s\n", path)
}

// PromptUser reads one line from stdin. An elapsed timeout or cancelled
// context returns an empty string, which callers treat as acceptance.
func (c *Console) PromptUser(ctx context.Context, question string, choices []string) (string, error) {
	fmt.Fprintf(c.out, "\n%s\n", question)
	if len(choices) > 0 {
		c.dim.Fprintf(c.out, "(%s)\n", strings.Join(choices, " / "))
	}
	fmt.Fprint(c.out, "> ")

	lines := make(chan string, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			lines <- ""
			return
		}
		lines <- strings.TrimSpace(line)
	}()

	timer := time.NewTimer(c.promptTimeout)
	defer timer.Stop()

	select {
	case line := <-lines:
		return matchChoice(line, choices), nil
	case <-timer.C:
		fmt.Fprintln(c.out)
		c.warning.Fprintln(c.out, "No response, continuing")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ Bus = (*Console)(nil)
