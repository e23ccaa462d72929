package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
)

type phase2Artifact struct {
	Steps []model.PlanStep `json:"steps"`
}

// phase2Plan builds the execution plan. Step structure comes from the
// deterministic size heuristics; the model only contributes per-step
// execution notes. The user confirms the plan, and an explicit "no" (or a
// timed-out confirmation) cancels the run before any step executes.
func (r *run) phase2Plan(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 2", "Finalize plan")

	goals, err := r.acceptedGoals()
	if err != nil {
		return err
	}
	steps := BuildPlan(goals, r.batch, r.o.cfg.Research)
	if err := ValidatePlan(steps); err != nil {
		return err
	}

	r.annotatePlan(ctx, steps)
	r.o.bus.DisplayPlan(steps)

	answer, err := r.o.bus.PromptUser(ctx, "Execute this plan?", []string{"yes", "no"})
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
		return ErrCancelled
	}

	return r.sess.SavePhaseArtifact(session.KeyPhase2, phase2Artifact{Steps: steps}, true)
}

// annotatePlan asks the model for execution notes per step. The notes are
// advisory; a failed call leaves the plan as built.
func (r *run) annotatePlan(ctx context.Context, steps []model.PlanStep) {
	goal, ok := r.sess.SynthesizedGoal()
	if !ok {
		return
	}
	goalJSON, err := json.Marshal(goal)
	if err != nil {
		return
	}

	var guidance strings.Builder
	for _, step := range steps {
		fmt.Fprintf(&guidance, "step %d: required_data=%s chunk_strategy=%s", step.StepID, step.RequiredData, step.ChunkStrategy)
		if step.ChunkSize > 0 {
			fmt.Fprintf(&guidance, " chunk_size=%d", step.ChunkSize)
		}
		fmt.Fprintf(&guidance, " goal=%q\n", step.Goal)
	}

	messages, err := r.o.composer.Compose("phase2", map[string]string{
		"research_role":         r.researchRole(),
		"synthesized_goal_json": string(goalJSON),
		"batch_overview":        r.batch.Overview(),
		"chunking_guidance":     guidance.String(),
	})
	if err != nil {
		return
	}

	var resp phase2Artifact
	if err := r.invokeInto(ctx, "phase2", messages, &resp); err != nil {
		r.o.logger.Warn("Plan annotation failed, using bare plan", "error", err)
		return
	}
	notes := make(map[int]string, len(resp.Steps))
	for _, s := range resp.Steps {
		if s.Notes != "" {
			notes[s.StepID] = s.Notes
		}
	}
	for i := range steps {
		if n, ok := notes[steps[i].StepID]; ok {
			steps[i].Notes = n
		}
	}
}
