package research

import (
	"context"

	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/ui"
)

// phase05Role derives the research persona used by all later prompts. The
// user may steer it with optional pre-role feedback.
func (r *run) phase05Role(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 0.5", "Research role")

	feedback, err := r.o.bus.PromptUser(ctx,
		"Any direction for the research angle? (empty to let the agent decide)", nil)
	if err != nil {
		return err
	}
	if feedback != "" {
		if err := r.sess.SetFeedback(feedback, ""); err != nil {
			return err
		}
	}

	markers, err := r.markersSummary()
	if err != nil {
		return err
	}
	overview := r.batch.Overview()
	if feedback != "" {
		overview += "\n\nUser direction: " + feedback
	}

	messages, err := r.o.composer.Compose("phase0_5", map[string]string{
		"batch_overview":  overview,
		"markers_summary": markers,
	})
	if err != nil {
		return err
	}

	var role model.ResearchRole
	if err := r.invokeInto(ctx, "phase0_5", messages, &role); err != nil {
		return err
	}
	r.o.bus.DisplayMessage("research role: "+role.Role, ui.LevelInfo)

	if err := r.sess.SetResearchRole(role); err != nil {
		return err
	}
	return r.sess.SavePhaseArtifact(session.KeyPhase0_5, role, true)
}

// researchRole returns the stored persona text for prompt substitution.
func (r *run) researchRole() string {
	role, ok := r.sess.ResearchRole()
	if !ok || role.Role == "" {
		return "research analyst"
	}
	return role.Role
}
