package research

import (
	"context"
	"encoding/json"

	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
)

// phase15Synthesize unifies the accepted goals into one research frame.
// Component questions are the phase 1 goal texts verbatim; only the topic,
// theme and scope come from the model.
func (r *run) phase15Synthesize(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 1.5", "Synthesize goal")

	goals, err := r.acceptedGoals()
	if err != nil {
		return err
	}

	goalsJSON, err := json.Marshal(goalsResponse{Goals: goals})
	if err != nil {
		return err
	}
	messages, err := r.o.composer.Compose("phase1_5", map[string]string{
		"research_role": r.researchRole(),
		"goals_json":    string(goalsJSON),
	})
	if err != nil {
		return err
	}

	var goal model.SynthesizedGoal
	if err := r.invokeInto(ctx, "phase1_5", messages, &goal); err != nil {
		return err
	}

	// The model does not get to rephrase the questions.
	goal.ComponentQuestions = make([]string, len(goals))
	for i, g := range goals {
		goal.ComponentQuestions[i] = g.GoalText
	}

	r.o.bus.DisplaySynthesizedGoal(goal)
	if err := r.sess.SetSynthesizedGoal(goal); err != nil {
		return err
	}
	return r.sess.SavePhaseArtifact(session.KeyPhase1_5, goal, true)
}
