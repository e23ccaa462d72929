package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
)

type phase1Artifact struct {
	Goals           []model.SuggestedGoal `json:"goals"`
	AmendmentRounds int                   `json:"amendment_rounds"`
}

type goalsResponse struct {
	Goals []model.SuggestedGoal `json:"goals"`
}

// phase1Goals proposes research goals and loops through user amendments.
// An empty amendment accepts the goals; after the configured number of
// rounds the current goals are accepted regardless.
func (r *run) phase1Goals(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 1", "Discover goals")

	markers, err := r.markersSummary()
	if err != nil {
		return err
	}
	userFeedback := ""
	if r.req.Topic != "" {
		userFeedback = "The user wants the research focused on: " + r.req.Topic
	}

	messages, err := r.o.composer.Compose("phase1", map[string]string{
		"research_role":   r.researchRole(),
		"batch_overview":  r.batch.Overview(),
		"markers_summary": markers,
		"user_feedback":   userFeedback,
	})
	if err != nil {
		return err
	}

	goals, err := r.requestGoals(ctx, messages)
	if err != nil {
		return err
	}

	rounds := 0
	for rounds < r.o.cfg.Research.MaxAmendmentRounds {
		r.o.bus.DisplayGoals(goals)
		amendment, err := r.o.bus.PromptUser(ctx,
			"How should these goals be amended? (empty to accept)", nil)
		if err != nil {
			return err
		}
		if amendment == "" {
			break
		}
		rounds++
		if err := r.sess.SetFeedback("", amendment); err != nil {
			return err
		}

		goalsJSON, err := json.Marshal(goalsResponse{Goals: goals})
		if err != nil {
			return err
		}
		amendPrompt, err := r.o.composer.Render("phase1/amend.md", map[string]string{
			"amendment":  amendment,
			"goals_json": string(goalsJSON),
		})
		if err != nil {
			return err
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: string(goalsJSON)},
			llm.Message{Role: llm.RoleUser, Content: amendPrompt},
		)
		goals, err = r.requestGoals(ctx, messages)
		if err != nil {
			return err
		}
	}

	for i := range goals {
		if goals[i].Status == "" || goals[i].Status == model.GoalSuggested {
			goals[i].Status = model.GoalAccepted
		}
	}
	return r.sess.SavePhaseArtifact(session.KeyPhase1, phase1Artifact{
		Goals:           goals,
		AmendmentRounds: rounds,
	}, true)
}

func (r *run) requestGoals(ctx context.Context, messages []llm.Message) ([]model.SuggestedGoal, error) {
	var resp goalsResponse
	if err := r.invokeInto(ctx, "phase1", messages, &resp); err != nil {
		return nil, err
	}
	if len(resp.Goals) == 0 {
		return nil, ErrEmptyGoals
	}
	for i := range resp.Goals {
		if resp.Goals[i].ID == 0 {
			resp.Goals[i].ID = i + 1
		}
		if resp.Goals[i].GoalText == "" {
			return nil, fmt.Errorf("%w: goal %d has no text", ErrEmptyGoals, resp.Goals[i].ID)
		}
	}
	return resp.Goals, nil
}

// acceptedGoals loads the goals stored by phase 1.
func (r *run) acceptedGoals() ([]model.SuggestedGoal, error) {
	var artifact phase1Artifact
	ok, err := r.sess.GetPhaseArtifact(session.KeyPhase1, &artifact)
	if err != nil {
		return nil, err
	}
	if !ok || len(artifact.Goals) == 0 {
		return nil, ErrEmptyGoals
	}
	return artifact.Goals, nil
}
