package research

import (
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
)

// ResumePoint names where a run picks up an existing session.
type ResumePoint string

const (
	ResumeComplete ResumePoint = "complete"
	ResumePhase0   ResumePoint = "phase0"
	ResumePhase0_5 ResumePoint = "phase0_5"
	ResumePhase1   ResumePoint = "phase1"
	ResumePhase1_5 ResumePoint = "phase1_5"
	ResumePhase2   ResumePoint = "phase2"
	ResumePhase3   ResumePoint = "phase3"
)

// determineResume derives the resume point from the session's artifacts.
// Priority: a phase4 artifact means the run is complete; a phase3 artifact
// resumes execution at the smallest step without a per-step artifact; a
// phase2 artifact resumes execution from step 1; otherwise the first
// missing artifact in phase order.
func determineResume(sess *session.Session, plan []model.PlanStep) (ResumePoint, int) {
	if sess.HasArtifact(session.KeyPhase4) {
		return ResumeComplete, 0
	}

	if sess.HasArtifact(session.KeyPhase3) || len(sess.CompletedStepIDs()) > 0 {
		done := make(map[int]bool)
		for _, id := range sess.CompletedStepIDs() {
			done[id] = true
		}
		next := len(plan) + 1
		for _, step := range plan {
			if !done[step.StepID] {
				next = step.StepID
				break
			}
		}
		return ResumePhase3, next
	}

	if sess.HasArtifact(session.KeyPhase2) {
		return ResumePhase3, 1
	}

	for _, p := range []struct {
		key   string
		point ResumePoint
	}{
		{session.KeyPhase0, ResumePhase0},
		{session.KeyPhase0_5, ResumePhase0_5},
		{session.KeyPhase1, ResumePhase1},
		{session.KeyPhase1_5, ResumePhase1_5},
		{session.KeyPhase2, ResumePhase2},
	} {
		if !sess.HasArtifact(p.key) {
			return p.point, 0
		}
	}
	return ResumePhase3, 1
}
