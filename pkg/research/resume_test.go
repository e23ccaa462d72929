package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	store := session.NewStore(t.TempDir(), 0)
	sess, err := store.CreateOrLoad("batch1")
	require.NoError(t, err)
	return sess
}

func threeStepPlan() []model.PlanStep {
	return []model.PlanStep{
		{StepID: 1, ChunkStrategy: model.ChunkSequential},
		{StepID: 2, ChunkStrategy: model.ChunkSequential},
		{StepID: 3, ChunkStrategy: model.ChunkPreviousFindings},
	}
}

func TestDetermineResumeFreshSession(t *testing.T) {
	point, _ := determineResume(newTestSession(t), nil)
	assert.Equal(t, ResumePhase0, point)
}

func TestDetermineResumePhaseOrder(t *testing.T) {
	sess := newTestSession(t)
	keys := []struct {
		key  string
		next ResumePoint
	}{
		{session.KeyPhase0, ResumePhase0_5},
		{session.KeyPhase0_5, ResumePhase1},
		{session.KeyPhase1, ResumePhase1_5},
		{session.KeyPhase1_5, ResumePhase2},
	}
	for _, k := range keys {
		require.NoError(t, sess.SavePhaseArtifact(k.key, map[string]string{}, false))
		point, _ := determineResume(sess, nil)
		assert.Equal(t, k.next, point)
	}
}

func TestDetermineResumeAfterPlan(t *testing.T) {
	sess := newTestSession(t)
	for _, key := range []string{session.KeyPhase0, session.KeyPhase0_5, session.KeyPhase1, session.KeyPhase1_5, session.KeyPhase2} {
		require.NoError(t, sess.SavePhaseArtifact(key, map[string]string{}, false))
	}

	point, next := determineResume(sess, threeStepPlan())
	assert.Equal(t, ResumePhase3, point)
	assert.Equal(t, 1, next)
}

func TestDetermineResumeSmallestMissingStep(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.SavePhaseArtifact(session.KeyPhase2, map[string]string{}, false))
	require.NoError(t, sess.SavePhaseArtifact(session.StepArtifactKey(1), map[string]string{}, false))
	require.NoError(t, sess.SavePhaseArtifact(session.StepArtifactKey(3), map[string]string{}, false))

	point, next := determineResume(sess, threeStepPlan())
	assert.Equal(t, ResumePhase3, point)
	assert.Equal(t, 2, next)
}

func TestDetermineResumeAllStepsDone(t *testing.T) {
	sess := newTestSession(t)
	plan := threeStepPlan()
	for _, step := range plan {
		require.NoError(t, sess.SavePhaseArtifact(session.StepArtifactKey(step.StepID), map[string]string{}, false))
	}

	point, next := determineResume(sess, plan)
	assert.Equal(t, ResumePhase3, point)
	assert.Equal(t, len(plan)+1, next, "past the last step, so execution falls through to phase 4")
}

func TestDetermineResumeComplete(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.SavePhaseArtifact(session.KeyPhase4, map[string]string{}, false))

	point, _ := determineResume(sess, threeStepPlan())
	assert.Equal(t, ResumeComplete, point)
}
