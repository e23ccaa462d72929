package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/model"
)

func transcriptGoals(n int) []model.SuggestedGoal {
	goals := make([]model.SuggestedGoal, n)
	for i := range goals {
		goals[i] = model.SuggestedGoal{
			ID:       i + 1,
			GoalText: "goal",
			Uses:     []model.DataKind{model.DataTranscript},
			Status:   model.GoalAccepted,
		}
	}
	return goals
}

func multiSourceBatch(words int) *batch.Batch {
	b := wordBatch(words / 2)
	second := b.Items[0]
	second.LinkID = "art1"
	second.Source = "article"
	b.Items = append(b.Items, second)
	return b
}

func TestBuildPlanSmallBatchUsesAll(t *testing.T) {
	steps := BuildPlan(transcriptGoals(2), wordBatch(4999), testResearchConfig())
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.Equal(t, model.ChunkAll, s.ChunkStrategy)
		assert.Equal(t, "analysis", s.StepType)
	}
}

func TestBuildPlanMediumSingleSourceUsesAll(t *testing.T) {
	steps := BuildPlan(transcriptGoals(1), wordBatch(7000), testResearchConfig())
	require.Len(t, steps, 1)
	assert.Equal(t, model.ChunkAll, steps[0].ChunkStrategy)
}

func TestBuildPlanMediumMultiSourceUsesSequential(t *testing.T) {
	cfg := testResearchConfig()
	steps := BuildPlan(transcriptGoals(1), multiSourceBatch(7000), cfg)
	require.Len(t, steps, 1)
	assert.Equal(t, model.ChunkSequential, steps[0].ChunkStrategy)
	assert.Equal(t, cfg.MediumChunkSize, steps[0].ChunkSize)
}

func TestBuildPlanLargeBatchAppendsSynthesis(t *testing.T) {
	cfg := testResearchConfig()
	steps := BuildPlan(transcriptGoals(2), wordBatch(15000), cfg)
	require.Len(t, steps, 3)

	for _, s := range steps[:2] {
		assert.Equal(t, model.ChunkSequential, s.ChunkStrategy)
		assert.Equal(t, cfg.ChunkSize, s.ChunkSize)
	}
	last := steps[2]
	assert.Equal(t, 3, last.StepID)
	assert.Equal(t, model.ChunkPreviousFindings, last.ChunkStrategy)
	assert.Equal(t, "synthesis", last.StepType)
	assert.NoError(t, ValidatePlan(steps))
}

func TestBuildPlanBoundaries(t *testing.T) {
	cfg := testResearchConfig()
	tests := []struct {
		words int
		want  model.ChunkStrategy
	}{
		{cfg.SmallBatchWords - 1, model.ChunkAll},
		{cfg.SmallBatchWords, model.ChunkAll}, // single source stays all in the medium band
		{cfg.LargeBatchWords, model.ChunkSequential},
	}
	for _, tc := range tests {
		steps := BuildPlan(transcriptGoals(1), wordBatch(tc.words), cfg)
		assert.Equal(t, tc.want, steps[0].ChunkStrategy, "words=%d", tc.words)
	}
}

func TestBuildPlanMetadataAndCommentsAlwaysAll(t *testing.T) {
	goals := []model.SuggestedGoal{
		{ID: 1, GoalText: "audience", Uses: []model.DataKind{model.DataComments}},
		{ID: 2, GoalText: "context", Uses: []model.DataKind{model.DataMetadata}},
	}
	steps := BuildPlan(goals, wordBatch(20000), testResearchConfig())
	require.Len(t, steps, 2, "no synthesis step when nothing is sequential")
	assert.Equal(t, model.DataComments, steps[0].RequiredData)
	assert.Equal(t, model.ChunkAll, steps[0].ChunkStrategy)
	assert.Equal(t, model.DataMetadata, steps[1].RequiredData)
	assert.Equal(t, model.ChunkAll, steps[1].ChunkStrategy)
}

func TestRequiredData(t *testing.T) {
	tests := []struct {
		uses []model.DataKind
		want model.DataKind
	}{
		{[]model.DataKind{model.DataTranscript}, model.DataTranscript},
		{[]model.DataKind{model.DataComments}, model.DataComments},
		{[]model.DataKind{model.DataTranscript, model.DataComments}, model.DataTranscriptWithComments},
		{[]model.DataKind{model.DataMetadata}, model.DataMetadata},
		{[]model.DataKind{model.DataMetadata, model.DataTranscript}, model.DataTranscript},
		{nil, model.DataTranscript},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, requiredData(tc.uses), "uses=%v", tc.uses)
	}
}

func TestValidatePlanRejections(t *testing.T) {
	assert.ErrorIs(t, ValidatePlan(nil), ErrInvalidPlan)

	sparse := []model.PlanStep{{StepID: 1}, {StepID: 3}}
	assert.ErrorIs(t, ValidatePlan(sparse), ErrInvalidPlan)

	synthesisFirst := []model.PlanStep{
		{StepID: 1, ChunkStrategy: model.ChunkPreviousFindings},
		{StepID: 2, ChunkStrategy: model.ChunkAll},
	}
	assert.ErrorIs(t, ValidatePlan(synthesisFirst), ErrInvalidPlan)

	valid := []model.PlanStep{
		{StepID: 1, ChunkStrategy: model.ChunkSequential},
		{StepID: 2, ChunkStrategy: model.ChunkPreviousFindings},
	}
	assert.NoError(t, ValidatePlan(valid))
}
