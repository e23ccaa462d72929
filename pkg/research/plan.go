package research

import (
	"fmt"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/model"
)

// BuildPlan converts the accepted goals into plan steps using deterministic
// transcript-size heuristics:
//
//	W < small                → all
//	small <= W < large       → all for single-source batches, else sequential
//	W >= large               → sequential plus a final previous_findings step
func BuildPlan(goals []model.SuggestedGoal, b *batch.Batch, cfg config.ResearchConfig) []model.PlanStep {
	words := b.TotalWords()
	singleSource := len(b.Sources()) == 1

	steps := make([]model.PlanStep, 0, len(goals)+1)
	sequentialSteps := 0
	for _, goal := range goals {
		step := model.PlanStep{
			StepID:       len(steps) + 1,
			Goal:         goal.GoalText,
			RequiredData: requiredData(goal.Uses),
			StepType:     "analysis",
		}

		switch kind := step.RequiredData; {
		case kind == model.DataMetadata, kind == model.DataComments:
			step.ChunkStrategy = model.ChunkAll
		case words < cfg.SmallBatchWords:
			step.ChunkStrategy = model.ChunkAll
		case words < cfg.LargeBatchWords:
			if singleSource {
				step.ChunkStrategy = model.ChunkAll
			} else {
				step.ChunkStrategy = model.ChunkSequential
				step.ChunkSize = cfg.MediumChunkSize
			}
		default:
			step.ChunkStrategy = model.ChunkSequential
			step.ChunkSize = cfg.ChunkSize
		}
		if step.ChunkStrategy == model.ChunkSequential {
			sequentialSteps++
		}
		steps = append(steps, step)
	}

	if words >= cfg.LargeBatchWords && sequentialSteps > 0 {
		steps = append(steps, model.PlanStep{
			StepID:        len(steps) + 1,
			Goal:          "Synthesize the findings of all previous steps into a coherent overall picture",
			RequiredData:  model.DataTranscript,
			ChunkStrategy: model.ChunkPreviousFindings,
			StepType:      "synthesis",
		})
	}
	return steps
}

// requiredData maps a goal's declared data kinds onto a single step input.
func requiredData(uses []model.DataKind) model.DataKind {
	hasTranscript, hasComments := false, false
	for _, u := range uses {
		switch u {
		case model.DataTranscript:
			hasTranscript = true
		case model.DataComments:
			hasComments = true
		case model.DataTranscriptWithComments:
			return model.DataTranscriptWithComments
		case model.DataMetadata:
			if len(uses) == 1 {
				return model.DataMetadata
			}
		}
	}
	switch {
	case hasTranscript && hasComments:
		return model.DataTranscriptWithComments
	case hasComments:
		return model.DataComments
	default:
		return model.DataTranscript
	}
}

// ValidatePlan enforces the structural invariants: dense step ids from 1,
// and at most one previous_findings step which must be last.
func ValidatePlan(steps []model.PlanStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}

	synthesisSteps := 0
	for i, step := range steps {
		if step.StepID != i+1 {
			return fmt.Errorf("%w: step ids must be dense from 1, got %d at position %d", ErrInvalidPlan, step.StepID, i+1)
		}
		if step.ChunkStrategy == model.ChunkPreviousFindings {
			synthesisSteps++
			if i != len(steps)-1 {
				return fmt.Errorf("%w: previous_findings step must be last", ErrInvalidPlan)
			}
		}
	}
	if synthesisSteps > 1 {
		return fmt.Errorf("%w: at most one previous_findings step allowed", ErrInvalidPlan)
	}
	return nil
}
