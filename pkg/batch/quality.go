package batch

import (
	"github.com/montanaflynn/stats"

	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/utils"
)

// Quality thresholds. Flags are advisory; they shape planning prompts but
// never block a run.
const (
	sparsityMeanWords   = 300
	commentCoverageMin  = 0.3
	longContentWords    = 10000
	imbalanceStdDevSpan = 1.0 // stddev greater than mean counts as imbalanced
)

// Assess computes batch statistics and quality flags.
func Assess(b *Batch) model.QualityAssessment {
	wordCounts := make([]float64, 0, len(b.Items))
	totalWords := 0
	totalComments := 0
	itemsWithComments := 0

	for i := range b.Items {
		words := utils.WordCount(b.Items[i].Transcript)
		wordCounts = append(wordCounts, float64(words))
		totalWords += words
		totalComments += len(b.Items[i].Comments)
		if len(b.Items[i].Comments) > 0 {
			itemsWithComments++
		}
	}

	mean, _ := stats.Mean(wordCounts)
	stdDev, _ := stats.StandardDeviation(wordCounts)
	median, _ := stats.Median(wordCounts)

	qa := model.QualityAssessment{
		ItemCount:          len(b.Items),
		TotalWords:         totalWords,
		MeanWordsPerItem:   mean,
		StdDevWordsPerItem: stdDev,
		MedianWordsPerItem: median,
		TotalComments:      totalComments,
		ItemsWithComments:  itemsWithComments,
		DistinctSources:    len(b.Sources()),
	}

	if len(b.Items) > 1 && stdDev > mean*imbalanceStdDevSpan {
		qa.Flags = append(qa.Flags, model.FlagImbalance)
	}
	if mean < sparsityMeanWords {
		qa.Flags = append(qa.Flags, model.FlagSparsity)
	}
	if float64(itemsWithComments) < commentCoverageMin*float64(len(b.Items)) {
		qa.Flags = append(qa.Flags, model.FlagLowCommentCoverage)
	}
	if qa.DistinctSources <= 1 {
		qa.Flags = append(qa.Flags, model.FlagSingleSource)
	}
	if totalWords >= longContentWords {
		qa.Flags = append(qa.Flags, model.FlagLongContent)
	}
	return qa
}
