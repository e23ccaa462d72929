// Package model defines the shared domain types of the research pipeline:
// goals, plan steps, step findings, content markers and retrieval requests.
//
// The types here are persisted inside session phase artifacts, so their JSON
// shape is a compatibility surface. Fields are only ever added, never renamed.
package model

// DataKind identifies which slice of a scraped item a goal or step operates on.
type DataKind string

const (
	DataTranscript             DataKind = "transcript"
	DataComments               DataKind = "comments"
	DataTranscriptWithComments DataKind = "transcript_with_comments"
	DataMetadata               DataKind = "metadata"
)

// ChunkStrategy determines how Phase 3 windows the content for a step.
type ChunkStrategy string

const (
	ChunkAll              ChunkStrategy = "all"
	ChunkSequential       ChunkStrategy = "sequential"
	ChunkRandomSample     ChunkStrategy = "random_sample"
	ChunkPreviousFindings ChunkStrategy = "previous_findings"
)

// GoalStatus tracks the lifecycle of a suggested goal.
type GoalStatus string

const (
	GoalSuggested GoalStatus = "suggested"
	GoalAccepted  GoalStatus = "accepted"
	GoalAmended   GoalStatus = "amended"
)

// SuggestedGoal is a single research goal proposed in Phase 1.
type SuggestedGoal struct {
	ID        int        `json:"id"`
	GoalText  string     `json:"goal_text"`
	Rationale string     `json:"rationale"`
	Uses      []DataKind `json:"uses"`
	Status    GoalStatus `json:"status,omitempty"`
}

// SynthesizedGoal is the Phase 1.5 unification of the accepted goals.
// ComponentQuestions preserve the Phase 1 goal texts verbatim; only the
// surrounding framing is model-generated.
type SynthesizedGoal struct {
	ComprehensiveTopic string   `json:"comprehensive_topic"`
	ComponentQuestions []string `json:"component_questions"`
	UnifyingTheme      string   `json:"unifying_theme"`
	ResearchScope      string   `json:"research_scope"`
}

// ResearchRole is the Phase 0.5 persona adopted for all later prompts.
type ResearchRole struct {
	Role      string `json:"role"`
	Rationale string `json:"rationale"`
}

// PlanStep is one executable unit of the Phase 2 plan.
//
// Invariants: StepIDs are dense starting at 1; at most one step uses
// ChunkPreviousFindings and it must be last; ChunkSize is only meaningful
// for ChunkSequential.
type PlanStep struct {
	StepID        int           `json:"step_id"`
	Goal          string        `json:"goal"`
	RequiredData  DataKind      `json:"required_data"`
	ChunkStrategy ChunkStrategy `json:"chunk_strategy"`
	ChunkSize     int           `json:"chunk_size,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	StepType      string        `json:"step_type,omitempty"`
}

// PointEntry is one item in a points-of-interest sub-array. The canonical
// text field differs per sub-array (claim, quote, topic, ...); neighbor
// fields carry attribution that gets merged on duplicate detection.
type PointEntry struct {
	Claim         string   `json:"claim,omitempty"`
	Quote         string   `json:"quote,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Insight       string   `json:"insight,omitempty"`
	Example       string   `json:"example,omitempty"`
	Question      string   `json:"question,omitempty"`
	Speaker       string   `json:"speaker,omitempty"`
	Context       string   `json:"context,omitempty"`
	Proponents    []string `json:"proponents,omitempty"`
	Opponents     []string `json:"opponents,omitempty"`
	OpposingViews []string `json:"opposing_views,omitempty"`
	SourceLinkIDs []string `json:"source_link_ids,omitempty"`
}

// PointsOfInterest groups the multi-perspective findings of a step.
type PointsOfInterest struct {
	KeyClaims           []PointEntry `json:"key_claims,omitempty"`
	NotableEvidence     []PointEntry `json:"notable_evidence,omitempty"`
	ControversialTopics []PointEntry `json:"controversial_topics,omitempty"`
	SurprisingInsights  []PointEntry `json:"surprising_insights,omitempty"`
	SpecificExamples    []PointEntry `json:"specific_examples,omitempty"`
	OpenQuestions       []PointEntry `json:"open_questions,omitempty"`
}

// Findings is the structured body of a step result.
type Findings struct {
	Summary          string           `json:"summary"`
	PointsOfInterest PointsOfInterest `json:"points_of_interest"`
	AnalysisDetails  string           `json:"analysis_details,omitempty"`
}

// StepFinding is the complete output of one Phase 3 step.
type StepFinding struct {
	StepID     int      `json:"step_id"`
	Findings   Findings `json:"findings"`
	Insights   string   `json:"insights"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// TranscriptMarkers is the transcript-side summary produced in Phase 0.
type TranscriptMarkers struct {
	KeyFacts      []string `json:"key_facts"`
	KeyOpinions   []string `json:"key_opinions"`
	KeyDatapoints []string `json:"key_datapoints"`
	TopicAreas    []string `json:"topic_areas"`
}

// CommentMarkers is the comments-side summary produced in Phase 0.
type CommentMarkers struct {
	KeyFactsFromComments    []string `json:"key_facts_from_comments"`
	KeyOpinionsFromComments []string `json:"key_opinions_from_comments"`
	MajorThemes             []string `json:"major_themes"`
	SentimentOverview       string   `json:"sentiment_overview"`
}

// ContentMarker pairs both marker sets for one scraped item.
type ContentMarker struct {
	Transcript TranscriptMarkers `json:"transcript"`
	Comments   CommentMarkers    `json:"comments"`
}

// RetrievalMethod selects how a mid-stream retrieval request is resolved.
type RetrievalMethod string

const (
	RetrieveWordRange RetrievalMethod = "word_range"
	RetrieveKeyword   RetrievalMethod = "keyword"
	RetrieveSemantic  RetrievalMethod = "semantic"
	RetrieveAll       RetrievalMethod = "all"
)

// RetrievalRequest is emitted by the model mid-response during Phase 3.
type RetrievalRequest struct {
	ID           string              `json:"id"`
	ContentType  DataKind            `json:"content_type"`
	SourceLinkID string              `json:"source_link_id"`
	Method       RetrievalMethod     `json:"method"`
	Parameters   RetrievalParameters `json:"parameters"`
	Reason       string              `json:"reason,omitempty"`
}

// RetrievalParameters carries the method-specific arguments of a request.
// Only the fields relevant to the chosen method are consulted.
type RetrievalParameters struct {
	Start         int      `json:"start,omitempty"`
	End           int      `json:"end,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
	Query         string   `json:"query,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// RetrievalResult is what the handler feeds back into the conversation.
// A failed request carries Error and empty content; the step continues.
type RetrievalResult struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	SpanInfo  string `json:"span_info,omitempty"`
	Error     string `json:"error,omitempty"`
}

// QualityFlag marks a structural weakness of a batch detected in Phase 0.
type QualityFlag string

const (
	FlagImbalance          QualityFlag = "imbalance"
	FlagSparsity           QualityFlag = "sparsity"
	FlagLowCommentCoverage QualityFlag = "low_comment_coverage"
	FlagSingleSource       QualityFlag = "single_source"
	FlagLongContent        QualityFlag = "long_content"
)

// QualityAssessment summarizes batch statistics and detected flags.
type QualityAssessment struct {
	ItemCount          int           `json:"item_count"`
	TotalWords         int           `json:"total_words"`
	MeanWordsPerItem   float64       `json:"mean_words_per_item"`
	StdDevWordsPerItem float64       `json:"stddev_words_per_item"`
	MedianWordsPerItem float64       `json:"median_words_per_item"`
	TotalComments      int           `json:"total_comments"`
	ItemsWithComments  int           `json:"items_with_comments"`
	DistinctSources    int           `json:"distinct_sources"`
	Flags              []QualityFlag `json:"flags,omitempty"`
}

// CostBreakdown accumulates token usage across LLM calls.
type CostBreakdown struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Calls            int    `json:"calls"`
}

// Add merges another breakdown into this one.
func (c *CostBreakdown) Add(other CostBreakdown) {
	if c.Model == "" {
		c.Model = other.Model
	}
	c.PromptTokens += other.PromptTokens
	c.CompletionTokens += other.CompletionTokens
	c.TotalTokens += other.TotalTokens
	if other.Calls > 0 {
		c.Calls += other.Calls
	} else if other.TotalTokens > 0 {
		c.Calls++
	}
}

// CanonicalText returns the text the dedup signature is computed from,
// given the sub-array the entry belongs to.
func (e PointEntry) CanonicalText(subArray string) string {
	switch subArray {
	case "key_claims":
		return e.Claim
	case "notable_evidence":
		return e.Quote
	case "controversial_topics":
		return e.Topic
	case "surprising_insights":
		return e.Insight
	case "specific_examples":
		return e.Example
	case "open_questions":
		return e.Question
	}
	// Fall back to the first populated text field.
	for _, s := range []string{e.Claim, e.Quote, e.Topic, e.Insight, e.Example, e.Question} {
		if s != "" {
			return s
		}
	}
	return ""
}
