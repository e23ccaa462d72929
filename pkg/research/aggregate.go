package research

import (
	"strings"

	"github.com/fathom-agent/fathom/pkg/model"
)

var subArrays = []string{
	"key_claims",
	"notable_evidence",
	"controversial_topics",
	"surprising_insights",
	"specific_examples",
	"open_questions",
}

// windowResponse is the object the model emits per window. Requests, when
// present, trigger a retrieval round before the window finalizes.
type windowResponse struct {
	Findings   model.Findings           `json:"findings"`
	Insights   string                   `json:"insights,omitempty"`
	Confidence float64                  `json:"confidence,omitempty"`
	Sources    []string                 `json:"sources,omitempty"`
	Requests   []model.RetrievalRequest `json:"requests,omitempty"`
}

// Aggregator merges window contributions into one step finding. Overlapping
// windows routinely restate the same claim, so every points-of-interest
// sub-array deduplicates on a normalized signature of its canonical text
// field; duplicates merge their multi-valued neighbor fields instead of
// being dropped. Iteration order is first insertion.
type Aggregator struct {
	maxPerWindow int

	subs        map[string]*orderedEntries
	summaries   []string
	insights    []string
	confidences []float64
	sources     []string
	sourceSeen  map[string]bool

	windows       int
	failedWindows int
}

type orderedEntries struct {
	order   []string
	entries map[string]*model.PointEntry
}

func NewAggregator(maxPerWindow int) *Aggregator {
	subs := make(map[string]*orderedEntries, len(subArrays))
	for _, name := range subArrays {
		subs[name] = &orderedEntries{entries: make(map[string]*model.PointEntry)}
	}
	return &Aggregator{
		maxPerWindow: maxPerWindow,
		subs:         subs,
		sourceSeen:   make(map[string]bool),
	}
}

// normalizeSignature trims, lowercases and collapses whitespace so trivial
// rephrasings of the same text collide.
func normalizeSignature(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// AddWindow merges one parsed contribution. linkIDs are the links whose
// content filled the window; a window that contributed anything vouches for
// its links even when the model omitted a sources array.
func (a *Aggregator) AddWindow(resp windowResponse, linkIDs []string) {
	a.windows++

	if s := strings.TrimSpace(resp.Findings.Summary); s != "" {
		a.summaries = append(a.summaries, s)
	}
	if s := strings.TrimSpace(resp.Insights); s != "" {
		a.insights = append(a.insights, s)
	}
	a.confidences = append(a.confidences, resp.Confidence)
	a.addSources(resp.Sources)
	if contributed(resp) {
		a.addSources(linkIDs)
	}

	poi := resp.Findings.PointsOfInterest
	a.mergeSub("key_claims", poi.KeyClaims)
	a.mergeSub("notable_evidence", poi.NotableEvidence)
	a.mergeSub("controversial_topics", poi.ControversialTopics)
	a.mergeSub("surprising_insights", poi.SurprisingInsights)
	a.mergeSub("specific_examples", poi.SpecificExamples)
	a.mergeSub("open_questions", poi.OpenQuestions)
}

func (a *Aggregator) addSources(ids []string) {
	for _, src := range ids {
		if src != "" && !a.sourceSeen[src] {
			a.sourceSeen[src] = true
			a.sources = append(a.sources, src)
		}
	}
}

// contributed reports whether the response carries any findings content.
func contributed(resp windowResponse) bool {
	if strings.TrimSpace(resp.Findings.Summary) != "" || strings.TrimSpace(resp.Insights) != "" {
		return true
	}
	poi := resp.Findings.PointsOfInterest
	return len(poi.KeyClaims)+len(poi.NotableEvidence)+len(poi.ControversialTopics)+
		len(poi.SurprisingInsights)+len(poi.SpecificExamples)+len(poi.OpenQuestions) > 0
}

// AddFailedWindow records a window that produced no parseable contribution.
// It counts toward the confidence denominator with zero weight.
func (a *Aggregator) AddFailedWindow() {
	a.windows++
	a.failedWindows++
}

// mergeSub appends unseen entries (capped per window) and merges neighbor
// fields into existing entries on signature collision.
func (a *Aggregator) mergeSub(name string, entries []model.PointEntry) {
	sub := a.subs[name]
	added := 0
	for i := range entries {
		entry := entries[i]
		sig := normalizeSignature(entry.CanonicalText(name))
		if sig == "" {
			continue
		}

		if existing, ok := sub.entries[sig]; ok {
			mergeEntry(existing, entry)
			continue
		}
		if a.maxPerWindow > 0 && added >= a.maxPerWindow {
			continue
		}
		clone := entry
		sub.entries[sig] = &clone
		sub.order = append(sub.order, sig)
		added++
	}
}

// mergeEntry folds a duplicate into the existing entry: multi-valued fields
// union, scalar fields keep their first occurrence.
func mergeEntry(dst *model.PointEntry, src model.PointEntry) {
	dst.Proponents = unionStrings(dst.Proponents, src.Proponents)
	dst.Opponents = unionStrings(dst.Opponents, src.Opponents)
	dst.OpposingViews = unionStrings(dst.OpposingViews, src.OpposingViews)
	dst.SourceLinkIDs = unionStrings(dst.SourceLinkIDs, src.SourceLinkIDs)

	if dst.Speaker == "" {
		dst.Speaker = src.Speaker
	}
	if dst.Context == "" {
		dst.Context = src.Context
	}
}

func unionStrings(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if s != "" && !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// Finalize produces the step finding: insights joined, confidence averaged
// over non-empty contributions, sources in first-seen order, and a final
// exact-text dedup pass over every sub-array.
func (a *Aggregator) Finalize(stepID int) model.StepFinding {
	finding := model.StepFinding{
		StepID:   stepID,
		Insights: strings.Join(a.insights, "\n"),
		Sources:  a.sources,
	}
	finding.Findings.Summary = strings.Join(a.summaries, "\n")
	finding.Findings.PointsOfInterest = model.PointsOfInterest{
		KeyClaims:           a.collect("key_claims"),
		NotableEvidence:     a.collect("notable_evidence"),
		ControversialTopics: a.collect("controversial_topics"),
		SurprisingInsights:  a.collect("surprising_insights"),
		SpecificExamples:    a.collect("specific_examples"),
		OpenQuestions:       a.collect("open_questions"),
	}

	if n := len(a.confidences); n > 0 {
		var sum float64
		for _, c := range a.confidences {
			sum += c
		}
		finding.Confidence = sum / float64(n)
	}
	if a.windows > 0 && a.failedWindows == a.windows {
		finding.Confidence = 0
	}
	return finding
}

// FailedEntirely reports whether no window contributed anything.
func (a *Aggregator) FailedEntirely() bool {
	return a.windows > 0 && a.failedWindows == a.windows
}

// RunningSummary renders the aggregate so far for the next window's prompt.
func (a *Aggregator) RunningSummary() string {
	if a.windows == 0 {
		return "(first window, nothing aggregated yet)"
	}

	var sb strings.Builder
	if len(a.summaries) > 0 {
		sb.WriteString("Summary so far: ")
		sb.WriteString(a.summaries[len(a.summaries)-1])
		sb.WriteString("\n")
	}
	for _, name := range subArrays {
		sub := a.subs[name]
		if len(sub.order) == 0 {
			continue
		}
		sb.WriteString(name)
		sb.WriteString(":\n")
		for _, sig := range sub.order {
			sb.WriteString("- ")
			sb.WriteString(sub.entries[sig].CanonicalText(name))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

// collect returns the entries of a sub-array in first-insertion order with
// an exact-text safeguard pass.
func (a *Aggregator) collect(name string) []model.PointEntry {
	sub := a.subs[name]
	if len(sub.order) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(sub.order))
	out := make([]model.PointEntry, 0, len(sub.order))
	for _, sig := range sub.order {
		entry := sub.entries[sig]
		text := entry.CanonicalText(name)
		if seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, *entry)
	}
	return out
}
