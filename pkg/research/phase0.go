package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/ui"
	"github.com/fathom-agent/fathom/pkg/utils"
)

// phase0Item is the normalized per-source record stored in the phase 0
// artifact, pairing the scraped content with its marker summary.
type phase0Item struct {
	LinkID     string              `json:"link_id"`
	Source     string              `json:"source"`
	URL        string              `json:"url"`
	Title      string              `json:"title"`
	Transcript string              `json:"transcript"`
	Comments   []batch.Comment     `json:"comments,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	Summary    model.ContentMarker `json:"summary"`
}

type phase0Artifact struct {
	Items   []phase0Item            `json:"items"`
	Quality model.QualityAssessment `json:"quality_assessment"`
}

// phase0Prepare summarizes each scraped item into content markers and
// assesses batch quality. A failed summary degrades to empty markers for
// that item; the phase continues.
func (r *run) phase0Prepare(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 0", "Prepare batch")

	artifact := phase0Artifact{Quality: batch.Assess(r.batch)}
	for i := range r.batch.Items {
		item := &r.batch.Items[i]
		r.o.bus.DisplayProgress(i+1, len(r.batch.Items), "summarizing "+item.LinkID)

		markers, err := r.summarizeItem(ctx, item)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			r.o.logger.Warn("Item summary failed, continuing with empty markers",
				"link_id", item.LinkID, "error", err)
			r.o.bus.DisplayMessage(
				fmt.Sprintf("summary failed for %s, continuing", item.LinkID), ui.LevelWarning)
			markers = model.ContentMarker{}
		}

		artifact.Items = append(artifact.Items, phase0Item{
			LinkID:     item.LinkID,
			Source:     item.Source,
			URL:        item.URL,
			Title:      item.Title,
			Transcript: item.Transcript,
			Comments:   item.Comments,
			Metadata:   item.Metadata,
			Summary:    markers,
		})

		if rendered := renderTranscriptMarkers(markers); rendered != "" {
			r.o.bus.DisplaySummary(item.LinkID, model.DataTranscript, rendered)
		}
		if rendered := renderCommentMarkers(markers); rendered != "" {
			r.o.bus.DisplaySummary(item.LinkID, model.DataComments, rendered)
		}
	}

	if err := r.sess.SetQuality(artifact.Quality); err != nil {
		return err
	}
	return r.sess.SavePhaseArtifact(session.KeyPhase0, artifact, true)
}

// summarizeItem runs the marker-extraction prompt for one item.
func (r *run) summarizeItem(ctx context.Context, item *batch.Item) (model.ContentMarker, error) {
	transcript, _ := utils.TruncateChars(item.Transcript, r.o.cfg.Research.Budgets.TranscriptChars)
	comments, _ := utils.TruncateChars(item.CommentsText("likes", 50), r.o.cfg.Research.Budgets.CommentsChars)
	if comments == "" {
		comments = "(no comments)"
	}

	messages, err := r.o.composer.Compose("phase0", map[string]string{
		"link_id":     item.LinkID,
		"source_kind": item.Source,
		"title":       item.Title,
		"transcript":  transcript,
		"comments":    comments,
	})
	if err != nil {
		return model.ContentMarker{}, err
	}

	var markers model.ContentMarker
	if err := r.invokeInto(ctx, "phase0", messages, &markers); err != nil {
		return model.ContentMarker{}, err
	}
	return markers, nil
}

func writeMarkerList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}

func renderTranscriptMarkers(m model.ContentMarker) string {
	var sb strings.Builder
	writeMarkerList(&sb, "Key facts", m.Transcript.KeyFacts)
	writeMarkerList(&sb, "Key opinions", m.Transcript.KeyOpinions)
	writeMarkerList(&sb, "Key datapoints", m.Transcript.KeyDatapoints)
	writeMarkerList(&sb, "Topic areas", m.Transcript.TopicAreas)
	return strings.TrimSpace(sb.String())
}

func renderCommentMarkers(m model.ContentMarker) string {
	var sb strings.Builder
	writeMarkerList(&sb, "Facts from comments", m.Comments.KeyFactsFromComments)
	writeMarkerList(&sb, "Opinions from comments", m.Comments.KeyOpinionsFromComments)
	writeMarkerList(&sb, "Major comment themes", m.Comments.MajorThemes)
	if m.Comments.SentimentOverview != "" {
		fmt.Fprintf(&sb, "Comment sentiment: %s\n", m.Comments.SentimentOverview)
	}
	return strings.TrimSpace(sb.String())
}

// renderMarkers flattens a full marker set for prompt context.
func renderMarkers(m model.ContentMarker) string {
	t := renderTranscriptMarkers(m)
	c := renderCommentMarkers(m)
	switch {
	case t == "":
		return c
	case c == "":
		return t
	default:
		return t + "\n" + c
	}
}

// markersSummary renders every item's markers for downstream prompts.
func (r *run) markersSummary() (string, error) {
	var artifact phase0Artifact
	ok, err := r.sess.GetPhaseArtifact(session.KeyPhase0, &artifact)
	if err != nil {
		return "", err
	}
	if !ok {
		return "(no marker summaries available)", nil
	}

	var sb strings.Builder
	for _, item := range artifact.Items {
		fmt.Fprintf(&sb, "### %s: %s\n%s\n\n", item.LinkID, item.Title, renderMarkers(item.Summary))
	}
	return strings.TrimSpace(sb.String()), nil
}

// qualityJSON renders the stored quality assessment for phase 4.
func (r *run) qualityJSON() string {
	var artifact phase0Artifact
	if ok, err := r.sess.GetPhaseArtifact(session.KeyPhase0, &artifact); err != nil || !ok {
		return "{}"
	}
	raw, err := json.Marshal(artifact.Quality)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
