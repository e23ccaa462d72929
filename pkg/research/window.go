package research

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/utils"
)

// randomSampleWords caps the content size of a random_sample window.
const randomSampleWords = 3000

// Window is one sized slice of content submitted to the model in a single
// round of a step.
type Window struct {
	Index   int
	Total   int
	Content string
	LinkIDs []string

	// PreviousTail carries the trailing words of the prior window for
	// sequential strategies, giving the model continuity across the cut.
	PreviousTail string
}

// buildWindows slices the batch content for one plan step. The scratchpad
// summary is only consulted for previous_findings steps.
func buildWindows(b *batch.Batch, step model.PlanStep, cfg config.ResearchConfig, scratchpad string) ([]Window, error) {
	if step.ChunkStrategy == model.ChunkPreviousFindings {
		return []Window{{Index: 1, Total: 1, Content: scratchpad}}, nil
	}

	content, linkIDs := joinContent(b, step.RequiredData)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("batch has no %s content", step.RequiredData)
	}

	switch step.ChunkStrategy {
	case model.ChunkAll:
		budget := contentBudget(step.RequiredData, cfg)
		if len(content) > budget {
			// Too big for a single call; degrade to sequential paging.
			return sequentialWindows(content, linkIDs, chunkSize(step, cfg), cfg.ChunkOverlap), nil
		}
		return []Window{{Index: 1, Total: 1, Content: content, LinkIDs: linkIDs}}, nil

	case model.ChunkSequential:
		return sequentialWindows(content, linkIDs, chunkSize(step, cfg), cfg.ChunkOverlap), nil

	case model.ChunkRandomSample:
		return []Window{{Index: 1, Total: 1, Content: sampleContent(b, step.RequiredData), LinkIDs: linkIDs}}, nil

	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", step.ChunkStrategy)
	}
}

// joinContent renders the requested kind across the whole batch, one block
// per item with a link_id header so findings can be attributed.
func joinContent(b *batch.Batch, kind model.DataKind) (string, []string) {
	var sb strings.Builder
	var linkIDs []string
	for i := range b.Items {
		item := &b.Items[i]
		block := itemContent(item, kind)
		if strings.TrimSpace(block) == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s: %s\n%s\n\n", item.LinkID, item.Title, block)
		linkIDs = append(linkIDs, item.LinkID)
	}
	return strings.TrimSpace(sb.String()), linkIDs
}

func itemContent(item *batch.Item, kind model.DataKind) string {
	switch kind {
	case model.DataComments:
		return item.CommentsText("likes", 0)
	case model.DataMetadata:
		return item.MetadataText()
	case model.DataTranscriptWithComments:
		comments := item.CommentsText("likes", 0)
		if comments == "" {
			return item.Transcript
		}
		return item.Transcript + "\n\n### Comments\n" + comments
	default:
		return item.Transcript
	}
}

func contentBudget(kind model.DataKind, cfg config.ResearchConfig) int {
	switch kind {
	case model.DataComments:
		return cfg.Budgets.CommentsChars
	case model.DataMetadata:
		return cfg.Budgets.MetadataChars
	default:
		return cfg.Budgets.TranscriptChars
	}
}

func chunkSize(step model.PlanStep, cfg config.ResearchConfig) int {
	if step.ChunkSize > 0 {
		return step.ChunkSize
	}
	return cfg.ChunkSize
}

// sequentialWindows splits content into word windows with overlap. Each
// window after the first also records the tail of its predecessor.
func sequentialWindows(content string, linkIDs []string, size, overlap int) []Window {
	words := strings.Fields(content)
	if size <= 0 {
		size = 3000
	}
	if overlap >= size {
		overlap = size / 4
	}

	var spans [][2]int
	for start := 0; start < len(words); start += size - overlap {
		end := min(start+size, len(words))
		spans = append(spans, [2]int{start, end})
		if end == len(words) {
			break
		}
	}

	windows := make([]Window, len(spans))
	for i, span := range spans {
		w := Window{
			Index:   i + 1,
			Total:   len(spans),
			Content: strings.Join(words[span[0]:span[1]], " "),
			LinkIDs: linkIDs,
		}
		if i > 0 {
			prevEnd := spans[i-1][1]
			tailStart := max(0, prevEnd-overlap)
			w.PreviousTail = strings.Join(words[tailStart:prevEnd], " ")
		}
		windows[i] = w
	}
	return windows
}

// sampleContent draws a uniform sample: comments by item, transcripts by a
// random contiguous word span per item.
func sampleContent(b *batch.Batch, kind model.DataKind) string {
	if kind == model.DataComments {
		var all []string
		for i := range b.Items {
			for _, c := range b.Items[i].Comments {
				all = append(all, fmt.Sprintf("[%s] %s", b.Items[i].LinkID, c.Text))
			}
		}
		rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		if len(all) > 100 {
			all = all[:100]
		}
		return strings.Join(all, "\n")
	}

	perItem := randomSampleWords
	if len(b.Items) > 0 {
		perItem = randomSampleWords / len(b.Items)
	}
	var sb strings.Builder
	for i := range b.Items {
		item := &b.Items[i]
		words := strings.Fields(itemContent(item, kind))
		if len(words) == 0 {
			continue
		}
		start := 0
		if len(words) > perItem {
			start = rand.Intn(len(words) - perItem)
		}
		end := min(start+perItem, len(words))
		fmt.Fprintf(&sb, "## %s (words %d-%d)\n%s\n\n", item.LinkID, start, end, strings.Join(words[start:end], " "))
	}
	return strings.TrimSpace(sb.String())
}

// renderDigests formats retained step digests for the phase 3 prompt.
func renderDigests(digests []session.StepDigest) string {
	if len(digests) == 0 {
		return "(no earlier steps)"
	}
	var sb strings.Builder
	for _, d := range digests {
		fmt.Fprintf(&sb, "Step %d: %s\n", d.StepID, utils.TruncateWords(d.Text, 400))
	}
	return strings.TrimSpace(sb.String())
}
