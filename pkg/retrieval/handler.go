// Package retrieval resolves mid-stream content requests emitted by the
// model during step execution. Each request targets one scraped item by
// link_id and one content type, and is answered with a text block subject
// to a per-call character budget. A bad request fails inline with a short
// error string; the surrounding step never aborts on a retrieval error.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/embedder"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/utils"
	"github.com/fathom-agent/fathom/pkg/vector"
)

const (
	defaultContextWindow = 200
	defaultTopK          = 5
	defaultCommentLimit  = 50

	// Transcript chunks indexed for semantic search.
	indexChunkWords   = 300
	indexChunkOverlap = 50

	// Concurrent items during batch indexing; embedding providers rate
	// limit aggressively, so keep this modest.
	indexConcurrency = 4
)

// Handler answers retrieval requests against one loaded batch.
type Handler struct {
	batch   *batch.Batch
	emb     embedder.Embedder
	store   vector.Store
	budgets config.RetrievalBudgets
	logger  *slog.Logger

	indexed bool
}

func NewHandler(b *batch.Batch, emb embedder.Embedder, store vector.Store, budgets config.RetrievalBudgets) *Handler {
	return &Handler{
		batch:   b,
		emb:     emb,
		store:   store,
		budgets: budgets,
		logger:  slog.Default().With("component", "retrieval"),
	}
}

// IndexBatch chunks every transcript and upserts the embedded chunks into
// the vector store, keyed by batch ID. Items embed concurrently. A nil
// embedder or store makes this a no-op; semantic requests then fall back to
// keyword search.
func (h *Handler) IndexBatch(ctx context.Context) error {
	if h.emb == nil || h.store == nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(indexConcurrency)
	for i := range h.batch.Items {
		item := &h.batch.Items[i]
		g.Go(func() error {
			return h.indexItem(ctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	h.indexed = true
	return nil
}

func (h *Handler) indexItem(ctx context.Context, item *batch.Item) error {
	chunks := chunkWords(item.Transcript, indexChunkWords, indexChunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}
	vectors, err := h.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", item.LinkID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	for i, c := range chunks {
		id := fmt.Sprintf("%s_%d", item.LinkID, i)
		meta := map[string]any{
			"link_id":    item.LinkID,
			"start_word": c.start,
			"end_word":   c.end,
		}
		if err := h.store.Upsert(ctx, h.batch.ID, id, vectors[i], c.text, meta); err != nil {
			return fmt.Errorf("failed to index %s: %w", id, err)
		}
	}
	h.logger.Debug("Indexed transcript", "link_id", item.LinkID, "chunks", len(chunks))
	return nil
}

// Resolve answers a batch of requests in order. Errors are per-request.
func (h *Handler) Resolve(ctx context.Context, requests []model.RetrievalRequest) []model.RetrievalResult {
	results := make([]model.RetrievalResult, 0, len(requests))
	for _, req := range requests {
		results = append(results, h.resolveOne(ctx, req))
	}
	return results
}

func (h *Handler) resolveOne(ctx context.Context, req model.RetrievalRequest) model.RetrievalResult {
	res := model.RetrievalResult{RequestID: req.ID}

	item, ok := h.batch.Item(req.SourceLinkID)
	if !ok {
		res.Error = fmt.Sprintf("unknown link_id %q", req.SourceLinkID)
		return res
	}

	var (
		content  string
		spanInfo string
		err      error
	)
	switch req.ContentType {
	case model.DataComments:
		content, spanInfo = h.commentsFilter(item, req.Parameters)
	case model.DataMetadata:
		content = item.MetadataText()
	case model.DataTranscript, "":
		content, spanInfo, err = h.transcript(ctx, item, req)
	default:
		err = fmt.Errorf("unknown content_type %q", req.ContentType)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}

	budget := h.budgetFor(req.ContentType)
	res.Content, res.Truncated = utils.TruncateChars(content, budget)
	res.SpanInfo = spanInfo
	h.logger.Debug("Resolved retrieval request",
		"id", req.ID,
		"method", req.Method,
		"link_id", req.SourceLinkID,
		"chars", len(res.Content),
		"truncated", res.Truncated)
	return res
}

func (h *Handler) transcript(ctx context.Context, item *batch.Item, req model.RetrievalRequest) (string, string, error) {
	switch req.Method {
	case model.RetrieveWordRange:
		return wordRange(item.Transcript, req.Parameters.Start, req.Parameters.End)
	case model.RetrieveKeyword:
		return keywordSearch(item.Transcript, req.Parameters.Keywords, req.Parameters.ContextWindow)
	case model.RetrieveSemantic:
		return h.semantic(ctx, item, req.Parameters)
	case model.RetrieveAll, "":
		return item.Transcript, "", nil
	default:
		return "", "", fmt.Errorf("unknown method %q", req.Method)
	}
}

func (h *Handler) budgetFor(kind model.DataKind) int {
	switch kind {
	case model.DataComments:
		return h.budgets.CommentsChars
	case model.DataMetadata:
		return h.budgets.MetadataChars
	default:
		return h.budgets.TranscriptChars
	}
}

// wordRange slices the transcript by word index, end exclusive.
func wordRange(transcript string, start, end int) (string, string, error) {
	words := strings.Fields(transcript)
	if start < 0 || start >= len(words) {
		return "", "", fmt.Errorf("start %d out of range (transcript has %d words)", start, len(words))
	}
	if end <= start {
		return "", "", fmt.Errorf("end %d must be greater than start %d", end, start)
	}
	if end > len(words) {
		end = len(words)
	}
	span := fmt.Sprintf("words %d-%d of %d", start, end, len(words))
	return strings.Join(words[start:end], " "), span, nil
}

// keywordSearch finds all keyword occurrences, expands each match by
// ±contextWindow words, and merges overlapping spans.
func keywordSearch(transcript string, keywords []string, contextWindow int) (string, string, error) {
	if len(keywords) == 0 {
		return "", "", fmt.Errorf("keyword search requires at least one keyword")
	}
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}

	words := strings.Fields(transcript)
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}

	var matches []int
	for _, kw := range keywords {
		kwFields := strings.Fields(strings.ToLower(kw))
		if len(kwFields) == 0 {
			continue
		}
		for i := 0; i+len(kwFields) <= len(lower); i++ {
			if matchesAt(lower, i, kwFields) {
				matches = append(matches, i)
			}
		}
	}
	if len(matches) == 0 {
		return "", fmt.Sprintf("no matches for %s", strings.Join(keywords, ", ")), nil
	}
	sort.Ints(matches)

	type span struct{ start, end int }
	var spans []span
	for _, m := range matches {
		s := span{start: max(0, m-contextWindow), end: min(len(words), m+contextWindow)}
		if n := len(spans); n > 0 && s.start <= spans[n-1].end {
			if s.end > spans[n-1].end {
				spans[n-1].end = s.end
			}
			continue
		}
		spans = append(spans, s)
	}

	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = strings.Join(words[s.start:s.end], " ")
	}
	spanInfo := fmt.Sprintf("%d matches in %d spans", len(matches), len(spans))
	return strings.Join(parts, "\n[...]\n"), spanInfo, nil
}

// matchesAt reports whether the keyword token sequence occurs at position i.
// Single tokens match by substring so punctuation-attached words still hit.
func matchesAt(lower []string, i int, kwFields []string) bool {
	if len(kwFields) == 1 {
		return strings.Contains(lower[i], kwFields[0])
	}
	for j, f := range kwFields {
		if !strings.Contains(lower[i+j], f) {
			return false
		}
	}
	return true
}

// semantic searches the vector index for the query, falling back to keyword
// search when no embedder or index is available.
func (h *Handler) semantic(ctx context.Context, item *batch.Item, p model.RetrievalParameters) (string, string, error) {
	if p.Query == "" {
		return "", "", fmt.Errorf("semantic search requires a query")
	}

	if h.emb == nil || h.store == nil || !h.indexed {
		return keywordSearch(item.Transcript, queryTerms(p.Query), p.ContextWindow)
	}

	topK := p.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	vec, err := h.emb.Embed(ctx, p.Query)
	if err != nil {
		h.logger.Warn("Embedding failed, falling back to keyword search", "error", err)
		return keywordSearch(item.Transcript, queryTerms(p.Query), p.ContextWindow)
	}
	hits, err := h.store.Search(ctx, h.batch.ID, vec, topK)
	if err != nil {
		h.logger.Warn("Vector search failed, falling back to keyword search", "error", err)
		return keywordSearch(item.Transcript, queryTerms(p.Query), p.ContextWindow)
	}

	var parts []string
	for _, hit := range hits {
		if id, ok := hit.Metadata["link_id"]; ok && fmt.Sprint(id) != item.LinkID {
			continue
		}
		parts = append(parts, hit.Content)
	}
	if len(parts) == 0 {
		return keywordSearch(item.Transcript, queryTerms(p.Query), p.ContextWindow)
	}
	spanInfo := fmt.Sprintf("%d semantic chunks", len(parts))
	return strings.Join(parts, "\n[...]\n"), spanInfo, nil
}

// queryTerms tokenizes a free-text query into keyword-search terms,
// dropping short function words.
func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(query) {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) > 3 {
			terms = append(terms, f)
		}
	}
	if len(terms) == 0 {
		terms = strings.Fields(query)
	}
	return terms
}

// commentsFilter returns an item's comments, keyword-filtered when keywords
// are given, sorted and limited per the request.
func (h *Handler) commentsFilter(item *batch.Item, p model.RetrievalParameters) (string, string) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultCommentLimit
	}

	if len(p.Keywords) == 0 {
		text := item.CommentsText(p.SortBy, limit)
		return text, fmt.Sprintf("%d comments total", len(item.Comments))
	}

	lowered := make([]string, len(p.Keywords))
	for i, kw := range p.Keywords {
		lowered[i] = strings.ToLower(kw)
	}
	filtered := batch.Item{Comments: item.Comments[:0:0]}
	for _, c := range item.Comments {
		lc := strings.ToLower(c.Text)
		for _, kw := range lowered {
			if strings.Contains(lc, kw) {
				filtered.Comments = append(filtered.Comments, c)
				break
			}
		}
	}
	text := filtered.CommentsText(p.SortBy, limit)
	span := fmt.Sprintf("%d of %d comments matched", len(filtered.Comments), len(item.Comments))
	return text, span
}

type chunk struct {
	text  string
	start int
	end   int
}

// chunkWords splits text into overlapping word windows.
func chunkWords(text string, size, overlap int) []chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = indexChunkWords
	}
	if overlap >= size {
		overlap = size / 4
	}

	var chunks []chunk
	for start := 0; start < len(words); start += size - overlap {
		end := min(start+size, len(words))
		chunks = append(chunks, chunk{
			text:  strings.Join(words[start:end], " "),
			start: start,
			end:   end,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
