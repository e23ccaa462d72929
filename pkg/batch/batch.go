// Package batch loads scraped batches from disk. A batch directory holds
// one JSON file per scraped item; scrapers produce these files, this package
// only consumes them.
package batch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fathom-agent/fathom/pkg/utils"
)

// Comment is one user comment on a scraped item.
type Comment struct {
	Text    string `json:"text"`
	Likes   int    `json:"likes,omitempty"`
	Replies int    `json:"replies,omitempty"`
}

// Item is one scraped source.
type Item struct {
	LinkID     string         `json:"link_id"`
	Source     string         `json:"source"` // youtube, bilibili, reddit, article
	URL        string         `json:"url"`
	Title      string         `json:"title"`
	Transcript string         `json:"transcript"`
	Comments   []Comment      `json:"comments,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Batch is a loaded set of items.
type Batch struct {
	ID    string
	Items []Item
}

// Load reads every item file under <batchesDir>/<batchID>/. An item without
// a link_id is rejected and skipped; an unreadable batch directory is an
// error.
func Load(batchesDir, batchID string) (*Batch, error) {
	dir := filepath.Join(batchesDir, batchID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch directory %q: %w", dir, err)
	}

	b := &Batch{ID: batchID}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read batch item %q: %w", path, err)
		}

		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			slog.Warn("skipping unparseable batch item", "file", entry.Name(), "error", err)
			continue
		}
		if item.LinkID == "" {
			slog.Warn("skipping batch item without link_id", "file", entry.Name())
			continue
		}
		b.Items = append(b.Items, item)
	}

	if len(b.Items) == 0 {
		return nil, fmt.Errorf("batch %q contains no usable items", batchID)
	}

	// Directory order is filesystem-dependent; keep item order stable.
	sort.Slice(b.Items, func(i, j int) bool {
		return b.Items[i].LinkID < b.Items[j].LinkID
	})
	return b, nil
}

// Item returns the item with the given link id.
func (b *Batch) Item(linkID string) (*Item, bool) {
	for i := range b.Items {
		if b.Items[i].LinkID == linkID {
			return &b.Items[i], true
		}
	}
	return nil, false
}

// TotalWords counts transcript words across the batch.
func (b *Batch) TotalWords() int {
	total := 0
	for i := range b.Items {
		total += utils.WordCount(b.Items[i].Transcript)
	}
	return total
}

// Sources returns the distinct source kinds present.
func (b *Batch) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range b.Items {
		if !seen[b.Items[i].Source] {
			seen[b.Items[i].Source] = true
			out = append(out, b.Items[i].Source)
		}
	}
	sort.Strings(out)
	return out
}

// Overview renders a one-line-per-item description for prompts.
func (b *Batch) Overview() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %s: %d items, %d transcript words total\n",
		b.ID, len(b.Items), b.TotalWords())
	for i := range b.Items {
		item := &b.Items[i]
		fmt.Fprintf(&sb, "- %s [%s] %q (%d words, %d comments)\n",
			item.LinkID, item.Source, item.Title,
			utils.WordCount(item.Transcript), len(item.Comments))
	}
	return strings.TrimSpace(sb.String())
}

// CommentsText joins an item's comments into a text block, optionally
// sorted by likes or replies and limited in count. sortBy "relevance" (or
// empty) keeps scrape order.
func (i *Item) CommentsText(sortBy string, limit int) string {
	comments := make([]Comment, len(i.Comments))
	copy(comments, i.Comments)

	switch sortBy {
	case "likes":
		sort.SliceStable(comments, func(a, b int) bool { return comments[a].Likes > comments[b].Likes })
	case "replies":
		sort.SliceStable(comments, func(a, b int) bool { return comments[a].Replies > comments[b].Replies })
	}
	if limit > 0 && len(comments) > limit {
		comments = comments[:limit]
	}

	var sb strings.Builder
	for _, c := range comments {
		fmt.Fprintf(&sb, "[likes:%d replies:%d] %s\n", c.Likes, c.Replies, c.Text)
	}
	return strings.TrimSpace(sb.String())
}

// MetadataText renders item metadata deterministically for retrieval.
func (i *Item) MetadataText() string {
	keys := make([]string, 0, len(i.Metadata))
	for k := range i.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "title: %s\nsource: %s\nurl: %s\n", i.Title, i.Source, i.URL)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, i.Metadata[k])
	}
	return strings.TrimSpace(sb.String())
}
