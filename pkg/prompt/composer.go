// Package prompt loads and renders the per-phase prompt templates. Each
// phase has a directory with system.md and instructions.md, optionally
// output_schema.json. Templates support {var} substitution and
// {{> partial.md}} transclusion from the shared _partials directory.
//
// Defaults are embedded in the binary; a prompts directory on disk overrides
// them file-by-file and is hot-reloaded on change.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fathom-agent/fathom/pkg/llm"
)

//go:embed all:templates
var defaultTemplates embed.FS

const maxIncludeDepth = 5

var (
	includePattern = regexp.MustCompile(`\{\{>\s*([\w./-]+)\s*\}\}`)
	varPattern     = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)
)

// Composer renders phase prompts into message lists.
type Composer struct {
	overrideDir string
	watcher     *fsnotify.Watcher

	mu        sync.RWMutex
	cache     map[string][]byte
	generated map[string]json.RawMessage
}

// NewComposer creates a composer. overrideDir may be empty to use only the
// embedded defaults; when set, files found there shadow the embedded ones
// and edits take effect without restart.
func NewComposer(overrideDir string) (*Composer, error) {
	c := &Composer{
		overrideDir: overrideDir,
		cache:       make(map[string][]byte),
		generated:   make(map[string]json.RawMessage),
	}

	if overrideDir != "" {
		if _, err := os.Stat(overrideDir); err == nil {
			if err := c.watch(overrideDir); err != nil {
				slog.Warn("prompt hot-reload disabled", "error", err)
			}
		}
	}
	return c, nil
}

func (c *Composer) watch(dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = watcher

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		c.watcher = nil
		return err
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(dir, e.Name()))
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.mu.Lock()
					c.cache = make(map[string][]byte)
					c.mu.Unlock()
					slog.Debug("prompt templates reloaded", "file", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watcher.
func (c *Composer) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// load reads a template file, preferring the override directory.
func (c *Composer) load(rel string) ([]byte, error) {
	c.mu.RLock()
	cached, ok := c.cache[rel]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var data []byte
	var err error
	if c.overrideDir != "" {
		data, err = os.ReadFile(filepath.Join(c.overrideDir, rel))
	}
	if c.overrideDir == "" || err != nil {
		data, err = defaultTemplates.ReadFile("templates/" + rel)
	}
	if err != nil {
		return nil, fmt.Errorf("prompt template %q not found: %w", rel, err)
	}

	c.mu.Lock()
	c.cache[rel] = data
	c.mu.Unlock()
	return data, nil
}

// render substitutes {var} references and expands {{> partial}} includes.
// Unknown variables are left in place so missing context is visible in
// transcripts instead of silently blank.
func (c *Composer) render(text string, vars map[string]string, depth int) (string, error) {
	if depth > maxIncludeDepth {
		return "", fmt.Errorf("prompt include depth exceeded")
	}

	var includeErr error
	text = includePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := includePattern.FindStringSubmatch(match)[1]
		data, err := c.load(filepath.Join("_partials", name))
		if err != nil {
			includeErr = err
			return match
		}
		expanded, err := c.render(string(data), vars, depth+1)
		if err != nil {
			includeErr = err
			return match
		}
		return expanded
	})
	if includeErr != nil {
		return "", includeErr
	}

	text = varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
	return text, nil
}

// Compose builds the ordered message list for a phase: a system message
// from system.md and a user message from instructions.md. When the phase
// carries an output schema it is appended to the instructions.
func (c *Composer) Compose(phase string, vars map[string]string) ([]llm.Message, error) {
	systemRaw, err := c.load(filepath.Join(phase, "system.md"))
	if err != nil {
		return nil, err
	}
	system, err := c.render(string(systemRaw), vars, 0)
	if err != nil {
		return nil, err
	}

	instructionsRaw, err := c.load(filepath.Join(phase, "instructions.md"))
	if err != nil {
		return nil, err
	}
	instructions, err := c.render(string(instructionsRaw), vars, 0)
	if err != nil {
		return nil, err
	}

	if schema, ok := c.Schema(phase); ok {
		instructions += "\n\nRespond with a single JSON object matching this schema:\n```json\n" +
			string(schema) + "\n```"
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: strings.TrimSpace(system)},
		{Role: llm.RoleUser, Content: strings.TrimSpace(instructions)},
	}, nil
}

// Render loads and renders a single template file relative to the templates
// root, e.g. "phase1/amend.md" for the goal amendment round.
func (c *Composer) Render(rel string, vars map[string]string) (string, error) {
	raw, err := c.load(rel)
	if err != nil {
		return "", err
	}
	rendered, err := c.render(string(raw), vars, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered), nil
}

// RegisterSchema derives an output schema from a Go type and installs it as
// the fallback for a phase without an output_schema.json. An on-disk schema
// still wins, so operators can override the generated one.
func (c *Composer) RegisterSchema(phase string, v any) error {
	schema, err := GenerateSchema(v)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", phase, err)
	}
	c.mu.Lock()
	c.generated[phase] = schema
	c.mu.Unlock()
	return nil
}

// Schema returns the phase's output schema, if one is defined.
func (c *Composer) Schema(phase string) (json.RawMessage, bool) {
	data, err := c.load(filepath.Join(phase, "output_schema.json"))
	if err == nil {
		return json.RawMessage(data), true
	}
	c.mu.RLock()
	schema, ok := c.generated[phase]
	c.mu.RUnlock()
	return schema, ok
}
