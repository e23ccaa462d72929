package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/model"
)

func TestComposeEmbeddedDefaults(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	messages, err := c.Compose("phase0_5", map[string]string{
		"batch_overview":  "3 videos about speedrunning",
		"markers_summary": "item markers here",
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "3 videos about speedrunning")
	assert.Contains(t, messages[1].Content, "Respond with JSON only")
}

func TestComposeAttachesSchema(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	messages, err := c.Compose("phase0", map[string]string{
		"link_id": "yt_1", "source_kind": "youtube", "title": "t",
		"transcript": "words", "comments": "more words",
	})
	require.NoError(t, err)
	assert.Contains(t, messages[1].Content, "key_facts_from_comments")
}

func TestComposeUnknownVarLeftVisible(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	messages, err := c.Compose("phase0_5", map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, messages[1].Content, "{batch_overview}")
}

func TestRenderPartialExpansion(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Render("phase3/instructions.md", map[string]string{
		"window_content":      "the content",
		"window_index":        "2",
		"total_windows":       "5",
		"followups_remaining": "3",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "window 2 of 5")
	assert.Contains(t, out, "3 retrieval rounds remaining")
	assert.NotContains(t, out, "{{>")
}

func TestOverrideDirShadowsEmbedded(t *testing.T) {
	dir := t.TempDir()
	phaseDir := filepath.Join(dir, "phase0_5")
	require.NoError(t, os.MkdirAll(phaseDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(phaseDir, "system.md"),
		[]byte("custom system prompt"), 0644))

	c, err := NewComposer(dir)
	require.NoError(t, err)
	defer c.Close()

	messages, err := c.Compose("phase0_5", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom system prompt", messages[0].Content)
	// instructions.md falls back to the embedded default.
	assert.Contains(t, messages[1].Content, "research role")
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema(&model.StepFinding{})
	require.NoError(t, err)
	assert.Contains(t, string(schema), "points_of_interest")
	assert.Contains(t, string(schema), "confidence")
}

func TestRegisteredSchemaFallback(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Schema("phase1_5")
	assert.False(t, ok)

	require.NoError(t, c.RegisterSchema("phase1_5", model.SynthesizedGoal{}))
	schema, ok := c.Schema("phase1_5")
	require.True(t, ok)
	assert.Contains(t, string(schema), "component_questions")

	// An on-disk schema shadows a registered one.
	disk, ok := c.Schema("phase0")
	require.True(t, ok)
	assert.Contains(t, string(disk), "key_facts_from_comments")
}

func TestMissingTemplate(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Compose("phase_nonexistent", nil)
	assert.Error(t, err)
}
