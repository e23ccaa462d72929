package session

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), time.Millisecond)
}

func TestCreateOrLoadNew(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("batch_42")
	require.NoError(t, err)

	assert.Equal(t, "batch_42", sess.ID())
	assert.Equal(t, "batch_42", sess.BatchID())
	assert.Equal(t, StatusInitialized, sess.Status())
	// New sessions exist only in memory until the first write.
	_, err = os.Stat(st.Path("batch_42"))
	assert.True(t, os.IsNotExist(err))
}

func TestSavePhaseArtifactRoundTrip(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b1")
	require.NoError(t, err)

	role := model.ResearchRole{Role: "media analyst", Rationale: "fits the material"}
	require.NoError(t, sess.SavePhaseArtifact(KeyPhase0_5, role, true))

	reloaded, err := st.CreateOrLoad("b1")
	require.NoError(t, err)

	var got model.ResearchRole
	ok, err := reloaded.GetPhaseArtifact(KeyPhase0_5, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, role, got)

	ok, err = reloaded.GetPhaseArtifact(KeyPhase2, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutosaveDebounce(t *testing.T) {
	st := NewStore(t.TempDir(), time.Hour) // debounce never elapses
	sess, err := st.CreateOrLoad("b2")
	require.NoError(t, err)

	// Non-forced mutation stays in memory.
	require.NoError(t, sess.UpdateScratchpad(1, model.Findings{Summary: "s"}, "i", 0.5, nil))
	_, statErr := os.Stat(st.Path("b2"))
	assert.True(t, os.IsNotExist(statErr))

	// Phase artifact save forces the flush.
	require.NoError(t, sess.SavePhaseArtifact(KeyPhase0, map[string]string{"k": "v"}, true))
	_, statErr = os.Stat(st.Path("b2"))
	assert.NoError(t, statErr)
}

func TestCorruptSessionFile(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.MkdirAll(st.dir, 0755))
	require.NoError(t, os.WriteFile(st.Path("bad"), []byte(`{"session_id": "bad", "truncat`), 0644))

	_, err := st.CreateOrLoad("bad")
	assert.ErrorIs(t, err, ErrSessionCorrupt)
}

func TestUnknownKeysPreserved(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.MkdirAll(st.dir, 0755))
	doc := `{
		"session_id": "b3",
		"status": "in-progress",
		"future_field": {"nested": [1, 2, 3]}
	}`
	require.NoError(t, os.WriteFile(st.Path("b3"), []byte(doc), 0644))

	sess, err := st.CreateOrLoad("b3")
	require.NoError(t, err)
	require.NoError(t, sess.SavePhaseArtifact(KeyPhase0, "data", true))

	raw, err := os.ReadFile(st.Path("b3"))
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.JSONEq(t, `{"nested":[1,2,3]}`, string(onDisk["future_field"]))
}

func TestStepDigestCap(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b4")
	require.NoError(t, err)

	for i := 1; i <= 15; i++ {
		require.NoError(t, sess.AppendStepDigest(StepDigest{StepID: i, Text: "d"}, 12))
	}

	digests := sess.StepDigests()
	require.Len(t, digests, 12)
	assert.Equal(t, 4, digests[0].StepID) // oldest three dropped
	assert.Equal(t, 15, digests[11].StepID)
}

func TestScratchpadSummaryOrdered(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b5")
	require.NoError(t, err)

	require.NoError(t, sess.UpdateScratchpad(2, model.Findings{
		Summary: "second step summary",
		PointsOfInterest: model.PointsOfInterest{
			KeyClaims: []model.PointEntry{{Claim: "claim two", Speaker: "host"}},
		},
	}, "insight two", 0.8, []string{"yt_2"}))
	require.NoError(t, sess.UpdateScratchpad(1, model.Findings{
		Summary: "first step summary",
	}, "insight one", 0.9, nil))

	summary := sess.ScratchpadSummary()
	first := "### Step 1"
	second := "### Step 2"
	assert.Less(t,
		indexOf(summary, first), indexOf(summary, second),
		"steps must render in id order")
	assert.Contains(t, summary, "claim two (host)")
	assert.Contains(t, summary, "Sources: yt_2")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestCompletedStepIDs(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b6")
	require.NoError(t, err)

	require.NoError(t, sess.SavePhaseArtifact(StepArtifactKey(3), "x", false))
	require.NoError(t, sess.SavePhaseArtifact(StepArtifactKey(1), "x", false))
	require.NoError(t, sess.SavePhaseArtifact(KeyPhase2, "plan", false))

	assert.Equal(t, []int{1, 3}, sess.CompletedStepIDs())
}

func TestSetMetadataRejectsKnownKeys(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b7")
	require.NoError(t, err)

	assert.Error(t, sess.SetMetadata("status", "oops"))

	require.NoError(t, sess.SetMetadata("operator_note", "resumed after crash"))
	var note string
	ok, err := sess.GetMetadata("operator_note", &note)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "resumed after crash", note)
}

func TestCostAccumulation(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateOrLoad("b8")
	require.NoError(t, err)

	require.NoError(t, sess.AddCost(model.CostBreakdown{Model: "m", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}))
	require.NoError(t, sess.AddCost(model.CostBreakdown{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}))

	cost := sess.Cost()
	assert.Equal(t, 30, cost.PromptTokens)
	assert.Equal(t, 40, cost.TotalTokens)
	assert.Equal(t, 2, cost.Calls)
}

func TestListAndDelete(t *testing.T) {
	st := newTestStore(t)

	s1, err := st.CreateOrLoad("a")
	require.NoError(t, err)
	require.NoError(t, s1.SavePhaseArtifact(KeyPhase0, "x", true))
	s2, err := st.CreateOrLoad("b")
	require.NoError(t, err)
	require.NoError(t, s2.SetStatus(StatusInProgress))

	summaries, err := st.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "b", summaries[0].SessionID) // newest first

	require.NoError(t, st.Delete("a"))
	summaries, err = st.List()
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}
