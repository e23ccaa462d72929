package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-agent/fathom/pkg/model"
)

func claimWindow(confidence float64, claims ...model.PointEntry) windowResponse {
	resp := windowResponse{Confidence: confidence}
	resp.Findings.PointsOfInterest.KeyClaims = claims
	return resp
}

func TestAggregatorDeduplicatesRestatedClaims(t *testing.T) {
	agg := NewAggregator(10)

	for i := 0; i < 5; i++ {
		agg.AddWindow(claimWindow(0.8, model.PointEntry{Claim: "Remote work increases productivity"}), nil)
	}
	// Whitespace and case variants collapse onto the same signature.
	agg.AddWindow(claimWindow(0.8, model.PointEntry{Claim: "  remote work   increases productivity "}), nil)
	agg.AddWindow(claimWindow(0.8, model.PointEntry{Claim: "REMOTE WORK INCREASES PRODUCTIVITY"}), nil)

	finding := agg.Finalize(1)
	require.Len(t, finding.Findings.PointsOfInterest.KeyClaims, 1)
	assert.Equal(t, "Remote work increases productivity", finding.Findings.PointsOfInterest.KeyClaims[0].Claim)
}

func TestAggregatorMergesNeighborFields(t *testing.T) {
	agg := NewAggregator(10)

	agg.AddWindow(claimWindow(0.7, model.PointEntry{
		Claim:         "AI will replace some jobs",
		Proponents:    []string{"host"},
		SourceLinkIDs: []string{"vid1"},
		Speaker:       "host",
	}), nil)
	agg.AddWindow(claimWindow(0.7, model.PointEntry{
		Claim:         "AI will replace some jobs",
		Proponents:    []string{"guest", "host"},
		Opponents:     []string{"caller"},
		SourceLinkIDs: []string{"vid2"},
		Speaker:       "guest",
	}), nil)

	finding := agg.Finalize(1)
	require.Len(t, finding.Findings.PointsOfInterest.KeyClaims, 1)
	merged := finding.Findings.PointsOfInterest.KeyClaims[0]
	assert.Equal(t, []string{"host", "guest"}, merged.Proponents)
	assert.Equal(t, []string{"caller"}, merged.Opponents)
	assert.Equal(t, []string{"vid1", "vid2"}, merged.SourceLinkIDs)
	assert.Equal(t, "host", merged.Speaker, "scalar fields keep the first occurrence")
}

func TestAggregatorCapsAdditionsPerWindow(t *testing.T) {
	agg := NewAggregator(3)

	var claims []model.PointEntry
	for i := 0; i < 8; i++ {
		claims = append(claims, model.PointEntry{Claim: string(rune('a' + i))})
	}
	agg.AddWindow(claimWindow(0.5, claims...), nil)
	finding := agg.Finalize(1)
	assert.Len(t, finding.Findings.PointsOfInterest.KeyClaims, 3)

	// The cap only limits new entries; a duplicate past the cap still merges.
	agg.AddWindow(claimWindow(0.5, claims[3:]...), nil)
	finding = agg.Finalize(1)
	assert.Len(t, finding.Findings.PointsOfInterest.KeyClaims, 6)
}

func TestAggregatorConfidenceAveragesWindows(t *testing.T) {
	agg := NewAggregator(10)
	agg.AddWindow(claimWindow(0.9), nil)
	agg.AddWindow(claimWindow(0.5), nil)

	finding := agg.Finalize(2)
	assert.InDelta(t, 0.7, finding.Confidence, 1e-9)
	assert.Equal(t, 2, finding.StepID)
}

func TestAggregatorAllWindowsFailed(t *testing.T) {
	agg := NewAggregator(10)
	agg.AddFailedWindow()
	agg.AddFailedWindow()

	assert.True(t, agg.FailedEntirely())
	finding := agg.Finalize(1)
	assert.Zero(t, finding.Confidence)
	assert.Empty(t, finding.Findings.PointsOfInterest.KeyClaims)
}

func TestAggregatorPartialFailureStillSucceeds(t *testing.T) {
	agg := NewAggregator(10)
	agg.AddFailedWindow()
	agg.AddWindow(claimWindow(0.6, model.PointEntry{Claim: "one good window"}), nil)

	assert.False(t, agg.FailedEntirely())
	finding := agg.Finalize(1)
	require.Len(t, finding.Findings.PointsOfInterest.KeyClaims, 1)
}

func TestAggregatorSourcesUnion(t *testing.T) {
	agg := NewAggregator(10)
	resp := claimWindow(0.5)
	resp.Sources = []string{"vid1", "vid2"}
	agg.AddWindow(resp, nil)
	resp.Sources = []string{"vid2", "vid3"}
	agg.AddWindow(resp, nil)

	finding := agg.Finalize(1)
	assert.Equal(t, []string{"vid1", "vid2", "vid3"}, finding.Sources)
}

func TestAggregatorSourcesFromWindowLinks(t *testing.T) {
	agg := NewAggregator(10)

	// The model emitted findings but no sources array; the window's own
	// links still count.
	agg.AddWindow(claimWindow(0.6, model.PointEntry{Claim: "from the transcript"}),
		[]string{"vid1", "vid2"})
	// An empty response does not vouch for its links.
	agg.AddWindow(claimWindow(0), []string{"vid3"})

	finding := agg.Finalize(1)
	assert.Equal(t, []string{"vid1", "vid2"}, finding.Sources)
}

func TestRunningSummary(t *testing.T) {
	agg := NewAggregator(10)
	assert.Equal(t, "(first window, nothing aggregated yet)", agg.RunningSummary())

	resp := claimWindow(0.5, model.PointEntry{Claim: "first claim"})
	resp.Findings.Summary = "window one summary"
	agg.AddWindow(resp, nil)

	summary := agg.RunningSummary()
	assert.Contains(t, summary, "window one summary")
	assert.Contains(t, summary, "first claim")
}

func TestNormalizeSignature(t *testing.T) {
	assert.Equal(t, "a b c", normalizeSignature("  A   b\tC "))
	assert.Equal(t, "", normalizeSignature("   "))
}
