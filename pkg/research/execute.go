package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/ui"
	"github.com/fathom-agent/fathom/pkg/utils"
)

// stepArtifact is the per-step phase 3 record: the finding plus execution
// metadata.
type stepArtifact struct {
	model.StepFinding
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	WindowCount    int       `json:"window_count"`
	FollowupCount  int       `json:"followup_count"`
	RetrievalBytes int       `json:"retrieval_bytes"`
	Failed         bool      `json:"failed,omitempty"`
}

type phase3Artifact struct {
	TotalSteps       int   `json:"total_steps"`
	CompletedStepIDs []int `json:"completed_step_ids"`
	FailedStepIDs    []int `json:"failed_step_ids,omitempty"`
}

// phase3Execute runs the plan from the given step. Steps are strictly
// serial. A failed step does not stop the plan; persistent transport
// failure, two consecutive steps with every window dead on transport,
// escalates to a session failure.
func (r *run) phase3Execute(ctx context.Context, fromStep int) error {
	r.o.bus.DisplayHeader("Phase 3", "Execute plan")
	if len(r.plan) == 0 {
		return fmt.Errorf("%w: no plan to execute", ErrInvalidPlan)
	}

	var failed []int
	consecutiveTransport := 0
	for _, step := range r.plan {
		if step.StepID < fromStep {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		r.o.bus.DisplayProgress(step.StepID, len(r.plan), step.Goal)
		artifact, transportDead, err := r.executeStep(ctx, step)
		if err != nil {
			return err
		}
		if artifact.Failed {
			failed = append(failed, step.StepID)
			r.o.metrics.StepsFailed.Inc()
		}
		if transportDead {
			consecutiveTransport++
		} else {
			consecutiveTransport = 0
		}

		if err := r.sess.SavePhaseArtifact(session.StepArtifactKey(step.StepID), artifact, true); err != nil {
			return err
		}
		if consecutiveTransport >= 2 {
			return fmt.Errorf("step %d: %w: transport dead for two consecutive steps", step.StepID, ErrLLMTransport)
		}
		if err := r.sess.UpdateScratchpad(step.StepID, artifact.Findings,
			artifact.Insights, artifact.Confidence, artifact.Sources); err != nil {
			return err
		}
		digest := buildDigest(artifact.StepFinding, r.o.cfg.Research.DigestMaxWords)
		if err := r.sess.AppendStepDigest(session.StepDigest{
			StepID:    step.StepID,
			Text:      digest,
			CreatedAt: time.Now().UTC(),
		}, r.o.cfg.Research.MaxDigestEntries); err != nil {
			return err
		}
		r.o.logger.Info("Step complete",
			"step", step.StepID, "total", len(r.plan), "confidence", artifact.Confidence)
		r.o.bus.NotifyStepComplete(step.StepID, len(r.plan))
	}

	return r.sess.SavePhaseArtifact(session.KeyPhase3, phase3Artifact{
		TotalSteps:       len(r.plan),
		CompletedStepIDs: r.sess.CompletedStepIDs(),
		FailedStepIDs:    failed,
	}, true)
}

// executeStep runs every window of one step and aggregates the results.
// The second return reports that every window died on a transport error.
func (r *run) executeStep(ctx context.Context, step model.PlanStep) (stepArtifact, bool, error) {
	started := time.Now().UTC()
	cfg := r.o.cfg.Research

	windows, err := buildWindows(r.batch, step, cfg, r.sess.ScratchpadSummary())
	if err != nil {
		return stepArtifact{}, false, fmt.Errorf("step %d: %w", step.StepID, err)
	}

	agg := NewAggregator(cfg.MaxEntriesPerSub)
	followupsLeft := cfg.MaxFollowups
	followupsUsed := 0
	retrievalBytes := 0
	transportFailures := 0

	for _, window := range windows {
		if err := ctx.Err(); err != nil {
			return stepArtifact{}, false, err
		}

		resp, rounds, bytes, err := r.executeWindow(ctx, step, window, agg, &followupsLeft)
		followupsUsed += rounds
		retrievalBytes += bytes
		r.o.metrics.WindowsProcessed.Inc()

		switch {
		case err == nil:
			agg.AddWindow(resp, window.LinkIDs)
		case cancelled(ctx, err):
			return stepArtifact{}, false, err
		default:
			if isTransport(err) {
				transportFailures++
			}
			r.o.logger.Warn("Window failed",
				"step", step.StepID, "window", window.Index, "error", err)
			r.o.bus.DisplayMessage(
				fmt.Sprintf("step %d window %d/%d failed: %v", step.StepID, window.Index, window.Total, err),
				ui.LevelWarning)
			agg.AddFailedWindow()
		}
	}

	transportDead := agg.FailedEntirely() && transportFailures == len(windows)
	finding := agg.Finalize(step.StepID)
	return stepArtifact{
		StepFinding:    finding,
		StartedAt:      started,
		CompletedAt:    time.Now().UTC(),
		WindowCount:    len(windows),
		FollowupCount:  followupsUsed,
		RetrievalBytes: retrievalBytes,
		Failed:         agg.FailedEntirely(),
	}, transportDead, nil
}

// executeWindow streams one window's conversation, resolving mid-stream
// retrieval requests until the model emits findings without requests, the
// follow-up budget is exhausted, or the retry budget runs out.
func (r *run) executeWindow(ctx context.Context, step model.PlanStep, window Window, agg *Aggregator, followupsLeft *int) (windowResponse, int, int, error) {
	conversation, err := r.composeWindow(step, window, agg, *followupsLeft)
	if err != nil {
		return windowResponse{}, 0, 0, err
	}

	rounds := 0
	retrievalBytes := 0
	capInjected := false

	for {
		obj, err := r.windowStream(ctx, conversation)
		if err != nil {
			return windowResponse{}, rounds, retrievalBytes, err
		}

		var resp windowResponse
		if err := json.Unmarshal(obj, &resp); err != nil {
			return windowResponse{}, rounds, retrievalBytes, fmt.Errorf("window response malformed: %w", err)
		}
		if len(resp.Requests) == 0 || capInjected {
			return resp, rounds, retrievalBytes, nil
		}

		if *followupsLeft <= 0 {
			// Budget exhausted: tell the model to finalize with what it has.
			capInjected = true
			conversation = append(conversation,
				llm.Message{Role: llm.RoleAssistant, Content: string(obj)},
				llm.Message{Role: llm.RoleUser, Content: "No further retrieval available. Emit your final findings now without a requests array."},
			)
			continue
		}

		*followupsLeft--
		rounds++
		results := r.handler.Resolve(ctx, resp.Requests)
		for i, res := range results {
			retrievalBytes += len(res.Content)
			outcome := "ok"
			if res.Error != "" {
				outcome = "error"
			}
			r.o.metrics.RetrievalRequests.WithLabelValues(string(resp.Requests[i].Method), outcome).Inc()
		}

		conversation = append(conversation,
			llm.Message{Role: llm.RoleAssistant, Content: string(obj)},
			llm.Message{Role: llm.RoleUser, Content: renderRetrievalResults(resp.Requests, results, *followupsLeft)},
		)
	}
}

// windowStream runs one streaming call with the per-window retry budget.
// Transport errors retry with backoff; parse failures do not.
func (r *run) windowStream(ctx context.Context, conversation []llm.Message) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= r.o.cfg.LLM.MaxRetries; attempt++ {
		if attempt > 0 {
			r.o.metrics.LLMRetries.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * r.o.retryBaseDelay
			r.o.logger.Warn("Retrying window", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.streamOnce(ctx, conversation)
		if err != nil {
			if isTransport(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		r.recordUsage(result.usage)
		r.o.bus.ClearStreamBuffer()
		return result.scanner.Close()
	}
	return nil, &transportError{err: fmt.Errorf("window retries exhausted: %w", lastErr)}
}

// composeWindow builds the message list for a window dispatch.
func (r *run) composeWindow(step model.PlanStep, window Window, agg *Aggregator, followupsLeft int) ([]llm.Message, error) {
	goal, _ := r.sess.SynthesizedGoal()

	previous := ""
	if window.PreviousTail != "" {
		previous = "End of previous window for continuity:\n" + window.PreviousTail
	}

	return r.o.composer.Compose("phase3", map[string]string{
		"research_role":           r.researchRole(),
		"comprehensive_topic":     goal.ComprehensiveTopic,
		"step_goal":               step.Goal,
		"digests":                 renderDigests(r.sess.StepDigests()),
		"aggregated_so_far":       agg.RunningSummary(),
		"previous_window_context": previous,
		"window_index":            strconv.Itoa(window.Index),
		"total_windows":           strconv.Itoa(window.Total),
		"window_content":          window.Content,
		"followups_remaining":     strconv.Itoa(followupsLeft),
	})
}

// renderRetrievalResults formats handler output for the continuation turn.
func renderRetrievalResults(requests []model.RetrievalRequest, results []model.RetrievalResult, followupsLeft int) string {
	var sb strings.Builder
	sb.WriteString("Retrieved content:\n\n")
	for i, res := range results {
		req := requests[i]
		fmt.Fprintf(&sb, "### %s (%s %s from %s)\n", res.RequestID, req.Method, req.ContentType, req.SourceLinkID)
		if req.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", req.Reason)
		}
		switch {
		case res.Error != "":
			fmt.Fprintf(&sb, "Error: %s\n", res.Error)
		case res.Content == "":
			sb.WriteString("(no content matched)\n")
		default:
			if res.SpanInfo != "" {
				fmt.Fprintf(&sb, "[%s]\n", res.SpanInfo)
			}
			sb.WriteString(res.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "You have %d retrieval rounds remaining. Continue your analysis and emit your findings.", followupsLeft)
	return sb.String()
}

// buildDigest condenses a step finding into the bounded prompt context
// carried into later steps.
func buildDigest(finding model.StepFinding, maxWords int) string {
	var sb strings.Builder
	if finding.Insights != "" {
		sb.WriteString(finding.Insights)
		sb.WriteString(" ")
	} else if finding.Findings.Summary != "" {
		sb.WriteString(finding.Findings.Summary)
		sb.WriteString(" ")
	}

	appendTop := func(label string, entries []model.PointEntry, sub string, n int) {
		for i, e := range entries {
			if i >= n {
				break
			}
			text := e.CanonicalText(sub)
			if text == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s. ", label, text)
		}
	}
	appendTop("Claim", finding.Findings.PointsOfInterest.KeyClaims, "key_claims", 3)
	appendTop("Evidence", finding.Findings.PointsOfInterest.NotableEvidence, "notable_evidence", 2)
	appendTop("Example", finding.Findings.PointsOfInterest.SpecificExamples, "specific_examples", 2)

	return utils.TruncateWords(strings.TrimSpace(sb.String()), maxWords)
}
