package research

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/utils"
)

type phase4Artifact struct {
	Report     string    `json:"report"`
	ReportPath string    `json:"report_path"`
	WrittenAt  time.Time `json:"written_at"`
}

// phase4Report composes the final markdown article from the scratchpad and
// writes it to the reports directory.
func (r *run) phase4Report(ctx context.Context) error {
	r.o.bus.DisplayHeader("Phase 4", "Write report")

	goal, _ := r.sess.SynthesizedGoal()
	goalJSON, err := json.Marshal(goal)
	if err != nil {
		return err
	}
	scratchpadJSON, err := json.MarshalIndent(r.sess.Scratchpad(), "", "  ")
	if err != nil {
		return err
	}

	messages, err := r.o.composer.Compose("phase4", map[string]string{
		"research_role":         r.researchRole(),
		"synthesized_goal_json": string(goalJSON),
		"scratchpad_json":       string(scratchpadJSON),
		"digests":               renderDigests(r.sess.StepDigests()),
		"quality_json":          r.qualityJSON(),
	})
	if err != nil {
		return err
	}

	report, err := r.streamText(ctx, messages)
	if err != nil {
		return err
	}
	report = strings.TrimSpace(report)
	if report == "" {
		return fmt.Errorf("report generation produced no content")
	}

	path, err := r.writeReport(report)
	if err != nil {
		return err
	}
	r.o.bus.DisplayReport(report, path)

	return r.sess.SavePhaseArtifact(session.KeyPhase4, phase4Artifact{
		Report:     report,
		ReportPath: path,
		WrittenAt:  time.Now().UTC(),
	}, true)
}

// streamText runs a streaming call that yields plain text rather than JSON.
// Transport errors retry with the usual backoff.
func (r *run) streamText(ctx context.Context, messages []llm.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.o.cfg.LLM.MaxRetries; attempt++ {
		if attempt > 0 {
			r.o.metrics.LLMRetries.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * r.o.retryBaseDelay
			r.o.logger.Warn("Retrying report generation", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.streamOnce(ctx, messages)
		if err != nil {
			if isTransport(err) {
				lastErr = err
				continue
			}
			return "", err
		}
		r.recordUsage(result.usage)
		r.o.bus.ClearStreamBuffer()
		r.o.metrics.LLMRequests.WithLabelValues(r.o.provider.Name(), "ok").Inc()
		return result.scanner.Raw(), nil
	}
	r.o.metrics.LLMRequests.WithLabelValues(r.o.provider.Name(), "transport_error").Inc()
	return "", fmt.Errorf("%w: %v", ErrLLMTransport, lastErr)
}

func (r *run) writeReport(report string) (string, error) {
	dir := r.o.cfg.Paths.ReportsDir
	if err := utils.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("reports dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.md", r.sess.BatchID(), time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
