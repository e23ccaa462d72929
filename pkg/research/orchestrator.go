package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fathom-agent/fathom/pkg/batch"
	"github.com/fathom-agent/fathom/pkg/config"
	"github.com/fathom-agent/fathom/pkg/embedder"
	"github.com/fathom-agent/fathom/pkg/llm"
	"github.com/fathom-agent/fathom/pkg/model"
	"github.com/fathom-agent/fathom/pkg/observability"
	"github.com/fathom-agent/fathom/pkg/prompt"
	"github.com/fathom-agent/fathom/pkg/retrieval"
	"github.com/fathom-agent/fathom/pkg/session"
	"github.com/fathom-agent/fathom/pkg/ui"
	"github.com/fathom-agent/fathom/pkg/vector"
)

// Orchestrator drives the research protocol end to end. It is safe to run
// multiple sessions concurrently from one orchestrator; sessions share no
// mutable state beyond the UI fan-out and the LLM connection pool.
type Orchestrator struct {
	cfg      *config.Config
	provider llm.Provider
	composer *prompt.Composer
	store    *session.Store
	bus      ui.Bus
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	emb     embedder.Embedder
	vectors vector.Store

	retryBaseDelay time.Duration
}

// Options carries the optional collaborators of an orchestrator.
type Options struct {
	Embedder embedder.Embedder
	Vectors  vector.Store
	Bus      ui.Bus
	Metrics  *observability.Metrics
	Tracer   trace.Tracer
}

func NewOrchestrator(cfg *config.Config, provider llm.Provider, composer *prompt.Composer, store *session.Store, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:            cfg,
		provider:       provider,
		composer:       composer,
		store:          store,
		bus:            opts.Bus,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		logger:         slog.Default().With("component", "research"),
		emb:            opts.Embedder,
		vectors:        opts.Vectors,
		retryBaseDelay: 2 * time.Second,
	}
	if o.bus == nil {
		o.bus = ui.NewNop()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer("research")
	}
	for phase, shape := range map[string]any{
		"phase0_5": model.ResearchRole{},
		"phase1":   goalsResponse{},
		"phase1_5": model.SynthesizedGoal{},
		"phase3":   windowResponse{},
	} {
		if err := composer.RegisterSchema(phase, shape); err != nil {
			o.logger.Warn("Schema registration failed", "phase", phase, "error", err)
		}
	}
	return o
}

// RunRequest names a research run. SessionID defaults to BatchID so a rerun
// of the same batch resumes rather than forking.
type RunRequest struct {
	BatchID string
	Topic   string
	Session string
}

// run bundles the per-session state the phase methods operate on.
type run struct {
	o       *Orchestrator
	req     RunRequest
	sess    *session.Session
	batch   *batch.Batch
	handler *retrieval.Handler
	plan    []model.PlanStep
}

// RunResearch executes (or resumes) the research protocol for one batch.
// The returned error is nil on completion, ErrCancelled on operator abort,
// and otherwise describes the failure; the session status always reflects
// the outcome before return.
func (o *Orchestrator) RunResearch(ctx context.Context, req RunRequest) error {
	sessionID := req.Session
	if sessionID == "" {
		sessionID = req.BatchID
	}

	sess, err := o.store.CreateOrLoad(sessionID)
	if err != nil {
		o.bus.DisplayMessage(fmt.Sprintf("cannot open session: %v", err), ui.LevelError)
		return err
	}

	ctx, span := o.tracer.Start(ctx, "research.run",
		trace.WithAttributes(attribute.String("batch_id", req.BatchID)))
	defer span.End()

	o.metrics.SessionsActive.Inc()
	defer o.metrics.SessionsActive.Dec()

	b, err := batch.Load(o.cfg.Paths.BatchesDir, req.BatchID)
	if err != nil {
		o.failSession(sess, err)
		return err
	}

	handler := retrieval.NewHandler(b, o.emb, o.vectors, o.cfg.Research.Budgets)
	if err := handler.IndexBatch(ctx); err != nil {
		o.logger.Warn("Vector indexing failed, semantic retrieval degraded", "error", err)
	}

	r := &run{o: o, req: req, sess: sess, batch: b, handler: handler}
	err = r.execute(ctx)
	switch {
	case err == nil:
		return nil
	case cancelled(ctx, err):
		o.logger.Info("Research cancelled", "session", sess.ID())
		o.bus.DisplayMessage("research cancelled", ui.LevelWarning)
		_ = sess.SetStatus(session.StatusCancelled)
		_ = sess.Flush()
		return ErrCancelled
	default:
		o.failSession(sess, err)
		return err
	}
}

func (o *Orchestrator) failSession(sess *session.Session, err error) {
	o.logger.Error("Research failed", "session", sess.ID(), "error", err)
	o.bus.DisplayMessage(err.Error(), ui.LevelError)
	_ = sess.SetStatus(session.StatusFailed)
	_ = sess.Flush()
}

// execute walks the phases from the session's resume point.
func (r *run) execute(ctx context.Context) error {
	plan, err := r.loadPlan()
	if err != nil {
		return err
	}
	r.plan = plan

	point, nextStep := determineResume(r.sess, plan)
	if point == ResumeComplete {
		r.o.logger.Info("Session already complete", "session", r.sess.ID())
		r.o.bus.DisplayMessage("session already complete, nothing to do", ui.LevelInfo)
		return nil
	}
	r.o.logger.Info("Starting research",
		"session", r.sess.ID(), "resume_point", string(point), "next_step", nextStep)

	if err := r.sess.SetStatus(session.StatusInProgress); err != nil {
		return err
	}

	type phaseFunc struct {
		point ResumePoint
		run   func(context.Context) error
	}
	phases := []phaseFunc{
		{ResumePhase0, r.phase0Prepare},
		{ResumePhase0_5, r.phase05Role},
		{ResumePhase1, r.phase1Goals},
		{ResumePhase1_5, r.phase15Synthesize},
		{ResumePhase2, r.phase2Plan},
	}

	if point != ResumePhase3 {
		started := false
		for _, p := range phases {
			if !started && p.point != point {
				continue
			}
			started = true
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.timedPhase(ctx, string(p.point), p.run); err != nil {
				return err
			}
		}

		// The plan was just built; execution starts at step 1.
		nextStep = 1
		plan, err = r.loadPlan()
		if err != nil {
			return err
		}
		r.plan = plan
	}

	if err := r.timedPhase(ctx, "phase3", func(ctx context.Context) error {
		return r.phase3Execute(ctx, nextStep)
	}); err != nil {
		return err
	}
	if err := r.timedPhase(ctx, "phase4", r.phase4Report); err != nil {
		return err
	}

	if err := r.sess.SetStatus(session.StatusCompleted); err != nil {
		return err
	}
	r.o.bus.DisplayMessage("research complete", ui.LevelSuccess)
	return r.sess.Flush()
}

// timedPhase wraps a phase with tracing, metrics and the phase-change frame.
func (r *run) timedPhase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.o.tracer.Start(ctx, "research."+name)
	defer span.End()

	r.o.bus.NotifyPhaseChange(name)
	start := time.Now()
	err := fn(ctx)
	r.o.metrics.PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// loadPlan reads the stored phase 2 plan, if any.
func (r *run) loadPlan() ([]model.PlanStep, error) {
	var artifact phase2Artifact
	ok, err := r.sess.GetPhaseArtifact(session.KeyPhase2, &artifact)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if err := ValidatePlan(artifact.Steps); err != nil {
		return nil, err
	}
	return artifact.Steps, nil
}

