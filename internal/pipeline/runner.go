package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/grafana"
	"github.com/gridpulse/panelgen/internal/panel"
	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/validate"
	"github.com/gridpulse/panelgen/internal/viz"
)

// DefaultStageTimeout bounds each stage independently of the overall
// request deadline.
const DefaultStageTimeout = 30 * time.Second

// Classifier produces a visualization type. It never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) viz.Outcome
}

// SourceResolver picks a catalog descriptor for the request.
type SourceResolver interface {
	Resolve(text string) (*catalog.Descriptor, error)
}

// QuerySynthesizer builds a parameterized query.
type QuerySynthesizer interface {
	Synthesize(text string, d *catalog.Descriptor, now time.Time) (*synth.Query, error)
}

// QueryValidator is the security gate.
type QueryValidator interface {
	Check(q *synth.Query, d *catalog.Descriptor) validate.Result
}

// PreviewExecutor runs the bounded trial execution.
type PreviewExecutor interface {
	Preview(ctx context.Context, q *synth.Query) (*preview.Sample, error)
}

// PanelPublisher deploys a panel spec idempotently.
type PanelPublisher interface {
	UpsertPanel(ctx context.Context, spec *panel.Spec) (*grafana.DeploymentResult, error)
}

// RecordStore persists terminal request outcomes. Recording failures are
// logged, never surfaced.
type RecordStore interface {
	Record(ctx context.Context, rec Record) error
}

// Record is one terminal pipeline outcome for the audit store.
type Record struct {
	UserID       string
	RequestText  string
	Stage        Stage
	Reason       Reason
	SourceName   string
	ContentHash  string
	DashboardUID string
	CreatedAt    time.Time
}

// Config holds the configuration for a Runner.
type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Classifier Classifier
	Resolver   SourceResolver
	Synth      QuerySynthesizer
	Validator  QueryValidator
	Preview    PreviewExecutor
	Publisher  PanelPublisher
	Store      RecordStore // optional

	StageTimeout time.Duration

	// OnStage, if set, observes every stage outcome with its duration.
	OnStage func(stage Stage, outcome string, d time.Duration)
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Classifier == nil {
		return errors.New("classifier is required")
	}
	if c.Resolver == nil {
		return errors.New("resolver is required")
	}
	if c.Synth == nil {
		return errors.New("synthesizer is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Preview == nil {
		return errors.New("preview executor is required")
	}
	if c.Publisher == nil {
		return errors.New("publisher is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	return nil
}

// Runner executes pipelines. One Runner serves many concurrent requests;
// each request gets its own Context and stages within a request run strictly
// sequentially.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, log: cfg.Logger}, nil
}

// Generate drives the request through the full pipeline. It returns either
// a deployed panel reference or a *StageError identifying the failed stage.
// Caller cancellation is honored between and during stages; nothing is ever
// written to the dashboard unless every prior stage succeeded.
func (r *Runner) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.cfg.Clock.Now()
	}
	pc := &Context{Request: req, Stage: StageReceived}
	log := r.log.With("user", req.UserID)

	res, err := r.run(ctx, pc, log)
	r.record(pc)
	if err != nil {
		log.Error("pipeline failed", "stage", pc.Failure.Stage, "reason", pc.Failure.Reason, "error", err)
		return nil, err
	}
	log.Info("pipeline completed",
		"type", pc.Visualization.Type,
		"source", pc.Source.Name,
		"panelID", pc.Deployment.PanelID,
		"dashboard", pc.Deployment.DashboardUID)
	return res, nil
}

func (r *Runner) run(ctx context.Context, pc *Context, log *slog.Logger) (*Result, error) {
	// Classification cannot fail; AI unavailability falls back internally.
	if err := r.stage(ctx, pc, StageClassified, func(sctx context.Context) error {
		pc.Visualization = r.cfg.Classifier.Classify(sctx, pc.Request.Text)
		return nil
	}, nil); err != nil {
		return nil, err
	}
	log.Debug("request classified", "type", pc.Visualization.Type, "path", pc.Visualization.Path)

	if err := r.stage(ctx, pc, StageSourceResolved, func(context.Context) error {
		d, err := r.cfg.Resolver.Resolve(pc.Request.Text)
		if err != nil {
			return err
		}
		pc.Source = d
		return nil
	}, resolveReason); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, pc, StageQuerySynthesized, func(context.Context) error {
		q, err := r.cfg.Synth.Synthesize(pc.Request.Text, pc.Source, r.cfg.Clock.Now())
		if err != nil {
			return err
		}
		pc.Query = q
		return nil
	}, func(error) Reason { return ReasonSynthesisError }); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, pc, StageQueryValidated, func(context.Context) error {
		result := r.cfg.Validator.Check(pc.Query, pc.Source)
		pc.Validation = &result
		if !result.OK {
			return &validationError{result}
		}
		return nil
	}, func(error) Reason { return ReasonValidationFailed }); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, pc, StagePreviewed, func(sctx context.Context) error {
		sample, err := r.cfg.Preview.Preview(sctx, pc.Query)
		if err != nil {
			return err
		}
		pc.Sample = sample
		return nil
	}, previewReason); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, pc, StagePanelBuilt, func(context.Context) error {
		pc.Panel = panel.Build(pc.Visualization.Type, pc.Query, pc.Sample, pc.Request.DashboardID)
		return nil
	}, nil); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, pc, StageDeployed, func(sctx context.Context) error {
		dep, err := r.cfg.Publisher.UpsertPanel(sctx, pc.Panel)
		if err != nil {
			return err
		}
		pc.Deployment = dep
		return nil
	}, func(error) Reason { return ReasonDeploymentFailed }); err != nil {
		return nil, err
	}

	return &Result{
		Panel:      pc.Panel,
		Deployment: pc.Deployment,
		Sample:     pc.Sample,
		Type:       pc.Visualization.Type,
		Path:       pc.Visualization.Path,
	}, nil
}

// stage runs one stage under the per-stage timeout and advances the context
// on success. reasonFn maps a stage error to its taxonomy code; caller
// cancellation always wins and maps to Cancelled.
func (r *Runner) stage(ctx context.Context, pc *Context, next Stage, fn func(context.Context) error, reasonFn func(error) Reason) error {
	if err := ctx.Err(); err != nil {
		return pc.fail(next, ReasonCancelled, err)
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()

	start := r.cfg.Clock.Now()
	err := fn(sctx)
	elapsed := r.cfg.Clock.Now().Sub(start)

	outcome := "ok"
	defer func() {
		if r.cfg.OnStage != nil {
			r.cfg.OnStage(next, outcome, elapsed)
		}
	}()

	if err != nil {
		outcome = "failed"
		if ctx.Err() != nil {
			return pc.fail(next, ReasonCancelled, ctx.Err())
		}
		reason := ReasonInternal
		if reasonFn != nil {
			reason = reasonFn(err)
		}
		return pc.fail(next, reason, err)
	}
	pc.advance(next)
	return nil
}

func resolveReason(err error) Reason {
	var amb *catalog.AmbiguityError
	switch {
	case errors.Is(err, catalog.ErrNoMatch):
		return ReasonNoMatchingDataSource
	case errors.As(err, &amb):
		return ReasonAmbiguousDataSource
	}
	return ReasonInternal
}

func previewReason(err error) Reason {
	switch {
	case errors.Is(err, preview.ErrTimeout):
		return ReasonPreviewTimeout
	case errors.Is(err, preview.ErrTooLarge):
		return ReasonPreviewTooLarge
	}
	return ReasonInternal
}

type validationError struct {
	result validate.Result
}

func (e *validationError) Error() string {
	if len(e.result.Violations) == 0 {
		return "validation failed"
	}
	return "validation failed: " + e.result.Violations[0].String()
}

// record writes the terminal outcome to the audit store, if configured.
func (r *Runner) record(pc *Context) {
	if r.cfg.Store == nil {
		return
	}
	rec := Record{
		UserID:      pc.Request.UserID,
		RequestText: pc.Request.Text,
		Stage:       pc.Stage,
		CreatedAt:   pc.Request.CreatedAt,
	}
	if pc.Failure != nil {
		rec.Reason = pc.Failure.Reason
	}
	if pc.Source != nil {
		rec.SourceName = pc.Source.Name
	}
	if pc.Panel != nil {
		rec.ContentHash = pc.Panel.ContentHash
	}
	if pc.Deployment != nil {
		rec.DashboardUID = pc.Deployment.DashboardUID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cfg.Store.Record(ctx, rec); err != nil {
		r.log.Warn("failed to record pipeline outcome", "error", err)
	}
}
