package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/grafana"
	"github.com/gridpulse/panelgen/internal/panel"
	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/validate"
	"github.com/gridpulse/panelgen/internal/viz"
)

// fakePublisher records what would have been deployed without a live
// dashboard service.
type fakePublisher struct {
	err      error
	deployed []*panel.Spec
}

func (p *fakePublisher) UpsertPanel(_ context.Context, spec *panel.Spec) (*grafana.DeploymentResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.deployed = append(p.deployed, spec)
	return &grafana.DeploymentResult{
		PanelID:        1,
		DashboardUID:   "pg-" + spec.ContentHash[:12],
		DashboardURL:   "http://grafana/d/pg-" + spec.ContentHash[:12],
		Created:        len(p.deployed) == 1,
		IdempotencyKey: spec.ContentHash,
	}, nil
}

type fakePreview struct {
	sample *preview.Sample
	err    error
	calls  int
}

func (p *fakePreview) Preview(context.Context, *synth.Query) (*preview.Sample, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.sample, nil
}

type memStore struct {
	records []Record
}

func (s *memStore) Record(_ context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return nil
}

// testRunner assembles a runner from real classifier, catalog, synthesizer
// and validator components with fakes only at the network edges.
func testRunner(t *testing.T, mutate func(*Config)) (*Runner, *fakePublisher, *memStore) {
	t.Helper()
	classifier, err := viz.NewClassifier(viz.ClassifierConfig{Logger: slog.Default()})
	require.NoError(t, err)
	resolver := catalog.NewResolver(catalog.Default())
	synthesizer, err := synth.NewSynthesizer(synth.SynthesizerConfig{})
	require.NoError(t, err)
	validator, err := validate.NewValidator(validate.ValidatorConfig{})
	require.NoError(t, err)

	pub := &fakePublisher{}
	store := &memStore{}
	cfg := Config{
		Logger:     slog.Default(),
		Classifier: classifier,
		Resolver:   resolver,
		Synth:      synthesizer,
		Validator:  validator,
		Preview: &fakePreview{sample: &preview.Sample{
			Columns: []preview.Column{
				{Name: "ts", DatabaseType: "DateTime"},
				{Name: "price_usd", DatabaseType: "Float64", Numeric: true},
				{Name: "hub", DatabaseType: "String"},
			},
			Rows: [][]any{{time.Now(), 31.5, "west"}},
		}},
		Publisher: pub,
		Store:     store,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r, pub, store
}

func TestPanelgen_Pipeline_WestHubPricesEndToEnd(t *testing.T) {
	t.Parallel()

	var stages []Stage
	r, pub, store := testRunner(t, func(cfg *Config) {
		cfg.OnStage = func(s Stage, outcome string, _ time.Duration) {
			require.Equal(t, "ok", outcome)
			stages = append(stages, s)
		}
	})

	res, err := r.Generate(context.Background(), Request{
		Text:   "Show me west hub prices over the last 24 hours",
		UserID: "analyst-1",
	})
	require.NoError(t, err)

	require.Equal(t, viz.TypeLine, res.Type)
	require.Equal(t, viz.PathFallback, res.Path)
	require.Equal(t, "Settlement Prices (west)", res.Panel.Title)
	require.Contains(t, res.Panel.RawSQL, "$__timeFilter(ts)")
	require.Contains(t, res.Panel.RawSQL, "hub = 'west'")
	require.NotEmpty(t, res.Panel.ContentHash)
	require.True(t, res.Deployment.Created)
	require.Len(t, pub.deployed, 1)

	require.Equal(t, []Stage{
		StageClassified, StageSourceResolved, StageQuerySynthesized,
		StageQueryValidated, StagePreviewed, StagePanelBuilt, StageDeployed,
	}, stages)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	require.Equal(t, StageDeployed, rec.Stage)
	require.Equal(t, "analyst-1", rec.UserID)
	require.Equal(t, "settlement-prices", rec.SourceName)
	require.NotEmpty(t, rec.ContentHash)
}

func TestPanelgen_Pipeline_NoMatchingDataSource(t *testing.T) {
	t.Parallel()

	r, pub, store := testRunner(t, nil)
	_, err := r.Generate(context.Background(), Request{
		Text:   "show me tomorrow's weather forecast",
		UserID: "analyst-1",
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageSourceResolved, se.Stage)
	require.Equal(t, ReasonNoMatchingDataSource, se.Reason)
	require.ErrorIs(t, err, catalog.ErrNoMatch)
	require.Empty(t, pub.deployed)

	require.Len(t, store.records, 1)
	require.Equal(t, StageFailed, store.records[0].Stage)
	require.Equal(t, ReasonNoMatchingDataSource, store.records[0].Reason)
}

func TestPanelgen_Pipeline_SynthesisErrorStopsPipeline(t *testing.T) {
	t.Parallel()

	r, pub, _ := testRunner(t, nil)
	_, err := r.Generate(context.Background(), Request{
		Text:   "hub prices over the last 200 days",
		UserID: "analyst-1",
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageQuerySynthesized, se.Stage)
	require.Equal(t, ReasonSynthesisError, se.Reason)
	require.ErrorIs(t, err, synth.ErrMalformedWindow)
	require.Empty(t, pub.deployed)
}

type rejectingValidator struct{}

func (rejectingValidator) Check(*synth.Query, *catalog.Descriptor) validate.Result {
	return validate.Result{OK: false, Violations: []validate.Violation{
		{Rule: validate.RuleReadOnly, Detail: "mutation keyword"},
	}}
}

func TestPanelgen_Pipeline_ValidationFailureBlocksPreview(t *testing.T) {
	t.Parallel()

	fp := &fakePreview{}
	r, pub, _ := testRunner(t, func(cfg *Config) {
		cfg.Validator = rejectingValidator{}
		cfg.Preview = fp
	})

	_, err := r.Generate(context.Background(), Request{
		Text:   "west hub prices",
		UserID: "analyst-1",
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageQueryValidated, se.Stage)
	require.Equal(t, ReasonValidationFailed, se.Reason)
	require.Zero(t, fp.calls)
	require.Empty(t, pub.deployed)
}

func TestPanelgen_Pipeline_PreviewTimeoutReason(t *testing.T) {
	t.Parallel()

	r, pub, _ := testRunner(t, func(cfg *Config) {
		cfg.Preview = &fakePreview{err: preview.ErrTimeout}
	})

	_, err := r.Generate(context.Background(), Request{
		Text:   "west hub prices",
		UserID: "analyst-1",
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StagePreviewed, se.Stage)
	require.Equal(t, ReasonPreviewTimeout, se.Reason)
	require.Empty(t, pub.deployed)
}

func TestPanelgen_Pipeline_DeploymentFailureReason(t *testing.T) {
	t.Parallel()

	r, _, _ := testRunner(t, func(cfg *Config) {
		cfg.Publisher = &fakePublisher{err: errors.New("dashboard API returned HTTP 502")}
	})

	_, err := r.Generate(context.Background(), Request{
		Text:   "west hub prices",
		UserID: "analyst-1",
	})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, StageDeployed, se.Stage)
	require.Equal(t, ReasonDeploymentFailed, se.Reason)
}

func TestPanelgen_Pipeline_CancellationBetweenStages(t *testing.T) {
	t.Parallel()

	r, pub, store := testRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Generate(ctx, Request{Text: "west hub prices", UserID: "analyst-1"})

	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, ReasonCancelled, se.Reason)
	require.Empty(t, pub.deployed)
	require.Len(t, store.records, 1)
	require.Equal(t, StageFailed, store.records[0].Stage)
}

// AI downtime must degrade, not fail: the classifier's internal fallback
// still yields a deployable panel.
func TestPanelgen_Pipeline_AIDeniedStillCompletes(t *testing.T) {
	t.Parallel()

	deniedLLM := failingCompleter{}
	r, pub, _ := testRunner(t, func(cfg *Config) {
		classifier, err := viz.NewClassifier(viz.ClassifierConfig{
			Logger: slog.Default(),
			LLM:    deniedLLM,
		})
		require.NoError(t, err)
		cfg.Classifier = classifier
	})

	res, err := r.Generate(context.Background(), Request{
		Text:   "current grid capacity right now",
		UserID: "analyst-1",
	})
	require.NoError(t, err)
	require.Equal(t, viz.PathFallback, res.Path)
	require.Equal(t, viz.TypeGauge, res.Type)
	require.Len(t, pub.deployed, 1)
}

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("credential rejected")
}

func TestPanelgen_Pipeline_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
