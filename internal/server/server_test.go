package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/grafana"
	"github.com/gridpulse/panelgen/internal/panel"
	"github.com/gridpulse/panelgen/internal/pipeline"
	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/validate"
	"github.com/gridpulse/panelgen/internal/viz"
)

type stubPreview struct{}

func (stubPreview) Preview(context.Context, *synth.Query) (*preview.Sample, error) {
	return &preview.Sample{
		Columns: []preview.Column{
			{Name: "ts", DatabaseType: "DateTime"},
			{Name: "price_usd", DatabaseType: "Float64", Numeric: true},
		},
		Rows: [][]any{{time.Now(), 28.1}, {time.Now(), 29.4}},
	}, nil
}

type stubPublisher struct{}

func (stubPublisher) UpsertPanel(_ context.Context, spec *panel.Spec) (*grafana.DeploymentResult, error) {
	return &grafana.DeploymentResult{
		PanelID:        1,
		DashboardUID:   "pg-" + spec.ContentHash[:12],
		DashboardURL:   "http://grafana/d/pg-" + spec.ContentHash[:12],
		Created:        true,
		IdempotencyKey: spec.ContentHash,
	}, nil
}

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	classifier, err := viz.NewClassifier(viz.ClassifierConfig{Logger: slog.Default()})
	require.NoError(t, err)
	synthesizer, err := synth.NewSynthesizer(synth.SynthesizerConfig{})
	require.NoError(t, err)
	validator, err := validate.NewValidator(validate.ValidatorConfig{})
	require.NoError(t, err)
	runner, err := pipeline.New(pipeline.Config{
		Logger:     slog.Default(),
		Classifier: classifier,
		Resolver:   catalog.NewResolver(catalog.Default()),
		Synth:      synthesizer,
		Validator:  validator,
		Preview:    stubPreview{},
		Publisher:  stubPublisher{},
	})
	require.NoError(t, err)

	srv, err := New(Config{Logger: slog.Default(), Runner: runner, MaxPipelines: 2})
	require.NoError(t, err)
	return srv.Handler()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/visualizations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPanelgen_Server_GenerateSuccess(t *testing.T) {
	t.Parallel()

	rec := post(t, testHandler(t),
		`{"text": "Show me west hub prices over the last 24 hours", "user_id": "analyst-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success           bool   `json:"success"`
		VisualizationType string `json:"visualization_type"`
		Title             string `json:"title"`
		PanelID           int    `json:"panel_id"`
		DashboardUID      string `json:"dashboard_uid"`
		ContentHash       string `json:"content_hash"`
		PreviewRows       int    `json:"preview_rows"`
		Created           *bool  `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "line", resp.VisualizationType)
	require.Equal(t, "Settlement Prices (west)", resp.Title)
	require.Equal(t, 1, resp.PanelID)
	require.True(t, strings.HasPrefix(resp.DashboardUID, "pg-"))
	require.NotEmpty(t, resp.ContentHash)
	require.Equal(t, 2, resp.PreviewRows)
	require.NotNil(t, resp.Created)
	require.True(t, *resp.Created)
}

func TestPanelgen_Server_NoMatchIs422(t *testing.T) {
	t.Parallel()

	rec := post(t, testHandler(t), `{"text": "weather forecast please", "user_id": "analyst-1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Stage   string `json:"stage"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "source_resolved", resp.Stage)
	require.Equal(t, "no_matching_data_source", resp.Reason)
}

func TestPanelgen_Server_MissingFieldsIs400(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	require.Equal(t, http.StatusBadRequest, post(t, h, `{"text": "west hub prices"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(t, h, `{"user_id": "analyst-1"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(t, h, `not json`).Code)
}

func TestPanelgen_Server_Healthz(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	testHandler(t).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
