// Package grafana publishes panel specs to the dashboard service. Upserts
// are idempotent: a panel with the same content hash on the target dashboard
// is updated in place rather than duplicated.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/gridpulse/panelgen/internal/panel"
	"github.com/gridpulse/panelgen/internal/viz"
)

// hashMarker prefixes the content hash stored in a panel's description so
// later upserts can find panels this service created.
const hashMarker = "panelgen-hash:"

const defaultDedupeTTL = 24 * time.Hour

// DeploymentResult reports where a panel landed.
type DeploymentResult struct {
	PanelID      int
	DashboardUID string
	DashboardURL string
	// Created is false when an existing panel was updated in place.
	Created bool
	// IdempotencyKey is the content hash the upsert was keyed by.
	IdempotencyKey string
}

// ClientConfig holds the configuration for a Client.
type ClientConfig struct {
	Logger   *slog.Logger
	BaseURL  string
	Username string
	Password string

	// DatasourceUID identifies the dashboard datasource panels query
	// through.
	DatasourceUID  string
	DatasourceType string

	HTTPClient *http.Client
	DedupeTTL  time.Duration

	// OnDedupeHit, if set, is invoked when an upsert matched an existing
	// panel instead of creating one.
	OnDedupeHit func()
}

func (c *ClientConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if c.DatasourceUID == "" {
		return errors.New("datasource UID is required")
	}
	if c.DatasourceType == "" {
		c.DatasourceType = "grafana-clickhouse-datasource"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.DedupeTTL == 0 {
		c.DedupeTTL = defaultDedupeTTL
	}
	return nil
}

// Client talks to the dashboard deployment API.
type Client struct {
	cfg    ClientConfig
	log    *slog.Logger
	dedupe *ttlcache.Cache[string, DeploymentResult]
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dedupe := ttlcache.New(
		ttlcache.WithTTL[string, DeploymentResult](cfg.DedupeTTL),
	)
	go dedupe.Start()
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger,
		dedupe: dedupe,
	}, nil
}

// Close stops the dedupe cache janitor.
func (c *Client) Close() {
	c.dedupe.Stop()
}

// Ping verifies connectivity and credentials against the org endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var org struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/org", nil, &org); err != nil {
		return fmt.Errorf("dashboard service unreachable: %w", err)
	}
	c.log.Info("dashboard service reachable", "org", org.Name)
	return nil
}

// UpsertPanel deploys the spec. A content hash deployed within the dedupe
// TTL is served from cache without touching the dashboard service. Past the
// cache, when the target dashboard already holds a panel with the same
// content hash, that panel is replaced under its existing id; otherwise a
// new panel is appended. With no target dashboard a dedicated dashboard is
// created under a hash-derived UID, so repeated deployments converge on one
// dashboard.
func (c *Client) UpsertPanel(ctx context.Context, spec *panel.Spec) (*DeploymentResult, error) {
	if item := c.dedupe.Get(spec.ContentHash); item != nil {
		cached := item.Value()
		cached.Created = false
		c.log.Info("deployment served from dedupe cache",
			"hash", spec.ContentHash[:12], "panelID", cached.PanelID, "dashboard", cached.DashboardUID)
		if c.cfg.OnDedupeHit != nil {
			c.cfg.OnDedupeHit()
		}
		return &cached, nil
	}

	var result *DeploymentResult
	var err error
	if spec.DashboardID == "" {
		result, err = c.upsertDedicated(ctx, spec)
	} else {
		result, err = c.upsertOnto(ctx, spec)
	}
	if err != nil {
		return nil, err
	}
	if !result.Created && c.cfg.OnDedupeHit != nil {
		c.cfg.OnDedupeHit()
	}
	c.dedupe.Set(spec.ContentHash, *result, ttlcache.DefaultTTL)
	return result, nil
}

// upsertDedicated creates or updates a single-panel dashboard keyed by the
// content hash.
func (c *Client) upsertDedicated(ctx context.Context, spec *panel.Spec) (*DeploymentResult, error) {
	uid := "pg-" + spec.ContentHash[:12]

	created := true
	var version int64
	var id *int64
	if existing, err := c.getDashboard(ctx, uid); err == nil {
		created = false
		version = existing.Dashboard.Version
		id = existing.Dashboard.ID
	}

	req := upsertRequest{
		Dashboard: dashboard{
			UID:           uid,
			ID:            id,
			Title:         spec.Title,
			Tags:          []string{"panelgen"},
			Timezone:      "browser",
			Panels:        []dashboardPanel{c.buildPanel(spec, 1)},
			Time:          map[string]any{"from": "now-24h", "to": "now"},
			Refresh:       "30s",
			SchemaVersion: 37,
			Version:       version,
		},
		Overwrite: true,
		Message:   "panelgen upsert",
	}
	resp, err := c.postDashboard(ctx, req)
	if err != nil {
		return nil, err
	}
	return &DeploymentResult{
		PanelID:        1,
		DashboardUID:   resp.UID,
		DashboardURL:   strings.TrimSuffix(c.cfg.BaseURL, "/") + resp.URL,
		Created:        created,
		IdempotencyKey: spec.ContentHash,
	}, nil
}

// upsertOnto adds the panel to an existing dashboard, replacing any panel
// carrying the same content hash.
func (c *Client) upsertOnto(ctx context.Context, spec *panel.Spec) (*DeploymentResult, error) {
	existing, err := c.getDashboard(ctx, spec.DashboardID)
	if err != nil {
		return nil, fmt.Errorf("target dashboard %q: %w", spec.DashboardID, err)
	}

	marker := hashMarker + spec.ContentHash
	panelID := 0
	maxID := 0
	for i := range existing.Dashboard.Panels {
		p := &existing.Dashboard.Panels[i]
		if p.ID > maxID {
			maxID = p.ID
		}
		if strings.Contains(p.Description, marker) {
			panelID = p.ID
		}
	}

	created := panelID == 0
	if created {
		panelID = maxID + 1
		existing.Dashboard.Panels = append(existing.Dashboard.Panels, c.buildPanel(spec, panelID))
	} else {
		for i := range existing.Dashboard.Panels {
			if existing.Dashboard.Panels[i].ID == panelID {
				existing.Dashboard.Panels[i] = c.buildPanel(spec, panelID)
			}
		}
	}

	resp, err := c.postDashboard(ctx, upsertRequest{
		Dashboard: existing.Dashboard,
		Overwrite: true,
		Message:   "panelgen upsert",
	})
	if err != nil {
		return nil, err
	}
	return &DeploymentResult{
		PanelID:        panelID,
		DashboardUID:   resp.UID,
		DashboardURL:   strings.TrimSuffix(c.cfg.BaseURL, "/") + resp.URL,
		Created:        created,
		IdempotencyKey: spec.ContentHash,
	}, nil
}

func (c *Client) buildPanel(spec *panel.Spec, id int) dashboardPanel {
	ds := datasourceRef{UID: c.cfg.DatasourceUID, Type: c.cfg.DatasourceType}
	panelType, fieldConfig, options, format := renderVisualization(spec)
	return dashboardPanel{
		ID:          id,
		Title:       spec.Title,
		Type:        panelType,
		Description: hashMarker + spec.ContentHash,
		GridPos:     gridPos{H: 12, W: 24, X: 0, Y: 0},
		Datasource:  ds,
		Targets: []target{{
			Datasource: ds,
			Format:     format,
			RawQuery:   true,
			RawSQL:     spec.RawSQL,
			RefID:      "A",
		}},
		FieldConfig: fieldConfig,
		Options:     options,
	}
}

func (c *Client) getDashboard(ctx context.Context, uid string) (*getDashboardResponse, error) {
	var resp getDashboardResponse
	if err := c.do(ctx, http.MethodGet, "/api/dashboards/uid/"+uid, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// postDashboard performs the upsert with one bounded retry for transport
// errors only; an HTTP-level failure is final.
func (c *Client) postDashboard(ctx context.Context, req upsertRequest) (*upsertResponse, error) {
	return backoff.Retry(ctx, func() (*upsertResponse, error) {
		var resp upsertResponse
		err := c.do(ctx, http.MethodPost, "/api/dashboards/db", req, &resp)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) {
				return nil, backoff.Permanent(err)
			}
			c.log.Warn("dashboard upsert transport error, retrying once", "error", err)
			return nil, err
		}
		return &resp, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(2))
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("dashboard API returned HTTP %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// renderVisualization maps a visualization type onto a dashboard panel type
// and its display config. Line, area and scatter all render through the
// timeseries panel with different draw styles.
func renderVisualization(spec *panel.Spec) (panelType string, fieldConfig, options map[string]any, format string) {
	format = "time_series"
	custom := map[string]any{
		"drawStyle":         "line",
		"lineInterpolation": "linear",
		"lineWidth":         1,
		"fillOpacity":       0,
		"showPoints":        "auto",
		"pointSize":         5,
		"axisLabel":         spec.Options.YAxisLabel,
	}
	switch spec.Type {
	case viz.TypeBar:
		panelType = "barchart"
	case viz.TypeGauge:
		panelType = "gauge"
	case viz.TypeTable:
		panelType = "table"
		format = "table"
	case viz.TypeArea:
		panelType = "timeseries"
		custom["fillOpacity"] = 30
	case viz.TypeScatter:
		panelType = "timeseries"
		custom["drawStyle"] = "points"
		custom["showPoints"] = "always"
	default:
		panelType = "timeseries"
	}

	fieldConfig = map[string]any{
		"defaults": map[string]any{
			"custom": custom,
			"color":  map[string]any{"mode": spec.Options.ColorHint},
		},
		"overrides": []any{},
	}
	options = map[string]any{
		"tooltip": map[string]any{"mode": "single"},
		"legend":  map[string]any{"showLegend": true, "placement": "bottom"},
	}
	return panelType, fieldConfig, options, format
}
