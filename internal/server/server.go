// Package server exposes the panel generation pipeline over HTTP. Inbound
// requests fan out through a bounded worker pool so the number of pipelines
// in flight never exceeds the configured cap.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpulse/panelgen/internal/metrics"
	"github.com/gridpulse/panelgen/internal/pipeline"
)

const (
	defaultMaxPipelines   = 16
	defaultRequestTimeout = 3 * time.Minute
)

// Config holds the configuration for a Server.
type Config struct {
	Logger *slog.Logger
	Runner *pipeline.Runner

	// MaxPipelines caps concurrently running pipelines. Default 16.
	MaxPipelines int
	// RequestTimeout bounds a whole request including queue wait.
	RequestTimeout time.Duration
	// AllowedOrigins for CORS; empty disables CORS handling.
	AllowedOrigins []string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.MaxPipelines == 0 {
		c.MaxPipelines = defaultMaxPipelines
	}
	if c.MaxPipelines < 0 {
		return errors.New("max pipelines must be > 0")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Server is the HTTP gateway.
type Server struct {
	cfg  Config
	log  *slog.Logger
	pool pond.ResultPool[*pipeline.Result]
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:  cfg,
		log:  cfg.Logger,
		pool: pond.NewResultPool[*pipeline.Result](cfg.MaxPipelines),
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/visualizations", s.handleGenerate)
	return r
}

type generateRequest struct {
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	DashboardID string `json:"dashboard_id,omitempty"`
}

type generateResponse struct {
	Success bool `json:"success"`

	// Set on success.
	VisualizationType string         `json:"visualization_type,omitempty"`
	Title             string         `json:"title,omitempty"`
	PanelID           int            `json:"panel_id,omitempty"`
	DashboardUID      string         `json:"dashboard_uid,omitempty"`
	DashboardURL      string         `json:"dashboard_url,omitempty"`
	ContentHash       string         `json:"content_hash,omitempty"`
	PreviewRows       int            `json:"preview_rows,omitempty"`
	Created           *bool          `json:"created,omitempty"`

	// Set on failure.
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, generateResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.Text == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, generateResponse{Success: false, Error: "text and user_id are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	task := s.pool.SubmitErr(func() (*pipeline.Result, error) {
		return s.cfg.Runner.Generate(ctx, pipeline.Request{
			Text:        req.Text,
			UserID:      req.UserID,
			DashboardID: req.DashboardID,
		})
	})
	result, err := task.Wait()
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			status := statusFor(se.Reason)
			writeJSON(w, status, generateResponse{
				Success: false,
				Stage:   string(se.Stage),
				Reason:  string(se.Reason),
				Error:   se.Error(),
			})
			return
		}
		s.log.Error("pipeline returned untyped error", "error", err)
		writeJSON(w, http.StatusInternalServerError, generateResponse{Success: false, Error: "internal error"})
		return
	}

	created := result.Deployment.Created
	writeJSON(w, http.StatusOK, generateResponse{
		Success:           true,
		VisualizationType: string(result.Type),
		Title:             result.Panel.Title,
		PanelID:           result.Deployment.PanelID,
		DashboardUID:      result.Deployment.DashboardUID,
		DashboardURL:      result.Deployment.DashboardURL,
		ContentHash:       result.Panel.ContentHash,
		PreviewRows:       len(result.Sample.Rows),
		Created:           &created,
	})
}

// statusFor maps failure reasons to HTTP statuses: request problems the
// caller can rephrase are 4xx, infrastructure problems are 5xx.
func statusFor(reason pipeline.Reason) int {
	switch reason {
	case pipeline.ReasonNoMatchingDataSource,
		pipeline.ReasonAmbiguousDataSource,
		pipeline.ReasonSynthesisError,
		pipeline.ReasonValidationFailed:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
