// Package preview runs a validated query through a bounded, read-only trial
// execution. The sample it returns is for validation feedback and axis
// defaults only; the deployed panel re-runs the query through the dashboard
// datasource.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridpulse/panelgen/internal/synth"
)

const (
	// DefaultRowCap is the hard sample-size cap, applied independently of
	// the query's own LIMIT.
	DefaultRowCap = 50
	// DefaultTimeout bounds the trial execution. Deliberately shorter than
	// the per-stage timeout: a slow preview indicates a synthesis problem,
	// not a transient fault.
	DefaultTimeout = 5 * time.Second
)

// ErrTimeout reports an executor-side timeout.
var ErrTimeout = errors.New("preview timed out")

// ErrTooLarge reports an executor-side resource-limit rejection.
var ErrTooLarge = errors.New("preview result too large")

// Column describes one result column.
type Column struct {
	Name string
	// DatabaseType is the store's type name, e.g. "Float64" or "String".
	DatabaseType string
	// Numeric is true when the column scans as a number; the panel builder
	// uses it to pick axis defaults.
	Numeric bool
}

// Sample is the bounded result of a trial execution. Rows never exceeds the
// configured cap; Truncated reports whether the store had more.
type Sample struct {
	Columns   []Column
	Rows      [][]any
	Truncated bool
}

// Engine executes a parameterized read-only query with a caller-specified
// row cap. Implementations must return ErrTimeout/ErrTooLarge for the
// corresponding executor-reported conditions.
type Engine interface {
	Query(ctx context.Context, sql string, args []any, rowCap int) (*Sample, error)
}

// ExecutorConfig holds the configuration for an Executor.
type ExecutorConfig struct {
	Logger  *slog.Logger
	Engine  Engine
	RowCap  int
	Timeout time.Duration
}

func (c *ExecutorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Engine == nil {
		return errors.New("engine is required")
	}
	if c.RowCap == 0 {
		c.RowCap = DefaultRowCap
	}
	if c.RowCap < 0 {
		return errors.New("row cap must be > 0")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Executor runs previews.
type Executor struct {
	cfg ExecutorConfig
	log *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{cfg: cfg, log: cfg.Logger}, nil
}

// Preview executes the query with the preview timeout and hard row cap.
// Timeouts and resource-limit errors are terminal; previews are never
// retried.
func (e *Executor) Preview(ctx context.Context, q *synth.Query) (*Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	sample, err := e.cfg.Engine.Query(ctx, q.SQL, q.Args, e.cfg.RowCap)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	// The engine already caps its reads; enforce the cap here as well so a
	// misbehaving engine cannot leak an oversized sample downstream.
	if len(sample.Rows) > e.cfg.RowCap {
		sample.Rows = sample.Rows[:e.cfg.RowCap]
		sample.Truncated = true
	}
	e.log.Debug("preview executed", "rows", len(sample.Rows), "truncated", sample.Truncated)
	return sample, nil
}
