// Package pipeline drives one analytics request through the ordered stage
// machine: classify, resolve, synthesize, validate, preview, build, deploy.
// Each request gets its own context accumulator; stage state only moves
// forward, and any stage failure freezes the context in a terminal Failed
// state naming the originating stage.
package pipeline

import (
	"fmt"
	"time"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/grafana"
	"github.com/gridpulse/panelgen/internal/panel"
	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/validate"
	"github.com/gridpulse/panelgen/internal/viz"
)

// Stage identifies a position in the pipeline.
type Stage string

const (
	StageReceived         Stage = "received"
	StageClassified       Stage = "classified"
	StageSourceResolved   Stage = "source_resolved"
	StageQuerySynthesized Stage = "query_synthesized"
	StageQueryValidated   Stage = "query_validated"
	StagePreviewed        Stage = "previewed"
	StagePanelBuilt       Stage = "panel_built"
	StageDeployed         Stage = "deployed"
	StageFailed           Stage = "failed"
)

// stageOrder enforces forward-only transitions.
var stageOrder = map[Stage]int{
	StageReceived:         0,
	StageClassified:       1,
	StageSourceResolved:   2,
	StageQuerySynthesized: 3,
	StageQueryValidated:   4,
	StagePreviewed:        5,
	StagePanelBuilt:       6,
	StageDeployed:         7,
}

// Reason codes the failure taxonomy surfaced to callers.
type Reason string

const (
	ReasonNoMatchingDataSource Reason = "no_matching_data_source"
	ReasonAmbiguousDataSource  Reason = "ambiguous_data_source"
	ReasonSynthesisError       Reason = "synthesis_error"
	ReasonValidationFailed     Reason = "validation_failed"
	ReasonPreviewTimeout       Reason = "preview_timeout"
	ReasonPreviewTooLarge      Reason = "preview_too_large"
	ReasonDeploymentFailed     Reason = "deployment_failed"
	ReasonCancelled            Reason = "cancelled"
	ReasonInternal             Reason = "internal"
)

// StageError is a terminal pipeline failure carrying its originating stage.
type StageError struct {
	Stage  Stage
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline failed at %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("pipeline failed at %s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Request is the immutable pipeline input.
type Request struct {
	Text        string
	UserID      string
	DashboardID string // optional target dashboard
	CreatedAt   time.Time
}

// Context accumulates one request's state through the pipeline. It is owned
// exclusively by the running pipeline instance and never shared across
// requests.
type Context struct {
	Request Request
	Stage   Stage

	Visualization viz.Outcome
	Source        *catalog.Descriptor
	Query         *synth.Query
	Validation    *validate.Result
	Sample        *preview.Sample
	Panel         *panel.Spec
	Deployment    *grafana.DeploymentResult

	Failure *StageError
}

// advance moves the context forward. Backward transitions are programming
// errors and panic rather than corrupting state.
func (c *Context) advance(next Stage) {
	if c.Failure != nil {
		panic("pipeline: advance after terminal failure")
	}
	if stageOrder[next] <= stageOrder[c.Stage] {
		panic(fmt.Sprintf("pipeline: backward transition %s -> %s", c.Stage, next))
	}
	c.Stage = next
}

// fail freezes the context in the terminal Failed state.
func (c *Context) fail(stage Stage, reason Reason, err error) *StageError {
	se := &StageError{Stage: stage, Reason: reason, Err: err}
	c.Failure = se
	c.Stage = StageFailed
	return se
}

// Result is the successful outcome surfaced to the caller.
type Result struct {
	Panel      *panel.Spec
	Deployment *grafana.DeploymentResult
	Sample     *preview.Sample
	Type       viz.Type
	Path       viz.Path
}
