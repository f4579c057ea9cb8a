package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
)

// Cause distinguishes why the backend is unavailable. Quota and credential
// failures are both reported as unavailable, but callers and metrics see the
// difference.
type Cause string

const (
	CauseQuota      Cause = "quota"
	CauseCredential Cause = "credential"
	CauseTimeout    Cause = "timeout"
	CauseBreaker    Cause = "breaker_open"
	CauseOther      Cause = "other"
)

// UnavailableError signals that the AI backend cannot serve the call and the
// caller must fall back deterministically. The adapter never substitutes
// fabricated content.
type UnavailableError struct {
	Cause Cause
	Err   error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("AI backend unavailable (%s)", e.Cause)
	}
	return fmt.Sprintf("AI backend unavailable (%s): %v", e.Cause, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// AdapterConfig holds the configuration for an Adapter.
type AdapterConfig struct {
	Logger *slog.Logger
	Client Completer
	Clock  clockwork.Clock

	// CallTimeout bounds each upstream call. Default 30s.
	CallTimeout time.Duration
	// FailureThreshold consecutive failures within FailureWindow open the
	// breaker. Defaults 5 failures in 2m.
	FailureThreshold int
	FailureWindow    time.Duration
	// CoolDown is how long the open breaker short-circuits calls. Default 60s.
	CoolDown time.Duration
	// MaxConcurrent caps simultaneous upstream calls. Default 4. Waiters
	// queue but respect ctx.
	MaxConcurrent int64

	// OnBreakerOpen, if set, is invoked each time the breaker opens.
	OnBreakerOpen func()
}

func (c *AdapterConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Client == nil {
		return errors.New("client is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = 2 * time.Minute
	}
	if c.CoolDown == 0 {
		c.CoolDown = time.Minute
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	return nil
}

// Adapter is the process-wide gate in front of the model endpoint. Breaker
// state is shared by all pipelines and guarded by a mutex.
type Adapter struct {
	cfg AdapterConfig
	log *slog.Logger
	sem *semaphore.Weighted

	mu           sync.Mutex
	failures     int
	firstFailure time.Time
	openUntil    time.Time
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		cfg: cfg,
		log: cfg.Logger,
		sem: semaphore.NewWeighted(cfg.MaxConcurrent),
	}, nil
}

// Complete calls the model endpoint. When the breaker is open every call
// returns an UnavailableError immediately, without touching the network.
func (a *Adapter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := a.checkBreaker(); err != nil {
		return "", err
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", &UnavailableError{Cause: CauseTimeout, Err: err}
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	resp, err := a.cfg.Client.Complete(callCtx, systemPrompt, userPrompt)
	if err != nil {
		cause := classify(err)
		a.recordFailure()
		return "", &UnavailableError{Cause: cause, Err: err}
	}
	a.recordSuccess()
	return resp, nil
}

func (a *Adapter) checkBreaker() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.cfg.Clock.Now()
	if now.Before(a.openUntil) {
		return &UnavailableError{Cause: CauseBreaker}
	}
	return nil
}

func (a *Adapter) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.cfg.Clock.Now()
	if a.failures == 0 || now.Sub(a.firstFailure) > a.cfg.FailureWindow {
		a.failures = 0
		a.firstFailure = now
	}
	a.failures++
	if a.failures >= a.cfg.FailureThreshold {
		a.openUntil = now.Add(a.cfg.CoolDown)
		a.failures = 0
		a.log.Warn("AI breaker opened", "coolDown", a.cfg.CoolDown)
		if a.cfg.OnBreakerOpen != nil {
			a.cfg.OnBreakerOpen()
		}
	}
}

func (a *Adapter) recordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = 0
}

// classify maps an upstream error to an unavailability cause. Quota and
// rate-limit responses are distinguished from hard credential failures; both
// still read as unavailable to callers.
func classify(err error) Cause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CauseTimeout
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429, 529:
			return CauseQuota
		case 401, 403:
			return CauseCredential
		}
	}
	return CauseOther
}
