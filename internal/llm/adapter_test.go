package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	calls int
	fn    func(call int) (string, error)
}

func (c *scriptedClient) Complete(_ context.Context, _, _ string) (string, error) {
	c.calls++
	return c.fn(c.calls)
}

func testAdapter(t *testing.T, client Completer, clock clockwork.Clock, mutate func(*AdapterConfig)) *Adapter {
	t.Helper()
	cfg := AdapterConfig{
		Logger: slog.Default(),
		Client: client,
		Clock:  clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAdapter(cfg)
	require.NoError(t, err)
	return a
}

func TestPanelgen_Adapter_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fn: func(int) (string, error) { return `{"ok":true}`, nil }}
	a := testAdapter(t, client, clockwork.NewFakeClock(), nil)

	resp, err := a.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, resp)
	require.Equal(t, 1, client.calls)
}

func TestPanelgen_Adapter_BreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	var opened int
	client := &scriptedClient{fn: func(int) (string, error) { return "", errors.New("upstream down") }}
	a := testAdapter(t, client, clockwork.NewFakeClock(), func(cfg *AdapterConfig) {
		cfg.FailureThreshold = 3
		cfg.OnBreakerOpen = func() { opened++ }
	})

	for i := 0; i < 3; i++ {
		_, err := a.Complete(context.Background(), "sys", "user")
		var unav *UnavailableError
		require.ErrorAs(t, err, &unav)
		require.Equal(t, CauseOther, unav.Cause)
	}
	require.Equal(t, 1, opened)
	require.Equal(t, 3, client.calls)

	// Open breaker short-circuits without touching the client.
	_, err := a.Complete(context.Background(), "sys", "user")
	var unav *UnavailableError
	require.ErrorAs(t, err, &unav)
	require.Equal(t, CauseBreaker, unav.Cause)
	require.Equal(t, 3, client.calls)
}

func TestPanelgen_Adapter_BreakerClosesAfterCoolDown(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	fail := true
	client := &scriptedClient{fn: func(int) (string, error) {
		if fail {
			return "", errors.New("upstream down")
		}
		return "recovered", nil
	}}
	a := testAdapter(t, client, clock, func(cfg *AdapterConfig) {
		cfg.FailureThreshold = 2
		cfg.CoolDown = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := a.Complete(context.Background(), "sys", "user")
		require.Error(t, err)
	}
	_, err := a.Complete(context.Background(), "sys", "user")
	var unav *UnavailableError
	require.ErrorAs(t, err, &unav)
	require.Equal(t, CauseBreaker, unav.Cause)

	clock.Advance(time.Minute + time.Second)
	fail = false
	resp, err := a.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, "recovered", resp)
}

func TestPanelgen_Adapter_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fn: func(call int) (string, error) {
		if call == 3 {
			return "ok", nil
		}
		return "", errors.New("flaky")
	}}
	a := testAdapter(t, client, clockwork.NewFakeClock(), func(cfg *AdapterConfig) {
		cfg.FailureThreshold = 3
	})

	_, err := a.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	_, err = a.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	_, err = a.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)

	// Two more failures stay below the threshold after the reset.
	_, err = a.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	_, err = a.Complete(context.Background(), "sys", "user")
	var unav *UnavailableError
	require.ErrorAs(t, err, &unav)
	require.Equal(t, CauseOther, unav.Cause)
	require.Equal(t, 5, client.calls)
}

func TestPanelgen_Adapter_StaleFailuresFallOutOfWindow(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	client := &scriptedClient{fn: func(int) (string, error) { return "", errors.New("flaky") }}
	var opened int
	a := testAdapter(t, client, clock, func(cfg *AdapterConfig) {
		cfg.FailureThreshold = 2
		cfg.FailureWindow = time.Minute
		cfg.OnBreakerOpen = func() { opened++ }
	})

	_, err := a.Complete(context.Background(), "sys", "user")
	require.Error(t, err)

	clock.Advance(2 * time.Minute)
	_, err = a.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	require.Zero(t, opened)
}

func TestPanelgen_Adapter_ContextErrorsClassifyAsTimeout(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{fn: func(int) (string, error) { return "", context.DeadlineExceeded }}
	a := testAdapter(t, client, clockwork.NewFakeClock(), nil)

	_, err := a.Complete(context.Background(), "sys", "user")
	var unav *UnavailableError
	require.ErrorAs(t, err, &unav)
	require.Equal(t, CauseTimeout, unav.Cause)
}

func TestPanelgen_Adapter_ConfigRequiresLoggerAndClient(t *testing.T) {
	t.Parallel()

	_, err := NewAdapter(AdapterConfig{Client: &scriptedClient{}})
	require.Error(t, err)
	_, err = NewAdapter(AdapterConfig{Logger: slog.Default()})
	require.Error(t, err)
}
