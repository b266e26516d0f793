package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kinvo/easyinventory/gateway"
	apperrors "github.com/kinvo/easyinventory/internal/errors"
)

func testCallerConfig() gateway.CallerConfig {
	return gateway.CallerConfig{
		Timeout:              time.Second,
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
		BreakerThreshold:     3,
		BreakerCooldown:      time.Minute,
	}
}

func TestCaller_RetriesTransientThenSucceeds(t *testing.T) {
	caller := gateway.NewCaller("test", testCallerConfig(), zerolog.Nop())

	var calls int32
	resp, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, apperrors.ErrTransient
		}
		return &gateway.Response{Provider: "test"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, "test", resp.Provider)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCaller_NoRetryOnRejection(t *testing.T) {
	caller := gateway.NewCaller("test", testCallerConfig(), zerolog.Nop())

	var calls int32
	_, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.ErrRejected
	})

	require.ErrorIs(t, err, apperrors.ErrRejected)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCaller_ExhaustedRetriesReportDegraded(t *testing.T) {
	cfg := testCallerConfig()
	cfg.BreakerThreshold = 100 // keep the circuit out of this test
	caller := gateway.NewCaller("test", cfg, zerolog.Nop())

	var calls int32
	_, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.ErrTransient
	})

	require.ErrorIs(t, err, apperrors.ErrProviderDegraded)
	require.EqualValues(t, 4, atomic.LoadInt32(&calls)) // initial attempt + 3 retries
}

func TestCaller_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testCallerConfig()
	cfg.MaxRetries = 0
	caller := gateway.NewCaller("test", cfg, zerolog.Nop())

	var calls int32
	fail := func(ctx context.Context) (*gateway.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.ErrTransient
	}

	for i := uint32(0); i < cfg.BreakerThreshold; i++ {
		_, err := caller.Do(context.Background(), fail)
		require.ErrorIs(t, err, apperrors.ErrProviderDegraded)
	}
	require.EqualValues(t, cfg.BreakerThreshold, atomic.LoadInt32(&calls))

	// The circuit is open: no further calls reach the backend.
	_, err := caller.Do(context.Background(), fail)
	require.ErrorIs(t, err, apperrors.ErrProviderDegraded)
	require.EqualValues(t, cfg.BreakerThreshold, atomic.LoadInt32(&calls))
}

func TestCaller_CircuitRecoversAfterCooldown(t *testing.T) {
	cfg := testCallerConfig()
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = 50 * time.Millisecond
	caller := gateway.NewCaller("test", cfg, zerolog.Nop())

	for i := uint32(0); i < cfg.BreakerThreshold; i++ {
		_, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
			return nil, apperrors.ErrTransient
		})
		require.ErrorIs(t, err, apperrors.ErrProviderDegraded)
	}

	_, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
		t.Fatal("call reached the backend while the circuit was open")
		return nil, nil
	})
	require.ErrorIs(t, err, apperrors.ErrProviderDegraded)

	time.Sleep(2 * cfg.BreakerCooldown)

	// Half-open: one trial request is allowed through; success closes the
	// circuit.
	for i := 0; i < 3; i++ {
		resp, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
			return &gateway.Response{Provider: "test"}, nil
		})
		require.NoError(t, err)
		require.Equal(t, "test", resp.Provider)
	}
}

func TestCaller_RejectionsDoNotTripCircuit(t *testing.T) {
	cfg := testCallerConfig()
	cfg.MaxRetries = 0
	caller := gateway.NewCaller("test", cfg, zerolog.Nop())

	var calls int32
	for i := 0; i < 10; i++ {
		_, err := caller.Do(context.Background(), func(ctx context.Context) (*gateway.Response, error) {
			atomic.AddInt32(&calls, 1)
			return nil, apperrors.ErrRejected
		})
		require.ErrorIs(t, err, apperrors.ErrRejected)
	}
	require.EqualValues(t, 10, atomic.LoadInt32(&calls))
}

func TestDoJSON_StatusClassification(t *testing.T) {
	var status int32 = http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	ctx := context.Background()

	t.Run("2xx returns body", func(t *testing.T) {
		atomic.StoreInt32(&status, http.StatusOK)
		raw, err := gateway.DoJSON(ctx, server.Client(), http.MethodGet, server.URL, nil, nil)
		require.NoError(t, err)
		require.JSONEq(t, `{"ok":true}`, string(raw))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		atomic.StoreInt32(&status, http.StatusBadGateway)
		_, err := gateway.DoJSON(ctx, server.Client(), http.MethodGet, server.URL, nil, nil)
		require.ErrorIs(t, err, apperrors.ErrTransient)
	})

	t.Run("429 is transient", func(t *testing.T) {
		atomic.StoreInt32(&status, http.StatusTooManyRequests)
		_, err := gateway.DoJSON(ctx, server.Client(), http.MethodGet, server.URL, nil, nil)
		require.ErrorIs(t, err, apperrors.ErrTransient)
	})

	t.Run("other 4xx is rejected", func(t *testing.T) {
		atomic.StoreInt32(&status, http.StatusUnprocessableEntity)
		_, err := gateway.DoJSON(ctx, server.Client(), http.MethodGet, server.URL, nil, nil)
		require.ErrorIs(t, err, apperrors.ErrRejected)
	})

	t.Run("network error is transient", func(t *testing.T) {
		_, err := gateway.DoJSON(ctx, server.Client(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
		require.ErrorIs(t, err, apperrors.ErrTransient)
	})
}
