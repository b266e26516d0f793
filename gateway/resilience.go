package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/kinvo/easyinventory/internal/errors"
)

// CallerConfig tunes the shared retry and circuit-breaker policy.
type CallerConfig struct {
	Timeout              time.Duration // per attempt
	MaxRetries           uint64
	RetryInitialInterval time.Duration
	BreakerThreshold     uint32 // consecutive failures before the circuit opens
	BreakerCooldown      time.Duration
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Caller wraps a backend's outbound calls with a per-attempt timeout,
// exponential backoff with jitter on transient failures, and a circuit
// breaker shared by all calls to that backend.
type Caller struct {
	name    string
	cfg     CallerConfig
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker[*Response]
}

// NewCaller creates a Caller for the named backend.
func NewCaller(name string, cfg CallerConfig, log zerolog.Logger) *Caller {
	cfg = cfg.withDefaults()
	c := &Caller{name: name, cfg: cfg, log: log}

	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.BreakerCooldown,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		// Client errors are the caller's problem, not backend health;
		// only degraded calls count against the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).
				Msg("gateway circuit state change")
		},
	})
	return c
}

// Do executes fn under the caller's resilience policy. Transient failures
// are retried internally; if retries exhaust, or the circuit is open, the
// call reports ErrProviderDegraded.
func (c *Caller) Do(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.retry(ctx, fn)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrapf(apperrors.ErrProviderDegraded, "[Caller.Do] %s circuit open", c.name)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Caller) retry(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	attempt := func() (*Response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := fn(attemptCtx)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, apperrors.ErrTransient) {
			c.log.Debug().Str("backend", c.name).Err(err).Msg("transient gateway failure")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitialInterval

	resp, err := backoff.RetryWithData(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx))
	if err != nil {
		if errors.Is(err, apperrors.ErrTransient) {
			return nil, errors.Wrapf(apperrors.ErrProviderDegraded, "[Caller.retry] %s retries exhausted: %v", c.name, err)
		}
		return nil, err
	}
	return resp, nil
}

// DoJSON issues one HTTP request and normalizes transport and status
// failures into the shared error taxonomy: network errors, 5xx, and 429 are
// transient; any other non-2xx status is a rejection.
func DoJSON(ctx context.Context, client *http.Client, method, url string, header http.Header, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[DoJSON] encode body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "[DoJSON] build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "EasyInventory/Go")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrTransient, "[DoJSON] %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(apperrors.ErrTransient, "[DoJSON] read response: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Wrapf(apperrors.ErrTransient, "[DoJSON] %s %s: status %d", method, url, resp.StatusCode)
	default:
		return nil, errors.Wrapf(apperrors.ErrRejected, "[DoJSON] %s %s: status %d: %s", method, url, resp.StatusCode, truncate(data, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
