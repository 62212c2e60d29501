// Package dispatch runs the per-run retry state machine: it performs
// webhook deliveries with a no-redirect HTTP client, persists one
// attempt per try, and records the run's terminal status. The webhook
// URL is revalidated before every attempt.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/runstore"
	"github.com/dhima/cronback-scheduler/internal/validator"
	"go.uber.org/zap"
)

// Mode selects whether Dispatch blocks until the run reaches a terminal
// state (Sync, used by the "run-now" API) or returns immediately after
// the Run is stored Attempting (Async, the normal spinner-submitted path).
type Mode int

const (
	Async Mode = iota
	Sync
)

// httpDoer abstracts *http.Client for tests.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager dispatches webhook runs with retries.
type Manager struct {
	runs      runstore.RunStore
	attempts  runstore.AttemptStore
	validator *validator.Validator
	client    httpDoer
	logger    logging.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewManager builds a Manager with a no-redirect HTTP client.
func NewManager(runs runstore.RunStore, attempts runstore.AttemptStore, v *validator.Validator, logger logging.Logger) *Manager {
	return &Manager{
		runs:      runs,
		attempts:  attempts,
		validator: v,
		client:    newNoRedirectClient(),
		logger:    logger,
		sleep:     contextSleep,
	}
}

func newNoRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch runs the per-run retry state machine. In Async mode it
// stores the Run as Attempting and returns before any attempt is made,
// continuing delivery on a background goroutine; Sync blocks until the
// run reaches a terminal state and returns the terminal Run.
func (m *Manager) Dispatch(ctx context.Context, run *model.Run, mode Mode) (*model.Run, error) {
	run.Status = model.RunAttempting
	if err := m.runs.StoreRun(ctx, run); err != nil {
		return nil, core.DispatchError("store run: %v", err)
	}

	if mode == Async {
		go m.deliver(context.Background(), run)
		return run, nil
	}

	m.deliver(ctx, run)
	final, err := m.runs.GetRun(ctx, run.ProjectID, run.ID)
	if err != nil {
		return run, nil // run object already reflects the outcome in-process
	}
	return final, nil
}

// deliver executes the retry loop and persists the terminal run status.
// A run recovered after a crash restarts this loop at attempt 1; there
// is no notion of resuming a partially-completed retry sequence.
func (m *Manager) deliver(ctx context.Context, run *model.Run) {
	policy := run.Action.Retry
	maxAttempts := maxAttemptsFor(policy)

	for attemptNum := 1; attemptNum <= maxAttempts; attemptNum++ {
		delay := delayFor(policy, attemptNum)
		if err := m.sleep(ctx, delay); err != nil {
			return
		}

		attempt := m.attemptOnce(ctx, run, attemptNum)

		if err := m.attempts.LogAttempt(ctx, attempt); err != nil {
			m.logger.Error("failed to persist attempt", zap.String("run_id", run.ID), zap.Error(err))
		}

		if attempt.Status == model.AttemptSucceeded {
			run.LatestAttemptID = attempt.ID
			run.Status = model.RunSucceeded
			if err := m.runs.UpdateRun(ctx, run); err != nil {
				m.logger.Error("failed to persist run success", zap.String("run_id", run.ID), zap.Error(err))
			}
			return
		}
		run.LatestAttemptID = attempt.ID
	}

	run.Status = model.RunFailed
	if err := m.runs.UpdateRun(ctx, run); err != nil {
		m.logger.Error("failed to persist run failure", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func maxAttemptsFor(policy model.RetryPolicy) int {
	switch policy.Kind {
	case model.RetryNone:
		return 1
	case model.RetrySimple, model.RetryExpBack:
		if policy.MaxNumAttempts < 1 {
			return 1
		}
		return policy.MaxNumAttempts
	default:
		return 1
	}
}

// delayFor returns how long attemptNum must sleep before it starts.
// Attempt 1 never waits. Simple waits a fixed Delay; ExponentialBackoff
// waits Delay before attempt 2 and doubles from there, capped at
// MaxDelay.
func delayFor(policy model.RetryPolicy, attemptNum int) time.Duration {
	if attemptNum == 1 {
		return 0
	}
	switch policy.Kind {
	case model.RetrySimple:
		return policy.Delay
	case model.RetryExpBack:
		d := policy.Delay
		for i := 1; i < attemptNum-1; i++ {
			d *= 2
			if policy.MaxDelay > 0 && d >= policy.MaxDelay {
				return policy.MaxDelay
			}
		}
		if policy.MaxDelay > 0 && d > policy.MaxDelay {
			return policy.MaxDelay
		}
		return d
	default:
		return 0
	}
}

// attemptOnce performs exactly one HTTP delivery try and returns the
// resulting Attempt, never erroring (failures are captured in the
// Attempt's ErrorMessage).
func (m *Manager) attemptOnce(ctx context.Context, run *model.Run, attemptNum int) *model.Attempt {
	attempt := &model.Attempt{
		ID:         core.NewAttemptID(run.ProjectID),
		RunID:      run.ID,
		TriggerID:  run.TriggerID,
		ProjectID:  run.ProjectID,
		AttemptNum: attemptNum,
		CreatedAt:  time.Now().UTC(),
	}

	if err := m.validator.Validate(ctx, run.Action.URL); err != nil {
		attempt.Status = model.AttemptFailed
		msg := err.Error()
		attempt.Details.ErrorMessage = &msg
		return attempt
	}

	reqCtx, cancel := context.WithTimeout(ctx, run.Action.Timeout)
	defer cancel()

	req, err := buildRequest(reqCtx, run, attemptNum)
	if err != nil {
		attempt.Status = model.AttemptFailed
		msg := err.Error()
		attempt.Details.ErrorMessage = &msg
		return attempt
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	latency := time.Since(start)
	attempt.Details.ResponseLatency = latency

	if err != nil {
		attempt.Status = model.AttemptFailed
		msg := ClassifyError(err)
		attempt.Details.ErrorMessage = &msg
		return attempt
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	code := resp.StatusCode
	attempt.Details.ResponseCode = &code

	if code >= 200 && code < 300 {
		attempt.Status = model.AttemptSucceeded
	} else {
		attempt.Status = model.AttemptFailed
		msg := fmt.Sprintf("Request failed: status %d", code)
		attempt.Details.ErrorMessage = &msg
	}
	return attempt
}

func buildRequest(ctx context.Context, run *model.Run, attemptNum int) (*http.Request, error) {
	var body io.Reader
	if run.Payload != nil && len(run.Payload.Body) > 0 {
		body = bytes.NewReader(run.Payload.Body)
	}

	req, err := http.NewRequestWithContext(ctx, string(run.Action.Method), run.Action.URL, body)
	if err != nil {
		return nil, err
	}

	// User headers applied first, then the cronback-reserved slots
	// forced over them, then Content-Type from the payload. User headers
	// may override only non-cronback slots.
	if run.Payload != nil {
		for k, v := range run.Payload.Headers {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("X-Cronback-Run-Id", run.ID)
	req.Header.Set("X-Cronback-Project-Id", run.ProjectID)
	req.Header.Set("X-Cronback-Delivery-Attempt", fmt.Sprintf("%d", attemptNum))

	if run.Payload != nil && run.Payload.ContentType != "" {
		req.Header.Set("Content-Type", run.Payload.ContentType)
	} else if run.Payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	return req, nil
}

// ClassifyError maps a transport-level error into one of the recorded
// message families: "Connection Failed" for DNS or TCP failures,
// "Request timeout" for a deadline, "Request failed" for anything else.
func ClassifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Request timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "Connection Failed"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "Connection Failed"
	}
	return "Request failed"
}
