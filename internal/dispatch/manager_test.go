package dispatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/dispatch"
	"github.com/dhima/cronback-scheduler/internal/logging"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/dhima/cronback-scheduler/internal/testutil/fakes"
	"github.com/dhima/cronback-scheduler/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*dispatch.Manager, *fakes.RunStore) {
	t.Helper()
	runs := fakes.NewRunStore()
	v := validator.New(true) // skip IP check so httptest's 127.0.0.1 passes
	m := dispatch.NewManager(runs, runs, v, logging.NewNoOpLogger())
	return m, runs
}

func baseRun(url string) *model.Run {
	return &model.Run{
		ID:        core.NewRunID("proj_1"),
		TriggerID: "trig_1",
		ProjectID: "proj_1",
		CreatedAt: time.Now().UTC(),
		Action: model.Action{
			Kind:    model.ActionWebhook,
			URL:     url,
			Method:  model.MethodPOST,
			Timeout: 2 * time.Second,
			Retry:   model.RetryPolicy{Kind: model.RetryNone},
		},
	}
}

func TestDispatch_SyncSuccess_OneAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Cronback-Delivery-Attempt"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, runs := newManager(t)
	run := baseRun(srv.URL)

	final, err := m.Dispatch(context.Background(), run, dispatch.Sync)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, final.Status)

	attempts := runs.AttemptsFor(run.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].AttemptNum)
	assert.Equal(t, model.AttemptSucceeded, attempts[0].Status)
	assert.Equal(t, 200, *attempts[0].Details.ResponseCode)
}

func TestDispatch_RetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, runs := newManager(t)
	run := baseRun(srv.URL)
	run.Action.Retry = model.RetryPolicy{Kind: model.RetrySimple, MaxNumAttempts: 3, Delay: time.Millisecond}

	final, err := m.Dispatch(context.Background(), run, dispatch.Sync)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, final.Status)

	attempts := runs.AttemptsFor(run.ID)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNum)
		assert.Equal(t, model.AttemptFailed, a.Status)
	}
}

func TestDispatch_AsyncReturnsImmediatelyAttempting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, _ := newManager(t)
	run := baseRun(srv.URL)

	got, err := m.Dispatch(context.Background(), run, dispatch.Async)
	require.NoError(t, err)
	assert.Equal(t, model.RunAttempting, got.Status)
}

func TestClassifyError_ConnectionFailed(t *testing.T) {
	m, runs := newManager(t)
	run := baseRun("https://127.0.0.1:1") // nothing listens on port 1
	run.Action.Timeout = 500 * time.Millisecond

	_, err := m.Dispatch(context.Background(), run, dispatch.Sync)
	require.NoError(t, err)

	attempts := runs.AttemptsFor(run.ID)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].Details.ErrorMessage)
	assert.Equal(t, "Connection Failed", *attempts[0].Details.ErrorMessage)
}
