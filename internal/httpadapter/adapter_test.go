package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opal-lang/tenantctl/internal/controlerr"
	"github.com/opal-lang/tenantctl/internal/httpadapter"
	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newAdapter(t *testing.T, client *http.Client) *httpadapter.Adapter {
	t.Helper()
	a, err := httpadapter.NewAdapter(httpadapter.Config{
		HTTPClient: client,
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
		RetryMax:   time.Millisecond,
	})
	require.NoError(t, err)
	return a
}

func TestExecute_LegacyAliasRoutesByField(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "auth.users.update", Params: map[string]any{"user_id": "u_01", "name": "Updated"}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.NoError(t, err)
	require.Equal(t, "/users/u_01/name", gotPath)
	require.Equal(t, "Updated", gotBody["name"])
}

func TestExecute_LegacyAliasEmailField(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "auth.users.update", Params: map[string]any{"user_id": "u_01", "email": "x@y"}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.NoError(t, err)
	require.Equal(t, "/users/u_01/email", gotPath)
}

func TestExecute_GETRetriesOnRetryableStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "auth.users.list", Params: map[string]any{}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.NoError(t, err)
	require.EqualValues(t, 2, attempts)
}

func TestExecute_POSTWithoutIdempotencyKeyDoesNotRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "database.create", Params: map[string]any{"database_id": "db-main", "name": "Main"}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.Error(t, err)
	require.EqualValues(t, 1, attempts)
}

func TestExecute_POSTWithIdempotencyKeyRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "database.create", Params: map[string]any{"database_id": "db-main", "name": "Main"}, IdempotencyKey: "x"}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.NoError(t, err)
	require.EqualValues(t, 2, attempts)
}

func TestExecute_OmitsProjectHeaderForProjectActions(t *testing.T) {
	var gotHeader string
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader, sawHeader = r.Header.Get("X-Appwrite-Project"), r.Header.Get("X-Appwrite-Project") != ""
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "project.create", Params: map[string]any{"name": "New"}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.NoError(t, err)
	require.False(t, sawHeader, "expected no X-Appwrite-Project header, got %q", gotHeader)
}

func TestNewAdapter_RejectsInvalidSemverResponseFormat(t *testing.T) {
	_, err := httpadapter.NewAdapter(httpadapter.Config{ResponseFormat: "not-a-version"})
	require.Error(t, err)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// A non-idempotent POST is not eligible for retries, so it only ever
// gets one attempt. But that single attempt's own failure (a transport
// error) is still the kind of failure that would have been retried had
// the operation been eligible — the final error must report retryable
// from that attempt's classification, not from the operation's
// retry-eligibility.
func TestExecute_NonIdempotentPOSTTransportErrorIsStillReportedRetryable(t *testing.T) {
	var attempts int32
	client := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("connection refused")
	})}
	a := newAdapter(t, client)

	op := httpadapter.Operation{Action: "database.create", Params: map[string]any{"database_id": "db-main", "name": "Main"}}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: "https://example.test", APIKey: "k"})

	require.Error(t, err)
	require.EqualValues(t, 1, attempts, "a non-idempotent POST must not be retried")

	ce, ok := controlerr.As(err)
	require.True(t, ok)
	require.True(t, ce.Retryable, "the single attempt failed with a transport error, a retry-trigger-shaped failure, so it must report retryable even though the operation itself was not retry-eligible")
}

// Contrasts with the above: when the last (and only) attempt fails with a
// non-retry-trigger-shaped failure, the final error must report
// retryable:false.
func TestExecute_POSTWithNonRetryableStatusReportsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := newAdapter(t, srv.Client())
	op := httpadapter.Operation{Action: "database.create", Params: map[string]any{"database_id": "db-main", "name": "Main"}, IdempotencyKey: "x"}
	_, err := a.Execute(testCtx(t), "P_A", op, httpadapter.AuthContext{Endpoint: srv.URL, APIKey: "k"})

	require.Error(t, err)
	ce, ok := controlerr.As(err)
	require.True(t, ok)
	require.False(t, ce.Retryable)
}
