package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  time.Millisecond,
	MaxBackoff:      5 * time.Millisecond,
	BackoffMultiple: 2.0,
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("from"))
		_ = json.NewEncoder(w).Encode(map[string]int{"value": 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil, zaptest.NewLogger(t))
	var out map[string]int
	err := c.GetJSON(context.Background(), "/events", url.Values{"from": []string{"5"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out["value"])
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zaptest.NewLogger(t))
	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "/claim", map[string]string{"msg": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])

	// out may be nil
	require.NoError(t, c.PostJSON(context.Background(), "/claim", map[string]string{"msg": "hi"}, nil))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErr(w, http.StatusBadRequest, "MerkleDistributor: Invalid proof.")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zaptest.NewLogger(t)).WithRetryConfig(fastRetry)
	err := c.PostJSON(context.Background(), "/claim", struct{}{}, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "MerkleDistributor: Invalid proof.", httpErr.Message)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnavailableIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeErr(w, http.StatusServiceUnavailable, "busy")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zaptest.NewLogger(t)).WithRetryConfig(fastRetry)
	var out map[string]bool
	require.NoError(t, c.GetJSON(context.Background(), "/state", nil, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErr(w, http.StatusServiceUnavailable, "busy")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zaptest.NewLogger(t)).WithRetryConfig(fastRetry)
	err := c.GetJSON(context.Background(), "/state", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTransportFailureIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewClient(addr, nil, zaptest.NewLogger(t)).WithRetryConfig(fastRetry)
	err := c.GetJSON(context.Background(), "/state", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 0, StatusCode(err))
}

func TestContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusServiceUnavailable, "busy")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL, nil, zaptest.NewLogger(t)).WithRetryConfig(RetryConfig{
		MaxAttempts:     10,
		InitialBackoff:  time.Hour,
		MaxBackoff:      time.Hour,
		BackoffMultiple: 1,
	})
	err := c.GetJSON(ctx, "/state", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain failure", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zaptest.NewLogger(t))
	err := c.GetJSON(context.Background(), "/state", nil, nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "plain failure", httpErr.Message)
	assert.False(t, httpErr.Retryable())
}

func TestWithRetryConfigClampsAttempts(t *testing.T) {
	c := NewClient("http://localhost", nil, zaptest.NewLogger(t)).WithRetryConfig(RetryConfig{})
	assert.Equal(t, 1, c.retryConfig.MaxAttempts)
}
