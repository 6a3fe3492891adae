package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTriggerFire(t *testing.T) {
	var got reviewRequest
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		userAgent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	trigger := NewHTTPTrigger(srv.URL+"/api/tasks/review", time.Second, nil)
	require.NoError(t, trigger.Fire(context.Background(), "2026-10-18"))

	assert.Equal(t, "2026-10-18", got.Date)
	assert.Equal(t, "taskmail", got.Source)
	assert.Contains(t, userAgent, "taskmail/")
}

func TestHTTPTriggerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTPTrigger(srv.URL, time.Second, nil).Fire(context.Background(), "2026-10-18")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPTriggerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPTrigger(srv.URL, 50*time.Millisecond, nil).Fire(context.Background(), "2026-10-18")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
