package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/intersection/internal/traffic"
	"github.com/banshee-data/intersection/internal/violations"
	"github.com/banshee-data/intersection/internal/vision"
)

func newTestServer(t *testing.T) (*httptest.Server, *violations.Store) {
	t.Helper()

	store, err := violations.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	worker := vision.NewWorker(nil, nil)
	sys := traffic.NewSystem(worker, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sys.Run(ctx)

	srv := httptest.NewServer(NewServer(sys, store).ServeMux())
	t.Cleanup(srv.Close)
	return srv, store
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status traffic.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	assert.False(t, status.Running, "system starts stopped")
	for i, a := range status.Approaches {
		assert.False(t, a.CameraConnected, "approach %d should start disconnected", i)
		assert.Equal(t, "OFF", a.Light)
		assert.Equal(t, "OFF", a.Density)
	}
}

func TestViolationsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	require.NoError(t, store.Insert(violations.Record{
		Approach:  1,
		Timestamp: "2025-03-07_09-05-42-037",
		Reason:    "Vehicle ID 3 ran red light",
	}))

	resp, err := http.Get(srv.URL + "/violations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []violations.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "Vehicle ID 3 ran red light", records[0].Reason)
}

func TestCommandEndpointWithoutLink(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/command", url.Values{"command": {"GET_SENSORS"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	// no microcontroller attached: the command is refused, not dropped
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCommandEndpointRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/command")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
