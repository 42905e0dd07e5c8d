package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	f := newFixture(t, testConfig("alpha"), 10)
	hs := NewHealthServer(f.rt, "127.0.0.1:0")

	get := func() (int, HealthResponse) {
		rec := httptest.NewRecorder()
		hs.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec.Code, resp
	}

	code, resp := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, StateUnregistered, resp.State)

	f.activate(t)
	f.rt.Enqueue(StatusReportTask{})

	code, resp = get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.PendingTasks)
	assert.Empty(t, resp.Error)

	f.rt.stop()
	code, resp = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StateStopped, resp.State)

	assert.NoError(t, hs.Shutdown(context.Background()))
}
