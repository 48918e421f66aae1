package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/persistence"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	ix := index.New()
	ctrl, err := persistence.Init(persistence.Config{
		RDBPath:          filepath.Join(dir, "dump.rdb"),
		AOFPath:          filepath.Join(dir, "append.aof"),
		RingCapacity:     16,
		SnapshotInterval: time.Hour,
	}, ix, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Shutdown() })
	return New(ix, ctrl, nil)
}

func TestPostThenGetUser(t *testing.T) {
	app := newTestApp(t)

	body, _ := json.Marshal(userRequest{ID: 1, Name: "neo"})
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	rw2 := httptest.NewRecorder()
	app.mux.ServeHTTP(rw2, req2)
	require.Equal(t, http.StatusOK, rw2.Code)

	var got userResponse
	require.NoError(t, json.Unmarshal(rw2.Body.Bytes(), &got))
	require.Equal(t, "neo", got.Name)
}

func TestGetMissingUserIs404(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/users/99", nil)
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestDeleteUserRemovesKey(t *testing.T) {
	app := newTestApp(t)
	body, _ := json.Marshal(userRequest{ID: 2, Name: "trinity"})
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	app.mux.ServeHTTP(httptest.NewRecorder(), req)

	del := httptest.NewRequest(http.MethodDelete, "/users/2", nil)
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, del)
	require.Equal(t, http.StatusOK, rw.Code)

	get := httptest.NewRequest(http.MethodGet, "/users/2", nil)
	rw2 := httptest.NewRecorder()
	app.mux.ServeHTTP(rw2, get)
	require.Equal(t, http.StatusNotFound, rw2.Code)
}

func TestMalformedBodyIs400(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader([]byte("not json")))
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCompactEndpointSucceeds(t *testing.T) {
	app := newTestApp(t)
	body, _ := json.Marshal(userRequest{ID: 1, Name: "v"})
	app.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body)))

	req := httptest.NewRequest(http.MethodPost, "/admin/compact", nil)
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestStatsReportsKeyCount(t *testing.T) {
	app := newTestApp(t)
	body, _ := json.Marshal(userRequest{ID: 1, Name: "v"})
	app.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body)))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats["keys"])
}

func TestChangesReportsRecentMutations(t *testing.T) {
	app := newTestApp(t)
	body, _ := json.Marshal(userRequest{ID: 1, Name: "v"})
	app.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body)))
	app.mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/users/1", nil))

	req := httptest.NewRequest(http.MethodGet, "/changes", nil)
	rw := httptest.NewRecorder()
	app.mux.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var out struct {
		Events []struct {
			ID  uint64 `json:"id"`
			Op  string `json:"op"`
			Key int32  `json:"key"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out))
	require.Len(t, out.Events, 2)
	require.Equal(t, "SET", out.Events[0].Op)
	require.Equal(t, "DEL", out.Events[1].Op)
}
