// Package httpapi exposes the KV engine over HTTP, per spec.md §6's
// external interface and SPEC_FULL.md §13's supplemented endpoints.
//
// Grounded on the teacher's internal/web/web.go: a plain http.ServeMux, one
// handler per resource, and a writeJSON helper — generalized from the
// teacher's multi-type Redis-like store to this engine's single int32-keyed
// value store, and from the teacher's engine.Engine to a
// *persistence.Controller wrapping the same *index.Index.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ramforge/ramforge/internal/cdc"
	"github.com/ramforge/ramforge/internal/hotkeys"
	"github.com/ramforge/ramforge/internal/index"
	"github.com/ramforge/ramforge/internal/netutil"
	"github.com/ramforge/ramforge/internal/persistence"
	"github.com/ramforge/ramforge/internal/procstat"
	"github.com/ramforge/ramforge/internal/ramerr"
)

// App is the HTTP surface for one worker.
type App struct {
	Index   *index.Index
	Ctrl    *persistence.Controller
	Logger  log.Logger
	hotKeys *hotkeys.Tracker
	changes *cdc.Stream

	mux *http.ServeMux
}

// New builds an App and registers its routes.
func New(ix *index.Index, ctrl *persistence.Controller, logger log.Logger) *App {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a := &App{
		Index:   ix,
		Ctrl:    ctrl,
		Logger:  logger,
		hotKeys: hotkeys.New(20, 5*time.Minute),
		changes: cdc.NewStream(10000),
		mux:     http.NewServeMux(),
	}
	a.mux.HandleFunc("/users", a.handleUsersCollection)
	a.mux.HandleFunc("/users/", a.handleUserByID)
	a.mux.HandleFunc("/admin/compact", a.handleCompact)
	a.mux.HandleFunc("/health", a.handleHealth)
	a.mux.HandleFunc("/stats", a.handleStats)
	a.mux.HandleFunc("/changes", a.handleChanges)
	return a
}

// Listen opens a SO_REUSEPORT listener on addr (every worker binds the
// same address; see internal/netutil) for Serve to accept on.
func (a *App) Listen(addr string) (net.Listener, error) {
	return netutil.Listen(addr)
}

// Serve accepts HTTP connections on ln until it is closed.
func (a *App) Serve(ln net.Listener) error {
	return http.Serve(ln, a.mux)
}

type userRequest struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

type userResponse struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleUsersCollection serves POST /users (create/overwrite) and
// GET /users (list every live key).
func (a *App) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed body")
			return
		}
		if err := a.put(req.ID, []byte(req.Name)); err != nil {
			a.writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse{ID: req.ID, Name: req.Name})

	case http.MethodGet:
		ids := make([]int32, 0, a.Index.Len())
		a.Index.Iterate(func(key int32, _ []byte) {
			ids = append(ids, key)
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"ids": ids})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleUserByID serves GET/DELETE /users/{id}.
func (a *App) handleUserByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/users/")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		val, ok := a.Index.GetCopy(int32(id))
		if !ok {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		a.hotKeys.Record(int32(id))
		writeJSON(w, http.StatusOK, userResponse{ID: int32(id), Name: string(val)})

	case http.MethodDelete:
		if _, ok := a.Index.GetCopy(int32(id)); !ok {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		if err := a.Ctrl.AOF.AppendDelete(int32(id)); err != nil {
			a.writeStoreErr(w, err)
			return
		}
		a.Index.Remove(int32(id))
		a.changes.Record(cdc.OpDel, int32(id))
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCompact serves POST /admin/compact, running a synchronous RDB+AOF
// rewrite (spec.md §4.5 compact()).
func (a *App) handleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.Ctrl.Compact(); err != nil {
		level.Error(a.Logger).Log("msg", "compact failed", "err", err)
		writeErr(w, http.StatusServiceUnavailable, "compact failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleHealth reports liveness plus this worker's own RSS/CPU%, pulled
// by pid via gopsutil/v4/process (SPEC_FULL.md §11). The sample is
// best-effort: a platform that can't answer still gets a 200 with
// "status": "ok" and no process field, since liveness itself doesn't
// depend on gopsutil succeeding.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if sample, err := procstat.Read(int32(os.Getpid())); err == nil {
		resp["process"] = sample
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats serves the supplemented GET /stats endpoint
// (SPEC_FULL.md §13).
func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":     a.Index.Len(),
		"hot_keys": a.hotKeys.Top(10),
	})
}

// put writes the value to the AOF (durability first, per spec.md
// invariant 1) then applies it to the index.
func (a *App) put(id int32, value []byte) error {
	if err := a.Ctrl.AOF.Append(id, value); err != nil {
		return err
	}
	a.Index.Save(id, value)
	a.changes.Record(cdc.OpSet, id)
	return nil
}

// handleChanges serves the supplemented GET /changes?since=<id> endpoint,
// an in-memory mutation audit trail independent of the AOF on disk.
func (a *App) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sinceStr := r.URL.Query().Get("since")
	if sinceStr == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": a.changes.Latest(100)})
		return
	}
	since, err := strconv.ParseUint(sinceStr, 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "since must be an integer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": a.changes.Since(since)})
}

func (a *App) writeStoreErr(w http.ResponseWriter, err error) {
	var ioErr *ramerr.IO
	if errors.As(err, &ioErr) {
		level.Error(a.Logger).Log("msg", "write path io failure", "err", err)
		writeErr(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	level.Error(a.Logger).Log("msg", "unexpected write error", "err", err)
	writeErr(w, http.StatusInternalServerError, "internal error")
}
