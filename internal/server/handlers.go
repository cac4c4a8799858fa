package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hostscan/internal/localstore"
	"hostscan/internal/remote"
	"hostscan/internal/shared"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 500
)

// RemoteReader is the query side of the remote client.
type RemoteReader interface {
	Connect(ctx context.Context) bool
	FindByID(ctx context.Context, scanID string) *shared.ScanDocument
	Recent(ctx context.Context, limit int) []remote.Summary
	CollectionStats(ctx context.Context) remote.Stats
	Close(ctx context.Context)
}

type API struct {
	Store  *localstore.Store
	Index  *localstore.Index
	Logger logrus.FieldLogger

	// NewRemote opens a client per request. Nil disables /v1/remote.
	NewRemote func() RemoteReader
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// Routes wires every endpoint onto a fresh mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.getOnly(a.Health))
	mux.HandleFunc("/v1/scans", a.getOnly(a.ListScans))
	mux.HandleFunc("/v1/scans/{filename}", a.getOnly(a.GetScan))
	mux.HandleFunc("/v1/pins/{pin}", a.getOnly(a.FindPin))
	mux.HandleFunc("/v1/remote/scans/{scan_id}", a.getOnly(a.RemoteScan))
	mux.HandleFunc("/v1/remote/recent", a.getOnly(a.RemoteRecent))
	mux.HandleFunc("/v1/remote/stats", a.getOnly(a.RemoteStats))
	return a.logRequests(mux)
}

func (a *API) getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, 405, "method not allowed")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)
		a.Logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"ok": true, "time": time.Now().Unix()})
}

func (a *API) ListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := a.Store.List()
	if err != nil {
		a.Logger.WithError(err).Error("listing local scans failed")
		writeError(w, 500, "local storage error")
		return
	}
	writeJSON(w, 200, map[string]any{"count": len(scans), "scans": scans})
}

func (a *API) GetScan(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Store.LoadByName(r.PathValue("filename"))
	switch {
	case err == nil:
		writeJSON(w, 200, doc)
	case errors.Is(err, localstore.ErrNotFound):
		writeError(w, 404, "scan not found")
	case errors.Is(err, localstore.ErrCorruptDocument):
		writeError(w, 422, "scan file is corrupt")
	default:
		a.Logger.WithError(err).Error("loading local scan failed")
		writeError(w, 500, "local storage error")
	}
}

func (a *API) FindPin(w http.ResponseWriter, r *http.Request) {
	pin := r.PathValue("pin")
	if !shared.ValidPin(pin) {
		writeError(w, 400, "pin must be 4 characters A-Z or 0-9")
		return
	}
	if a.Index == nil {
		writeError(w, 503, "scan index disabled")
		return
	}
	entries, err := a.Index.FindByPin(pin)
	if err != nil {
		a.Logger.WithError(err).WithField("pin", pin).Error("pin lookup failed")
		writeError(w, 500, "index error")
		return
	}
	if len(entries) == 0 {
		writeError(w, 404, "no scans for pin")
		return
	}
	writeJSON(w, 200, map[string]any{"pin": pin, "scans": entries})
}

// withRemote brackets fn with Connect and Close on a fresh client.
func (a *API) withRemote(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, rc RemoteReader)) {
	if a.NewRemote == nil {
		writeError(w, 503, "remote store not configured")
		return
	}
	ctx := r.Context()
	rc := a.NewRemote()
	defer rc.Close(context.WithoutCancel(ctx))

	if !rc.Connect(ctx) {
		writeError(w, 503, "remote store unavailable")
		return
	}
	fn(ctx, rc)
}

func (a *API) RemoteScan(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scan_id")
	a.withRemote(w, r, func(ctx context.Context, rc RemoteReader) {
		doc := rc.FindByID(ctx, scanID)
		if doc == nil {
			writeError(w, 404, "scan not found")
			return
		}
		writeJSON(w, 200, doc)
	})
}

func (a *API) RemoteRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxRecentLimit {
			writeError(w, 400, "limit must be between 1 and "+strconv.Itoa(maxRecentLimit))
			return
		}
		limit = n
	}
	a.withRemote(w, r, func(ctx context.Context, rc RemoteReader) {
		scans := rc.Recent(ctx, limit)
		writeJSON(w, 200, map[string]any{"count": len(scans), "scans": scans})
	})
}

func (a *API) RemoteStats(w http.ResponseWriter, r *http.Request) {
	a.withRemote(w, r, func(ctx context.Context, rc RemoteReader) {
		stats := rc.CollectionStats(ctx)
		code := 200
		if stats.Error != "" {
			code = 502
		}
		writeJSON(w, code, stats)
	})
}
