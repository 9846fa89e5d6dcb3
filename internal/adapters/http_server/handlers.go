package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"propsync/internal/app"
	"propsync/internal/domain"
)

// Handlers serves snapshot reads, the run history and the sync trigger.
// Base is the lifetime of background passes; a request context would
// cancel them when the 202 is written.
type Handlers struct {
	Q    *app.QueryService
	S    *app.Syncer
	Base context.Context
	Log  zerolog.Logger

	mu   sync.Mutex
	last *passResult
}

type passResult struct {
	Report *domain.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.api(func(r chi.Router) {
		r.Get("/healthz", h.health)
		r.Get("/v1/snapshot", h.snapshot)
		r.Get("/v1/sync/runs", h.listRuns)
		r.Get("/v1/sync/last", h.lastPass)
		r.Post(syncRoute, h.triggerSync)
	})
}

// api registers routes behind the request timeout.
func (s *Server) api(fn func(r chi.Router)) {
	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		fn(r)
	})
}

// MountMedia serves materialized assets from root under prefix. Files are
// streamed without the API timeout.
func (s *Server) MountMedia(prefix, root string) {
	if prefix == "" || root == "" {
		return
	}
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	s.mux.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(root))))
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body, nil
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	etag, body, err := calcETagAndBody(v)
	if err != nil {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("marshal response failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "response could not be encoded")
		return
	}
	if status == http.StatusOK {
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("write response body failed")
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Q.Counts(r.Context())
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"cache_fresh":    h.Q.Fresh(r.Context()),
		"properties":     counts.Properties,
		"configurations": counts.Configurations,
		"images":         counts.Images,
		"amenities":      counts.Amenities,
	})
}

func boolParam(r *http.Request, k string) (bool, error) {
	v := r.URL.Query().Get(k)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (h *Handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid force", "force must be a boolean")
		return
	}
	var ttl time.Duration
	if ts := r.URL.Query().Get("ttl"); ts != "" {
		n, err := strconv.Atoi(ts)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid ttl", "ttl must be a positive number of seconds")
			return
		}
		ttl = time.Duration(n) * time.Second
	}
	snap, cached, err := h.Q.Snapshot(r.Context(), force, ttl)
	if err != nil {
		h.Log.Warn().Err(err).Msg("snapshot refresh failed")
		writeProblem(w, http.StatusBadGateway, "Upstream Error", err.Error())
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	h.writeJSON(w, r, http.StatusOK, snap)
}

type runView struct {
	ID                      string             `json:"id"`
	Type                    domain.SyncType    `json:"sync_type"`
	Status                  domain.RunStatus   `json:"status"`
	StartedAt               time.Time          `json:"started_at"`
	CompletedAt             *time.Time         `json:"completed_at,omitempty"`
	PropertiesProcessed     int                `json:"properties_processed"`
	ConfigurationsProcessed int                `json:"configurations_processed"`
	ImagesProcessed         int                `json:"images_processed"`
	AmenitiesProcessed      int                `json:"amenities_processed"`
	ErrorsCount             int                `json:"errors_count"`
	ErrorDetails            []domain.SyncError `json:"error_details,omitempty"`
	Notes                   string             `json:"notes,omitempty"`
	DryRun                  bool               `json:"dry_run"`
	FilesDownloaded         bool               `json:"files_downloaded"`
}

func (h *Handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	runs, err := h.Q.Runs(r.Context(), limit)
	if err != nil {
		h.Log.Error().Err(err).Msg("list runs failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "runs unavailable")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView(run))
	}
	h.writeJSON(w, r, http.StatusOK, out)
}

func (h *Handlers) lastPass(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "no pass has finished since startup")
		return
	}
	h.writeJSON(w, r, http.StatusOK, last)
}

func (h *Handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := domain.ParseSyncType(q.Get("type"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid type", err.Error())
		return
	}
	opts := domain.Options{Type: typ}
	for k, dst := range map[string]*bool{"dry_run": &opts.DryRun, "no_files": &opts.NoFiles, "cache_only": &opts.CacheOnly} {
		if *dst, err = boolParam(r, k); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid "+k, k+" must be a boolean")
			return
		}
	}

	base := h.Base
	if base == nil {
		base = context.WithoutCancel(r.Context())
	}
	err = h.S.Start(base, opts, func(rep *domain.Report, err error) {
		res := &passResult{Report: rep}
		if err != nil {
			res.Error = err.Error()
		}
		h.mu.Lock()
		h.last = res
		h.mu.Unlock()
	})
	switch {
	case app.IsBusy(err):
		writeProblem(w, http.StatusConflict, "Sync In Progress", "another pass is running")
		return
	case err != nil:
		h.Log.Error().Err(err).Msg("sync trigger failed")
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "sync could not start")
		return
	}
	h.Log.Info().Str("type", string(opts.Type)).Bool("dry_run", opts.DryRun).Msg("sync accepted")
	h.writeJSON(w, r, http.StatusAccepted, map[string]any{"status": "accepted", "options": opts})
}
