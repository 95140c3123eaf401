package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// SyncService runs sync passes and the preview/add flow.
type SyncService interface {
	Sources() []string
	Run(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
	Preview(ctx context.Context, source, urlOrID string) (domain.Preview, error)
	AddFromPreview(ctx context.Context, source, urlOrID string) (domain.SyncResult, error)
	SyncLog(ctx context.Context, after string, limit int) ([]domain.SyncLogEntry, error)
}

// SyncTrigger wakes the background sync loop after catalog changes.
type SyncTrigger interface {
	Trigger()
}

// SyncHandler serves on-demand sync and market onboarding.
type SyncHandler struct {
	sync    SyncService
	trigger SyncTrigger
	logger  *slog.Logger
}

// NewSyncHandler creates a SyncHandler. trigger may be nil.
func NewSyncHandler(sync SyncService, trigger SyncTrigger, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, trigger: trigger, logger: logger}
}

type syncResponse struct {
	syncResultView
	Sources []syncResultView `json:"sources"`
}

// Sync runs a pass synchronously and returns the counts. Without a source
// query parameter every configured source is synced in turn.
// POST /api/sync?source=kalshi&scope=all|catalog
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scope := domain.ScopeAllOpen
	switch s := domain.ScopeKind(strings.ToLower(q.Get("scope"))); s {
	case "":
	case domain.ScopeAllOpen, domain.ScopeCatalog:
		scope = s
	default:
		writeError(w, http.StatusBadRequest, "scope must be all or catalog")
		return
	}

	sources := h.sync.Sources()
	if s := strings.TrimSpace(q.Get("source")); s != "" {
		sources = []string{strings.ToLower(s)}
	}

	resp := syncResponse{Sources: make([]syncResultView, 0, len(sources))}
	for _, src := range sources {
		res, err := h.sync.Run(r.Context(), domain.SyncRequest{
			Source: src,
			Scope:  domain.SyncScope{Kind: scope},
		})
		if err != nil {
			writeServiceError(w, r, h.logger, "sync "+src, err)
			return
		}
		v := toSyncResultView(res)
		resp.MarketsSynced += v.MarketsSynced
		resp.HistoryRecords += v.HistoryRecords
		resp.SeriesSkipped += v.SeriesSkipped
		if v.HistoryError != "" {
			resp.HistoryError = v.HistoryError
		}
		resp.Sources = append(resp.Sources, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Log pages through recorded sync pass outcomes. next is the cursor for the
// following page.
// GET /api/sync/log?after=<id>&limit=50
func (h *SyncHandler) Log(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	after := strings.TrimSpace(q.Get("after"))

	entries, err := h.sync.SyncLog(r.Context(), after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "sync log", err)
		return
	}
	next := after
	if n := len(entries); n > 0 {
		next = entries[n-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"next":    next,
	})
}

type marketRefRequest struct {
	Source     string `json:"source"`
	URL        string `json:"url"`
	ExternalID string `json:"external_id"`
}

func (h *SyncHandler) parseRef(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req marketRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	ref := strings.TrimSpace(req.URL)
	if ref == "" {
		ref = strings.TrimSpace(req.ExternalID)
	}
	if ref == "" {
		writeError(w, http.StatusBadRequest, "url or external_id is required")
		return "", "", false
	}
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = sourceFromURL(ref, h.sync.Sources())
	}
	return source, ref, true
}

// sourceFromURL picks the source whose name appears in the reference's host,
// falling back to the first configured source.
func sourceFromURL(ref string, sources []string) string {
	lower := strings.ToLower(ref)
	for _, s := range sources {
		if strings.Contains(lower, s+".com") {
			return s
		}
	}
	if len(sources) > 0 {
		return sources[0]
	}
	return ""
}

// Preview resolves a URL or external id without writing anything.
// POST /api/markets/preview
func (h *SyncHandler) Preview(w http.ResponseWriter, r *http.Request) {
	source, ref, ok := h.parseRef(w, r)
	if !ok {
		return
	}
	p, err := h.sync.Preview(r.Context(), source, ref)
	if err != nil {
		writeServiceError(w, r, h.logger, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Add writes the referenced series into the catalog.
// POST /api/markets/add
func (h *SyncHandler) Add(w http.ResponseWriter, r *http.Request) {
	source, ref, ok := h.parseRef(w, r)
	if !ok {
		return
	}
	res, err := h.sync.AddFromPreview(r.Context(), source, ref)
	if err != nil {
		writeServiceError(w, r, h.logger, "add market", err)
		return
	}
	if h.trigger != nil {
		h.trigger.Trigger()
	}
	writeJSON(w, http.StatusCreated, toSyncResultView(res))
}
