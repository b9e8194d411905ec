// Package httpapi exposes the tool dispatcher over HTTP. Tool endpoints
// authenticate through the access token carried in the X-Access-Token
// header; admin endpoints are unauthenticated and must only be bound to
// a trusted local interface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/privacy"
	"github.com/datasite/connector/internal/server/access"
	"github.com/datasite/connector/internal/server/dispatcher"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/vault"
)

type Handler struct {
	dispatcher *dispatcher.Service
	vault      *vault.Vault
	access     *access.Service
	logger     logging.Logger
}

// NewRouter wires the tool and admin endpoints onto a chi router.
func NewRouter(d *dispatcher.Service, v *vault.Vault, a *access.Service, logger logging.Logger) http.Handler {
	h := &Handler{dispatcher: d, vault: v, access: a, logger: logger.With("module", "httpapi")}
	r := chi.NewRouter()

	r.Route("/v1/tools", func(tools chi.Router) {
		tools.Post("/list_datasets", h.handleListDatasets)
		tools.Post("/get_content", h.handleGetContent)
		tools.Post("/search_content", h.handleSearchContent)
		tools.Post("/get_content_summary", h.handleGetContentSummary)
	})

	r.Route("/v1/admin", func(admin chi.Router) {
		admin.Post("/content", h.handleIngest)
		admin.Get("/content", h.handleList)
		admin.Delete("/content/{name}", h.handleRemove)
		admin.Post("/tokens", h.handleIssueToken)
		admin.Delete("/tokens/{id}", h.handleRevokeToken)
		admin.Post("/policies", h.handleSetPolicy)
		admin.Get("/audit", h.handleAudit)
	})

	return r
}

type listDatasetsRequest struct {
	Tags        []string `json:"tags"`
	ContentType string   `json:"content_type"`
}

func (h *Handler) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	var req listDatasetsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	metas, err := h.dispatcher.ListDatasets(r.Context(), tokenFrom(r), req.Tags, req.ContentType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": metas})
}

type getContentRequest struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

func (h *Handler) handleGetContent(w http.ResponseWriter, r *http.Request) {
	var req getContentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	format, err := dispatcher.ParseContentFormat(req.Format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.dispatcher.GetContent(r.Context(), tokenFrom(r), req.Name, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchContentRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (h *Handler) handleSearchContent(w http.ResponseWriter, r *http.Request) {
	var req searchContentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.dispatcher.SearchContent(r.Context(), tokenFrom(r), req.Query, req.MaxResults)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type summaryRequest struct {
	Name        string  `json:"name"`
	SummaryType string  `json:"summary_type"`
	Epsilon     float64 `json:"epsilon"`
}

func (h *Handler) handleGetContentSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.SummaryType == "" {
		req.SummaryType = string(privacy.SummaryStatistical)
	}
	kind, err := privacy.ParseSummaryKind(req.SummaryType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.dispatcher.GetContentSummary(r.Context(), tokenFrom(r), req.Name, kind, req.Epsilon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type ingestRequest struct {
	Name        string   `json:"name"`
	Content     []byte   `json:"content"`
	ContentType string   `json:"content_type"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.vault.Ingest(r.Context(), req.Name, req.Content, req.ContentType, req.Description, req.Tags)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	metas, err := h.vault.List(r.Context(), nil, "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": metas})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueTokenRequest struct {
	Subject     string   `json:"subject"`
	Datasets    []string `json:"datasets"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int      `json:"ttl_seconds"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	permissions := make([]models.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		parsed, err := models.ParsePermission(p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		permissions = append(permissions, parsed)
	}
	signed, token, err := h.access.IssueToken(r.Context(), req.Subject, req.Datasets,
		permissions, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      signed,
		"token_id":   token.TokenID,
		"expires_at": token.ExpiresAt,
	})
}

func (h *Handler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.access.RevokeToken(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPolicyRequest struct {
	Name          string   `json:"name"`
	Subject       string   `json:"subject"`
	Permissions   []string `json:"permissions"`
	Datasets      []string `json:"datasets"`
	MaxTTLSeconds int      `json:"max_ttl_seconds"`
}

func (h *Handler) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req setPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	permissions := make([]models.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		parsed, err := models.ParsePermission(p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		permissions = append(permissions, parsed)
	}
	h.access.SetPolicy(&models.AccessPolicy{
		Name:        req.Name,
		Subject:     req.Subject,
		Permissions: permissions,
		Datasets:    req.Datasets,
		MaxTTL:      time.Duration(req.MaxTTLSeconds) * time.Second,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed <= 0 {
			h.writeError(w, r, common.ErrBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := h.access.AuditTrail(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func tokenFrom(r *http.Request) string {
	return r.Header.Get(common.AccessTokenHeaderName)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.ErrBadRequest
	}
	return nil
}

// writeError maps domain errors to HTTP statuses. The response body never
// carries more detail than the sentinel itself, so a denied caller learns
// nothing about what exists.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrBadRequest):
		status = http.StatusBadRequest
	case access.IsAuthError(err):
		status = http.StatusUnauthorized
	case errors.Is(err, common.ErrPermissionDenied) || errors.Is(err, common.ErrScopeDenied):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrDuplicateName):
		status = http.StatusConflict
	case errors.Is(err, common.ErrRateLimitExceeded) || errors.Is(err, common.ErrPrivacyBudgetExceeded):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "error", err)
		writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]any{"error": unwrapSentinel(err).Error()})
}

// unwrapSentinel walks to the innermost error so responses expose the
// stable sentinel text rather than internal wrapping.
func unwrapSentinel(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
