package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/cryptox"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/privacy"
	"github.com/datasite/connector/internal/server/access"
	"github.com/datasite/connector/internal/server/dispatcher"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/storage"
	"github.com/datasite/connector/internal/server/vault"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *access.Service, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	engine, err := cryptox.NewEngine(filepath.Join(dir, "content.key"))
	require.NoError(t, err)

	store, err := storage.Open(ctx, filepath.Join(dir, "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	priv := privacy.NewEngine(true, 1.0, 100.0)

	v := vault.New(engine, priv, store, logger)
	require.NoError(t, v.Load(ctx))

	a := access.NewService([]byte("router-secret"), time.Hour, 0, time.Minute, store, logger)
	require.NoError(t, a.Load(ctx))

	d := dispatcher.New(v, a, logger)
	return NewRouter(d, v, a, logger), a, v
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(common.AccessTokenHeaderName, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func issueVia(t *testing.T, router http.Handler, subject string, datasets, permissions []string) (string, string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/admin/tokens", "", map[string]any{
		"subject":     subject,
		"datasets":    datasets,
		"permissions": permissions,
		"ttl_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token   string `json:"token"`
		TokenID string `json:"token_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token, resp.TokenID
}

func TestRouter_IngestAndGetContent(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/content", "", map[string]any{
		"name":         "report",
		"content":      []byte("quarterly report body"),
		"content_type": "text/plain",
		"tags":         []string{"finance"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	token, _ := issueVia(t, router, "reader", nil, []string{"read"})

	rec = doJSON(t, router, http.MethodPost, "/v1/tools/get_content", token, map[string]any{
		"name": "report", "format": "raw",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dispatcher.ContentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []byte("quarterly report body"), resp.Raw)
}

func TestRouter_MissingTokenUnauthorized(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/get_content", "", map[string]any{
		"name": "report",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_UnknownFormatBadRequest(t *testing.T) {
	router, _, _ := newTestRouter(t)
	token, _ := issueVia(t, router, "reader", nil, []string{"read"})

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/get_content", token, map[string]any{
		"name": "report", "format": "yaml",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ScopeDeniedForbidden(t *testing.T) {
	router, _, v := newTestRouter(t)

	_, err := v.Ingest(context.Background(), "secret-doc", []byte("body"), "text/plain", "", nil)
	require.NoError(t, err)

	token, _ := issueVia(t, router, "reader", []string{"other"}, []string{"read"})

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/get_content", token, map[string]any{
		"name": "secret-doc", "format": "raw",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_DuplicateIngestConflict(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := map[string]any{"name": "dup", "content": []byte("x"), "content_type": "text/plain"}
	rec := doJSON(t, router, http.MethodPost, "/v1/admin/content", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/content", "", body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_RevokeViaAdminThenUnauthorized(t *testing.T) {
	router, _, v := newTestRouter(t)

	_, err := v.Ingest(context.Background(), "doc", []byte("body"), "text/plain", "", nil)
	require.NoError(t, err)

	token, tokenID := issueVia(t, router, "reader", nil, []string{"read"})

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/get_content", token, map[string]any{
		"name": "doc", "format": "raw",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/admin/tokens/"+tokenID, "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/tools/get_content", token, map[string]any{
		"name": "doc", "format": "raw",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_SearchAndList(t *testing.T) {
	router, _, v := newTestRouter(t)
	ctx := context.Background()

	_, err := v.Ingest(ctx, "alpha", []byte("shared term alpha"), "text/plain", "", []string{"x"})
	require.NoError(t, err)
	_, err = v.Ingest(ctx, "beta", []byte("shared term beta"), "text/plain", "", []string{"y"})
	require.NoError(t, err)

	token, _ := issueVia(t, router, "searcher", nil, []string{"search"})

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/search_content", token, map[string]any{
		"query": "shared", "max_results": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var searchResp struct {
		Results []models.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searchResp))
	require.Len(t, searchResp.Results, 2)

	rec = doJSON(t, router, http.MethodPost, "/v1/tools/list_datasets", token, map[string]any{
		"tags": []string{"x"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Datasets []models.ContentMeta `json:"datasets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Datasets, 1)
	require.Equal(t, "alpha", listResp.Datasets[0].Name)
}

func TestRouter_SummaryDefaultsToStatistical(t *testing.T) {
	router, _, v := newTestRouter(t)

	_, err := v.Ingest(context.Background(), "doc", []byte("summarize me"), "text/plain", "", nil)
	require.NoError(t, err)

	token, _ := issueVia(t, router, "reader", nil, []string{"summarize"})

	rec := doJSON(t, router, http.MethodPost, "/v1/tools/get_content_summary", token, map[string]any{
		"name": "doc",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary privacy.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, privacy.SummaryStatistical, summary.Kind)
}

func TestRouter_AuditEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	issueVia(t, router, "auditee", nil, []string{"read"})

	rec := doJSON(t, router, http.MethodGet, "/v1/admin/audit?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Entries)

	rec = doJSON(t, router, http.MethodGet, "/v1/admin/audit?limit=bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
