package admincli

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

func TestClient_IssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/admin/tokens", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent", req["subject"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "signed",
			"token_id":   "id-1",
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339Nano),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.IssueToken(context.Background(), "agent", []string{"doc"}, []string{"read"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "signed", result.Token)
	assert.Equal(t, "id-1", result.TokenID)
}

func TestClient_ServerErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "duplicate name"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Ingest(context.Background(), "dup", []byte("x"), "text/plain", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestClient_RemoveNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/v1/admin/content/report", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.Remove(context.Background(), "report"))
}
