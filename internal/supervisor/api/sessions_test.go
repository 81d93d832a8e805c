package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessions(t *testing.T) {
	router, _ := newTestRouter(t, "$ ")
	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []map[string]string `json:"sessions"`
		Total    int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "sess-1", resp.Sessions[0]["session_id"])
}

func TestAttachSession_RejectsDuplicate(t *testing.T) {
	router, _ := newTestRouter(t, "$ ")
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"session_id": "sess-1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAttachSession_RequiresSessionID(t *testing.T) {
	router, _ := newTestRouter(t, "$ ")
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"type": "tmux",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachSession_UnknownType(t *testing.T) {
	router, _ := newTestRouter(t, "$ ")
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"session_id": "sess-2",
		"type":       "telnet",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachLocalSession_RequiresCommand(t *testing.T) {
	router, _ := newTestRouter(t, "$ ")
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", map[string]any{
		"session_id": "sess-2",
		"type":       "local",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetachSession(t *testing.T) {
	router, _, registry := newTestRouterWithRegistry(t, "$ ")

	w := doJSON(t, router, http.MethodDelete, "/api/v1/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, registry.IDs())

	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/sess-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
