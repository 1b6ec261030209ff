package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]int64{"balance": 42})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"balance":42}`, w.Body.String())
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter)
		status  int
		message string
	}{
		{"message", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusConflict, "busy") }, http.StatusConflict, "busy"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "credits is required") }, http.StatusBadRequest, "credits is required"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "no such route") }, http.StatusNotFound, "no such route"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Error)
		})
	}
}

func TestWriteSuccessAndCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, map[string]string{"status": "ok"}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "pay-1"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "pay-1")
}
