package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type request struct {
		FeatureID string `json:"feature_id"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"feature_id":"equipment_diagnosis"}`},
		{name: "invalid JSON", body: `{invalid}`, wantErr: "invalid JSON"},
		{name: "unknown field", body: `{"feature_id":"x","credits":5}`, wantErr: "unknown field"},
		{name: "empty body", body: ``, wantErr: "request body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			var dest request

			err := ParseJSON(req, &dest)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "equipment_diagnosis", dest.FeatureID)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`nope`))
	var dest map[string]string

	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"a":"b"}`))
	assert.True(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, "b", dest["a"])
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1", nil)
	req = mux.SetURLVars(req, map[string]string{"org_id": "org-1"})

	val, err := ParsePathString(req, "org_id")
	require.NoError(t, err)
	assert.Equal(t, "org-1", val)

	_, err = ParsePathString(req, "payment_id")
	assert.EqualError(t, err, "missing path parameter: payment_id")

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, req, "payment_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt64(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/check?credits=12&bad=x", nil)

	v, err := ParseQueryInt64(req, "credits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	v, err = ParseQueryInt64(req, "missing", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = ParseQueryInt64(req, "bad", 1)
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "reason"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reason is required")

	assert.True(t, RequireNonEmpty(httptest.NewRecorder(), "x", "reason"))
}
