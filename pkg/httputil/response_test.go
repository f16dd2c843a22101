package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteJSON(w, http.StatusOK, map[string]interface{}{
		"uid":    "u-1",
		"public": true,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u-1", body["uid"])
	assert.Equal(t, true, body["public"])
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteSuccess(w, map[string][]string{"deleted_uids": {"u-2"}})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u-2")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteCreated(w, map[string]string{"uid": "u-3"})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "u-3")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusBadRequest, "scope selector is malformed")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "scope selector is malformed", body["error"])
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
	}{
		{name: "bad request", write: func(w http.ResponseWriter) { WriteBadRequest(w, "timestamp_start must not be negative") }, code: http.StatusBadRequest},
		{name: "unauthorized", write: func(w http.ResponseWriter) { WriteUnauthorized(w, "account required") }, code: http.StatusUnauthorized},
		{name: "forbidden", write: func(w http.ResponseWriter) { WriteForbidden(w, "insufficient level") }, code: http.StatusForbidden},
		{name: "not found", write: func(w http.ResponseWriter) { WriteNotFoundError(w, "instance not found") }, code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.code, w.Code)

			var body map[string]string
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalError(w, errors.New("connection refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
