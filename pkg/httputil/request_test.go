package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		GranteeID int64  `json:"grantee_id"`
		Relation  string `json:"relation"`
	}
	r := httptest.NewRequest("POST", "/v1/data/widget/u-1/grants",
		strings.NewReader(`{"grantee_id": 7, "relation": "view"}`))
	err := ParseJSON(r, &dest)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), dest.GranteeID)
	assert.Equal(t, "view", dest.Relation)
}

func TestParseJSONInvalid(t *testing.T) {
	var dest map[string]interface{}
	r := httptest.NewRequest("POST", "/v1/accounts", strings.NewReader("not json"))
	err := ParseJSON(r, &dest)
	assert.Error(t, err)
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct {
		Username string `json:"username"`
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/v1/accounts", strings.NewReader(`{"username": "alice"}`))
	assert.True(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, "alice", dest.Username)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("POST", "/v1/accounts", strings.NewReader("{"))
	assert.False(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// pathRequest builds a request routed through mux so path variables resolve.
func pathRequest(t *testing.T, pattern, url string) *http.Request {
	t.Helper()
	var captured *http.Request
	router := mux.NewRouter()
	router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		captured = r
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", url, nil))
	if captured == nil {
		t.Fatalf("no route matched %s", url)
	}
	return captured
}

func TestParsePathInt64(t *testing.T) {
	r := pathRequest(t, "/v1/accounts/{id}", "/v1/accounts/42")
	val, err := ParsePathInt64(r, "id")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestParsePathInt64Invalid(t *testing.T) {
	r := pathRequest(t, "/v1/accounts/{id}", "/v1/accounts/alice")
	_, err := ParsePathInt64(r, "id")
	assert.Error(t, err)

	_, err = ParsePathInt64(r, "missing")
	assert.Error(t, err)
}

func TestParsePathInt64OrError(t *testing.T) {
	r := pathRequest(t, "/v1/groups/{id}/members/{account}", "/v1/groups/3/members/9")
	w := httptest.NewRecorder()
	groupID, ok := ParsePathInt64OrError(w, r, "id")
	assert.True(t, ok)
	assert.Equal(t, int64(3), groupID)
	accountID, ok := ParsePathInt64OrError(w, r, "account")
	assert.True(t, ok)
	assert.Equal(t, int64(9), accountID)

	w = httptest.NewRecorder()
	r = pathRequest(t, "/v1/groups/{id}", "/v1/groups/abc")
	_, ok = ParsePathInt64OrError(w, r, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt64(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		key     string
		def     int64
		want    int64
		wantErr bool
	}{
		{name: "present", url: "/v1/data/widget?timestamp_start=1700000000", key: "timestamp_start", want: 1700000000},
		{name: "absent uses default", url: "/v1/data/widget", key: "timestamp_start", def: 0, want: 0},
		{name: "invalid", url: "/v1/data/widget?timestamp_start=later", key: "timestamp_start", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			val, err := ParseQueryInt64(r, tt.key, tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/data/widget?scope=5", nil)
	assert.Equal(t, "5", ParseQueryString(r, "scope", ""))
	assert.Equal(t, "none", ParseQueryString(r, "absent", "none"))
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/data/notice?public=true", nil)
	val, err := ParseQueryBool(r, "public", false)
	assert.NoError(t, err)
	assert.True(t, val)

	val, err = ParseQueryBool(r, "absent", true)
	assert.NoError(t, err)
	assert.True(t, val)

	r = httptest.NewRequest("GET", "/v1/data/notice?public=maybe", nil)
	_, err = ParseQueryBool(r, "public", false)
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "widget", "model"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "model"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "model is required")
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequirePositive(w, 7, "grantee_id"))

	for _, bad := range []int64{0, -1} {
		w = httptest.NewRecorder()
		assert.False(t, RequirePositive(w, bad, "grantee_id"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}
