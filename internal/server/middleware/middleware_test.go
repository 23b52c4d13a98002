package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthAcceptsBearerAndHeaderKey(t *testing.T) {
	h := Auth("sekret")(okHandler())

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer sekret") },
		func(r *http.Request) { r.Header.Set("X-API-Key", "sekret") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuthRejectsWrongOrMissingKey(t *testing.T) {
	h := Auth("sekret")(okHandler())

	for _, set := range []func(*http.Request){
		func(_ *http.Request) {},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") },
		func(r *http.Request) { r.Header.Set("Authorization", "Basic sekret") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid or missing api key"}`, rec.Body.String())
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	h := Auth("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflightAndOriginList(t *testing.T) {
	h := CORS([]string{"https://ops.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/deposits", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSEmptyListAllowsAll(t *testing.T) {
	h := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://anywhere.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusNotFound)
	sw.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusNotFound, sw.status)

	// An implicit 200 from a bare Write must not be overwritten later.
	rec = httptest.NewRecorder()
	sw = &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	_, err := sw.Write([]byte("ok"))
	require.NoError(t, err)
	sw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, sw.status)
}
