package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	t.Run("first forwarded address wins", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		r.Header.Set("X-Real-IP", "10.0.0.9")
		assert.Equal(t, "203.0.113.7", ClientIPFromRequest(r))
	})

	t.Run("real ip used without forwarded header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Real-IP", " 10.0.0.9 ")
		assert.Equal(t, "10.0.0.9", ClientIPFromRequest(r))
	})

	t.Run("remote addr port is stripped", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = "[::1]:54321"
		assert.Equal(t, "::1", ClientIPFromRequest(r))
	})
}

func TestClientMetadataMiddleware(t *testing.T) {
	var gotIP, gotCaller string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotCaller = requestcontext.Caller(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.1", gotIP)
	assert.Contains(t, gotCaller, "Firefox")
	assert.Contains(t, gotCaller, " on ")
}

func TestDescribeCaller(t *testing.T) {
	assert.Equal(t, "unknown", DescribeCaller(""))
	assert.NotEmpty(t, DescribeCaller("Go-http-client/1.1"))
}
