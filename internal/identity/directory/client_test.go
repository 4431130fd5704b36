package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
)

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "svc" || pass != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/Consultas/Pessoa/Telefone/{phone}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "phone") {
		case "11987654321":
			_, _ = w.Write([]byte(`[{"cpf":"123.456.789-09","nome":"MARIA"},{"cpf":"98765432100"}]`))
		case "11900000000":
			_, _ = w.Write([]byte(`[]`))
		case "11911111111":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	r.Get("/Consultas/Pessoa/Email/{email}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "email") == "a@b.com" {
			_, _ = w.Write([]byte(`[{"cpf":"98765432100"}]`))
			return
		}
		_, _ = w.Write([]byte(`not json`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupByPhone(t *testing.T) {
	srv := newDirectoryServer(t)
	c := New(srv.URL+"/", "svc", "pw", time.Second)
	ctx := context.Background()

	t.Run("strips country code and takes first match", func(t *testing.T) {
		nid, err := c.LookupByPhone(ctx, "+5511987654321")
		require.NoError(t, err)
		assert.Equal(t, "12345678909", nid.String())
	})

	t.Run("empty list is not found", func(t *testing.T) {
		_, err := c.LookupByPhone(ctx, "+5511900000000")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("404 is not found", func(t *testing.T) {
		_, err := c.LookupByPhone(ctx, "+5511922222222")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("5xx is an outage", func(t *testing.T) {
		_, err := c.LookupByPhone(ctx, "+5511911111111")
		assert.Equal(t, upstream.CategoryOutage, upstream.CategoryOf(err))
	})

	t.Run("bad credentials", func(t *testing.T) {
		bad := New(srv.URL, "svc", "wrong", time.Second)
		_, err := bad.LookupByPhone(ctx, "+5511987654321")
		assert.Equal(t, upstream.CategoryAuthentication, upstream.CategoryOf(err))
	})
}

func TestLookupByEmail(t *testing.T) {
	srv := newDirectoryServer(t)
	c := New(srv.URL, "svc", "pw", time.Second)

	nid, err := c.LookupByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "98765432100", nid.String())

	_, err = c.LookupByEmail(context.Background(), "x@y.com")
	assert.Equal(t, upstream.CategoryBadData, upstream.CategoryOf(err))
}

func TestLookupUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "svc", "pw", 200*time.Millisecond)
	_, err := c.LookupByEmail(context.Background(), "a@b.com")
	require.Error(t, err)
	assert.NotEqual(t, upstream.CategoryNotFound, upstream.CategoryOf(err))
}

func TestParseSearchResponse(t *testing.T) {
	_, err := parseSearchResponse(http.StatusOK, []byte(`[{"cpf":"123"}]`))
	assert.Equal(t, upstream.CategoryBadData, upstream.CategoryOf(err))

	_, err = parseSearchResponse(http.StatusOK, []byte(`[{"nome":"no cpf"}]`))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
