package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/httputil"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

// WebhookTokenHeader carries the shared secret sent by the CRM.
const WebhookTokenHeader = "X-Webhook-Token"

// SecretVerifier checks a presented webhook token.
type SecretVerifier interface {
	Verify(presented string) bool
}

// PlainSecret compares in constant time.
type PlainSecret string

func (s PlainSecret) Verify(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s)) == 1
}

// BcryptSecret checks the token against a bcrypt hash, so the plaintext never
// has to sit in the service's environment.
type BcryptSecret []byte

func (h BcryptSecret) Verify(presented string) bool {
	return bcrypt.CompareHashAndPassword(h, []byte(presented)) == nil
}

// RequireWebhookSecret rejects requests whose X-Webhook-Token does not
// verify. It runs before the body is parsed. A nil verifier lets every
// request through; main logs a warning when that happens.
func RequireWebhookSecret(verifier SecretVerifier, logger *slog.Logger, onDenied func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(WebhookTokenHeader)
			if token == "" || !verifier.Verify(token) {
				ctx := r.Context()
				logger.WarnContext(ctx, "webhook rejected - invalid token",
					"client_ip", requestcontext.ClientIP(ctx),
					"caller", requestcontext.Caller(ctx),
					"request_id", requestcontext.RequestID(ctx),
					"token_present", token != "",
				)
				if onDenied != nil {
					onDenied(r)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBody caps request bodies at maxBytes. Declared lengths over the cap
// are refused with 413 up front; chunked bodies are cut off by
// http.MaxBytesReader and the decoder reports IsBodyTooLarge.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "request body too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from a MaxBytesReader cut-off.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
