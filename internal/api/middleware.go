/**
 * @description
 * Request authentication for the internal endpoints and the SMS gateway webhook.
 */
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/zestyping/blockpower-be-sub000/pkg/twilioclient"
)

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TwilioSignatureMiddleware rejects webhook requests whose X-Twilio-Signature does not match
// the signed form. publicURL is the webhook URL as configured at the gateway; when empty the
// URL is rebuilt from the request.
func TwilioSignatureMiddleware(authToken, publicURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "Invalid form", http.StatusBadRequest)
				return
			}

			signedURL := publicURL
			if signedURL == "" {
				signedURL = requestURL(r)
			}
			if !twilioclient.ValidSignature(authToken, signedURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
				logger.Warn("rejected sms webhook with invalid signature", "remote_addr", r.RemoteAddr)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
