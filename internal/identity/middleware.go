package identity

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stockops/internal/platform/httpx"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// Middleware resolves the caller for every request that carries a bearer
// token. Requests without a token pass through anonymously; an invalid token
// is rejected.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := BearerToken(header)
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				if logger != nil {
					logger.Warn("rejected bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Require rejects anonymous requests.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
