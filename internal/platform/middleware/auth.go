// Package middleware holds the HTTP middleware chain: authentication and
// device identification.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"crcert/internal/usertoken"
	"crcert/pkg/domainerrors"
	"crcert/pkg/platform/httputil"
	"crcert/pkg/requestcontext"
)

const headerMobileUID = "Mobile-Uid"

// RequireUser authenticates the request and injects the user and device id
// into the context. Requests without a valid bearer token never reach the
// handler.
func RequireUser(tokens *usertoken.Service, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "authorization required"))
				return
			}

			user, err := tokens.Validate(token)
			if err != nil {
				log.Warn("rejected request with invalid token", "err", err)
				httputil.WriteError(w, err)
				return
			}

			ctx := requestcontext.WithUser(r.Context(), user)
			ctx = requestcontext.WithMobileUID(ctx, r.Header.Get(headerMobileUID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
