package middleware

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"crcert/pkg/requestcontext"
)

// Device parses the User-Agent header into a compact device description and
// stores it on the context for logging.
func Device() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("User-Agent")
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			ua := useragent.New(raw)
			name, version := ua.Browser()
			description := strings.TrimSpace(strings.Join([]string{ua.OS(), name, version}, " "))

			ctx := requestcontext.WithUserAgent(r.Context(), description)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
