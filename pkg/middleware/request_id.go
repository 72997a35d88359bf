package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ocrbench/pipeline/pkg/requestid"
)

// RequestID attaches an id to every request and echoes it in the response.
// A well formed X-Request-ID from the client is kept, otherwise chi's id or a fresh uuid is used.
// Live feed subscribers are keyed by this id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestid.FromHeader(r.Header)
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		if id == "" {
			id = requestid.Generate()
		}

		w.Header().Set(requestid.Header, id)
		next.ServeHTTP(w, r.WithContext(requestid.ToContext(r.Context(), id)))
	})
}
