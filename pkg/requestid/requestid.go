package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey struct{}

// Header carries the request id in both directions.
const Header = "X-Request-ID"

// maxLength bounds ids accepted from clients so they stay usable as log fields and metric keys.
const maxLength = 128

func Generate() string {
	return uuid.NewString()
}

// FromHeader returns the client supplied id, or "" when it is absent or unusable.
func FromHeader(h http.Header) string {
	id := strings.TrimSpace(h.Get(Header))
	if id == "" || len(id) > maxLength {
		return ""
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return id
}

func ToContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns "" when no id was attached.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
