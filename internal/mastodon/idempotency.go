package mastodon

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
)

// idempotencyKey lets the server collapse a retried post of the same body.
func idempotencyKey(body string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(body))
	return fmt.Sprintf("feedrelay-%016x", h.Sum64())
}

type idempotencyCtxKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyCtxKey{}, key)
}

// idempotentTransport copies the key stored on the request context into the
// Idempotency-Key header.
type idempotentTransport struct {
	next http.RoundTripper
}

func (t *idempotentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	key, _ := req.Context().Value(idempotencyCtxKey{}).(string)
	if key == "" || req.Header.Get("Idempotency-Key") != "" {
		return next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Idempotency-Key", key)
	return next.RoundTrip(r)
}
