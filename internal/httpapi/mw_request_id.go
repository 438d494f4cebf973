package httpapi

import (
	"context"
	"crypto/rand"
	"net/http"
)

type ctxKey int

const requestIDKey ctxKey = 1

var ridAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func newRequestID() string {
	rnd := make([]byte, 8)
	_, _ = rand.Read(rnd)
	b := make([]byte, 8)
	for i, r := range rnd {
		b[i] = ridAlphabet[int(r)%len(ridAlphabet)]
	}
	return string(b)
}

// RequestID tags every request with an 8-character id, honoring a
// well-formed X-Request-ID from the client.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if len(rid) != 8 {
			rid = newRequestID()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}
