package httpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/interfaces"
)

type callerKey struct{}

// CallerFrom returns the principal recovered by RequireSignature.
func CallerFrom(ctx context.Context) (interfaces.Principal, bool) {
	p, ok := ctx.Value(callerKey{}).(interfaces.Principal)
	return p, ok
}

// RequireSignature recovers the request signer and stores it in the request
// context. The body is read once, verified, and restored for the handler.
// Authentication failures are answered with 401 before the handler runs.
func (h *Handler) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				h.writeError(w, r, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err})
				return
			}
			h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := cryptoutils.RecoverRequestSigner(
			r.Method,
			r.URL.EscapedPath(),
			r.Header.Get(cryptoutils.TimestampHeader),
			r.Header.Get(cryptoutils.SignatureHeader),
			body,
			h.now(),
		)
		if err != nil {
			h.log.Warn("Authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				"err", err)
			h.writeError(w, r, &RequestError{StatusCode: http.StatusUnauthorized, Err: err})
			return
		}

		h.log.Debug("Request authenticated", slog.String("caller", caller.String()))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}
