package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/mpontes/llm-gateway/internal/domain"
	"github.com/mpontes/llm-gateway/internal/metrics"
)

const (
	// HeaderTimestamp and HeaderSignature carry the caller's signed proof of
	// origin; required on everything except health, readiness and metrics.
	HeaderTimestamp = "X-Gateway-Timestamp"
	HeaderSignature = "X-Gateway-Signature"

	maxBodyBytes = 4 << 20
)

// requireSignature verifies the request's HMAC before the wrapped handler
// runs. The body is buffered so verification sees the exact bytes the
// handler will decode.
func (h *Handler) requireSignature(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := drainBody(r)
		if err != nil {
			writeFailure(w, domain.NewError(domain.CodeInvalidRequest, false, "unable to read request body"))
			return
		}

		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		if err := h.verifier.Verify(r.Method, r.URL.Path, body, timestamp, signature); err != nil {
			metrics.RecordAuthFailure(err.Error())
			slog.Warn("signature verification failed",
				"method", r.Method,
				"path", r.URL.Path,
				"reason", err,
			)
			writeFailureStatus(w, http.StatusUnauthorized,
				domain.NewError(domain.CodeInvalidRequest, false, "authentication failed: %v", err))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}
