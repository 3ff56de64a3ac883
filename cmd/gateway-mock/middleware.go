package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestBody bytes.Buffer
			if r.Body != nil {
				if _, err := io.Copy(&requestBody, r.Body); err != nil {
					logger.Error("Error reading request body", "error", err)
				}
				r.Body = io.NopCloser(bytes.NewReader(requestBody.Bytes()))
			}

			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(lrw, r)

			logger.Debug("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"idempotencyKey", r.Header.Get("Idempotency-Key"),
				"requestBody", requestBody.String(),
				"status", lrw.status,
				"responseBody", lrw.body.String())
		})
	}
}

// authMiddleware rejects requests that do not carry the configured secret
// key as a bearer token.
func authMiddleware(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != secretKey {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
