package httphandler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusWriter wraps http.ResponseWriter to capture the response status code
// and whether headers have gone out.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	if !sw.wroteHeader {
		sw.status = status
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController, which the
// event stream needs for flushing and deadline control.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response. When the handler already started its response
// (an event stream, say) nothing more is written.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("panic recovered",
						"panic", v,
						"path", r.URL.Path,
						"response_started", sw.wroteHeader,
					)
					if !sw.wroteHeader {
						writeError(sw, http.StatusInternalServerError, "internal server error")
					}
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

// Authenticator guards the admin API with a static bearer token.
type Authenticator struct {
	token  []byte
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator. An empty token rejects every
// request with 503 until one is configured.
func NewAuthenticator(token string, logger *slog.Logger) *Authenticator {
	return &Authenticator{token: []byte(token), logger: logger}
}

// Require accepts only the Authorization header.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return a.guard(next, false)
}

// RequireStream also accepts the token query parameter, since EventSource
// cannot set request headers.
func (a *Authenticator) RequireStream(next http.Handler) http.Handler {
	return a.guard(next, true)
}

func (a *Authenticator) guard(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			writeError(w, http.StatusServiceUnavailable, "admin token not configured")
			return
		}

		presented := bearerToken(r)
		if presented == "" && allowQuery {
			presented = r.URL.Query().Get("token")
		}
		if presented == "" {
			writeError(w, http.StatusUnauthorized, "missing admin token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), a.token) != 1 {
			a.logger.Warn("invalid admin token", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
