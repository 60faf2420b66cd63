package mockapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/observability"
)

// requestLogger stores a request-scoped logger in the context and logs every
// completed request. 4xx log at WARN and 5xx at ERROR.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

		level := slog.LevelDebug
		switch status := ww.Status(); {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		log.Log(r.Context(), level, "mock api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

// recordMetrics labels requests by route pattern to keep cardinality bounded.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.MockAPIReqDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		observability.MockAPIReqTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) requireAppCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(credentials.HeaderAppKey)
		sig := r.Header.Get(credentials.HeaderAppSignature)
		if !secureEqual(key, s.cfg.AppKey) || !secureEqual(sig, s.cfg.AppSignature) {
			writeError(w, r, http.StatusUnauthorized, "ERR_APP_CREDENTIALS", "invalid app key or signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearer accepts any token issued for the conversation in the path.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		token, ok := strings.CutPrefix(r.Header.Get(credentials.HeaderAuthorization), "Bearer ")
		if !ok || token == "" {
			writeError(w, r, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "missing bearer token")
			return
		}

		s.mu.Lock()
		owner, known := s.tokens[token]
		_, exists := s.conversations[id]
		s.mu.Unlock()

		switch {
		case !exists:
			writeError(w, r, http.StatusNotFound, "ERR_NOT_FOUND", "unknown conversation")
		case !known || owner != id:
			writeError(w, r, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "token does not belong to this conversation")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// scriptedFailures consumes the scripts queued by FailNext.
func (s *Server) scriptedFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var fail *scriptedFailure
		if len(s.failures) > 0 {
			fail = s.failures[0]
			fail.remaining--
			if fail.remaining == 0 {
				s.failures = s.failures[1:]
			}
		}
		s.mu.Unlock()

		if fail == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fail.retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(fail.retryAfter.Seconds())))
		}
		writeError(w, r, fail.status, "ERR_SCRIPTED", "scripted failure")
	})
}

func secureEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}
