package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

// SessionParam is the chi URL parameter naming a session.
const SessionParam = "sessionID"

// RequestLogger logs one line per request through zerolog. Session routes
// are tagged with the session id and the matched route pattern.
func RequestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&sessionLogFormatter{logger: logger})
}

type sessionLogFormatter struct {
	logger zerolog.Logger
}

func (f *sessionLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	if r.Header.Get(CorrelationHeader) == "" {
		r.Header.Set(CorrelationHeader, uuid.NewString())
	}
	e := &sessionLogEntry{
		logger: f.logger.With().
			Str("correlation_id", r.Header.Get(CorrelationHeader)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger(),
		req: r,
	}
	e.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("request started")
	return e
}

// sessionLogEntry resolves route fields at write time, once chi has matched
// the request.
type sessionLogEntry struct {
	logger zerolog.Logger
	req    *http.Request
}

func (e *sessionLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := zerolog.InfoLevel
	switch {
	case status >= 500:
		level = zerolog.ErrorLevel
	case status >= 400:
		level = zerolog.WarnLevel
	}

	ev := e.logger.WithLevel(level).
		Str("route", routePattern(e.req)).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed)
	if id := sessionID(e.req); id != "" {
		ev = ev.Str("session_id", id)
	}
	ev.Msg("request completed")
}

func (e *sessionLogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error().
		Str("route", routePattern(e.req)).
		Str("session_id", sessionID(e.req)).
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("request panic")
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func sessionID(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.URLParam(SessionParam)
	}
	return ""
}

// CorrelationID echoes the request correlation id, minting one when the
// client sent none.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(CorrelationHeader, id)
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r)
	})
}

// RequestObserver receives one call per finished request.
type RequestObserver interface {
	APIRequest(method, route string, statusCode int, duration time.Duration)
}

// Metrics reports each request to obs, labelled by its chi route pattern
// so path parameters do not explode label cardinality.
func Metrics(obs RequestObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			obs.APIRequest(r.Method, route, status, time.Since(start))
		})
	}
}
