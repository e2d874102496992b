package ldlog

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/muyo/sno"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logPtr struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// MakeLogMiddleware assigns each request an ID, stores a tagged logger in
// the request context and writes an access log line once the handler is done
func MakeLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		reqID := sno.New(0)
		logger := log.With().Str("req", reqID.String()).Logger()

		ctx := r.Context()
		ctx = context.WithValue(ctx, logPtr{}, &logger)
		r = r.WithContext(ctx)

		sw := statusWriter{ResponseWriter: rw, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(&sw, r)

		logger.Debug().
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msgf("%s %s", r.Method, r.URL.Path)
	})
}

// Log returns a zerolog Logger with additional context information (i.e. request ID)
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logPtr{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}

// PgxLogger implements pgx's logger interface
type PgxLogger struct{}

// Log is pgx-compatible wrapper around log()
func (PgxLogger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	var zlevel zerolog.Level
	switch level {
	case pgx.LogLevelNone:
		zlevel = zerolog.NoLevel
	case pgx.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case pgx.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case pgx.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case pgx.LogLevelDebug:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	Log(ctx).WithLevel(zlevel).Str("module", "pgx").Fields(data).Msg(msg)
}
