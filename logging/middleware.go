package logging

import (
	"net"
	"net/http"
	"time"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

var defaultRequestFields = []string{"method", "url", "status", "duration"}

// RequestLogger logs every request at info once the rest of the pipeline
// returned. Fields come from Config.Middleware.RequestWhitelist.
func (l *Logger) RequestLogger() server.Middleware {
	fields := l.middleware.RequestWhitelist
	if len(fields) == 0 {
		fields = defaultRequestFields
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			rw := server.Wrap(w)
			start := time.Now()
			err := next.Serve(rw, r)

			status := rw.Status()
			if err != nil && !rw.Written() {
				// the error stage answering may sit on an outer pipeline
				status, _ = errors.Normalize(err, status)
			}

			args := make([]any, 0, len(fields)*2)
			for _, f := range fields {
				if v, ok := requestField(f, rw, r, status, time.Since(start)); ok {
					args = append(args, f, v)
				}
			}
			_ = l.Log("info", "HTTP "+r.Method+" "+server.OriginalURL(r).Path, args...)
			return err
		})
	}
}

func requestField(name string, rw *server.Response, r *http.Request, status int, d time.Duration) (any, bool) {
	switch name {
	case "method":
		return r.Method, true
	case "url":
		return server.OriginalURL(r).String(), true
	case "path":
		return server.OriginalURL(r).Path, true
	case "status":
		return status, true
	case "duration":
		return d.Milliseconds(), true
	case "bytes":
		return rw.BytesWritten(), true
	case "user_agent":
		return r.UserAgent(), true
	case "ip":
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr, true
		}
		return host, true
	default:
		return nil, false
	}
}

// ErrorLogger logs errors passing through the pipeline at error level and
// hands them on unchanged.
func (l *Logger) ErrorLogger() server.ErrorHandler {
	return func(_ http.ResponseWriter, r *http.Request, err error) error {
		_ = l.Log("error", "request failed",
			"method", r.Method,
			"url", server.OriginalURL(r).String(),
			"error", err.Error())
		return err
	}
}
