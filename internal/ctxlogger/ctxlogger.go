// Package ctxlogger carries a logrus logger through contexts and logs HTTP
// requests, letting other middleware contribute fields to the request log.
package ctxlogger

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// context registration

var loggerKey int

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

// request log hooks

// HookFunc adds fields to the request log entry. Before hooks run as the
// request starts, after hooks once the handler has returned.
type HookFunc func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger

type hooks struct {
	before []HookFunc
	after  []HookFunc
}

func run(fns []HookFunc, rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	for _, fn := range fns {
		l = fn(rw, r, l)
	}

	return l
}

var hooksKey int

func getHooks(ctx context.Context) *hooks {
	if v := ctx.Value(&hooksKey); v != nil {
		return v.(*hooks)
	}

	return nil
}

// AddHookPair registers hooks for the request log. Either may be nil. The
// hooks are shared by every context derived from the one Register created.
func AddHookPair(ctx context.Context, before, after HookFunc) context.Context {
	h := getHooks(ctx)
	if h == nil {
		h = &hooks{}
		ctx = context.WithValue(ctx, &hooksKey, h)
	}

	if before != nil {
		h.before = append(h.before, before)
	}
	if after != nil {
		h.after = append(h.after, after)
	}

	return ctx
}

// middleware

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := context.WithValue(r.Context(), &hooksKey, &hooks{})
		next(rw, r.WithContext(WithLogger(ctx, l)))
	}
}

// Log writes a line when each request starts and finishes. Server errors
// are logged at error level.
func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		h := getHooks(r.Context())
		if h == nil {
			h = &hooks{}
		}

		var l logrus.FieldLogger = GetLogger(r.Context()).WithFields(logrus.Fields{
			"http.method":      r.Method,
			"http.path":        r.URL.String(),
			"http.host":        r.Host,
			"http.remote_addr": r.RemoteAddr,
			"http.referer":     r.Referer(),
			"http.user_agent":  r.UserAgent(),
		})

		l = run(h.before, rw, r, l)

		defer func() {
			status := 0
			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				status = nrw.Status()
				l = l.WithFields(logrus.Fields{
					"http.status_code":   status,
					"http.response_size": nrw.Size(),
				})
			}

			l = run(h.after, rw, r, l)

			if status >= http.StatusInternalServerError {
				l.Error("http request finished")
			} else {
				l.Info("http request finished")
			}
		}()

		l.Debug("http request started")

		next(rw, r.WithContext(WithLogger(r.Context(), l)))
	}
}

// request ids

const RequestIDHeader = "X-Request-Id"

var requestIDKey int

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, &requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(&requestIDKey); v != nil {
		return v.(string)
	}

	return ""
}

func validRequestID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}

	return strings.IndexFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) == -1
}

// RequestID takes the request id from the incoming header when it looks
// sane, or generates one, and echoes it back on the response. It must run
// after Register so the hook reaches the request log line.
func RequestID() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		rw.Header().Set(RequestIDHeader, id)

		ctx := WithRequestID(r.Context(), id)
		ctx = AddHookPair(ctx, func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithField("http.request_id", id)
		}, nil)

		next(rw, r.WithContext(ctx))
	}
}
