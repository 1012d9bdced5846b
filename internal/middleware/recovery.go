package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	sentryhttp "github.com/getsentry/sentry-go/http"

	"chrona-backend/pkg/apierror"
)

var errInternal = apierror.New("INTERNAL_ERROR", "unexpected server error", "", http.StatusInternalServerError)

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				slog.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "path", r.URL.Path, "stack", string(debug.Stack()))
				writeAPIError(w, errInternal)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Sentry reports panics to Sentry and re-panics so Recovery still answers
// the request. Without an initialized client the hub drops the event.
func Sentry(next http.Handler) http.Handler {
	return sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(next)
}
