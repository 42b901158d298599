package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/studioai/studio-bff/internal/api/response"
)

// MsgInternal is the envelope message for any unexpected server failure.
const MsgInternal = "An unexpected error occurred"

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http still aborts the response quietly.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"caller", subject(r),
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", MsgInternal, nil)
		}()
		next.ServeHTTP(w, r)
	})
}
