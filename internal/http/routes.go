package httpapi

import (
	"net/http"
	"time"

	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter builds the webhook listener router. Every path accepts POST; any other method
// gets 405.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger, h.metrics))
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(handleMethodNotAllowed)
	r.Post("/*", h.HandleWebhook)

	return r
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	writeError(w, http.StatusMethodNotAllowed, "only POST is supported", CodeMethodNotAllowed)
}

// RequestLogger logs each request through zerolog and counts it by status. chi's own
// Logger middleware writes to stdout, which belongs to the control channel.
func RequestLogger(logger zerolog.Logger, metrics *obs.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				metrics.Request(status)
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
