package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs every request once it completes, at a level chosen by
// the response status class.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := log.WithFields(logrus.Fields{
				"request_id":    middleware.GetReqID(r.Context()),
				"method":        r.Method,
				"path":          r.URL.Path,
				"status_code":   status,
				"latency":       time.Since(start),
				"client_ip":     r.RemoteAddr,
				"user_agent":    r.UserAgent(),
				"response_size": ww.BytesWritten(),
			})

			switch {
			case status >= 500:
				entry.Error("HTTP request completed with server error")
			case status >= 400:
				entry.Warn("HTTP request completed with client error")
			default:
				entry.Info("HTTP request completed successfully")
			}
		})
	}
}
