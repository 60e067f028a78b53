// Package server assembles the HTTP router and its middleware.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/server/middleware"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/verification/handler"
)

// NewRouter builds the router with origin capture, request logging, and the
// verification routes mounted.
func NewRouter(h *handler.Handler, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Origin)
	r.Use(requestLogger(log))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	h.Register(r)
	return r
}

func requestLogger(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Info("request handled")
		})
	}
}
