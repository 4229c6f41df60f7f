package handlers

import (
	"net/http"

	"github.com/baobao/baobao-user/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	metrics *middleware.HTTPMetrics,
	gatherer prometheus.Gatherer,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	if metrics != nil {
		router.Use(metrics.Middleware)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-code", authHandlers.SendCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.Handle("/logout", authMiddleware.Authenticate(http.HandlerFunc(authHandlers.Logout))).Methods("POST", "OPTIONS")
	auth.Handle("/me", authMiddleware.Authenticate(http.HandlerFunc(authHandlers.Me))).Methods("GET", "OPTIONS")
	auth.Handle("/me", authMiddleware.Authenticate(http.HandlerFunc(authHandlers.UpdateMe))).Methods("PUT")

	return router
}
