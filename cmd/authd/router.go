package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jamesacres/bubblyclouds-auth/internal/account"
	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/logging"
	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
	"github.com/jamesacres/bubblyclouds-auth/internal/server/middleware"
	"github.com/jamesacres/bubblyclouds-auth/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type routerDeps struct {
	database  *gorm.DB
	artifacts *artifact.Registry
	accounts  *account.Registry
	login     http.Handler
	mountPath string
	gatherer  prometheus.Gatherer
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthHandler(d.database))
	r.Handle("/metrics", metrics.Handler(d.gatherer))

	// Account API: admin key, or the account's own access token
	r.Route("/api/account/{accountId}", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.AdminAuth(d.database, d.artifacts.For(artifact.KindAccessToken)))
		r.Get("/claims", claimsHandler(d.accounts))
		r.Post("/delete", deleteAccountHandler(d.accounts))
	})

	mount := d.mountPath
	if mount == "" {
		mount = "/"
	}
	r.Mount(mount, middleware.NoStore(d.login))
	return r
}

func healthHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if sqlDB, err := database.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status, "version": version.Version})
	}
}

func claimsHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := accounts.Claims(r.Context(), chi.URLParam(r, middleware.AccountParam))
		if errors.Is(err, account.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
			return
		}
		if err != nil {
			log.Printf("[API] ❌ claims failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

func deleteAccountHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, middleware.AccountParam)
		if err := accounts.Destroy(r.Context(), accountID); err != nil {
			log.Printf("[API] ❌ delete %s failed: %v", accountID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
