// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway is the HTTP surface of the Sentinel trust layer. It wires
// the validation engine, audit sink and middleware together; every policy
// decision stays inside the sentinel package.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sentinel/gateway/audit"
	"sentinel/gateway/config"
	"sentinel/gateway/dbpool"
	"sentinel/gateway/sentinel"
	"sentinel/gateway/sentinel/risk"
	"sentinel/gateway/shared/logger"
)

// Run starts the gateway and blocks until SIGINT/SIGTERM. All process
// state (pool, engine, audit service) is constructed here and injected.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New("gateway")

	pool := dbpool.New(dbpool.Config{
		ConnString:          cfg.Database.ConnString(),
		PoolSize:            cfg.Database.PoolSize,
		ConnectTimeout:      cfg.Database.ConnectTimeout,
		QueryTimeout:        cfg.Database.QueryTimeout,
		HealthCheckInterval: cfg.Database.HealthCheckInterval,
		MaxRetries:          cfg.Database.MaxRetries,
		RetryDelay:          cfg.Database.RetryDelay,
	})
	defer pool.Shutdown()

	guardian := risk.NewGuardian(risk.GuardianConfig{
		APIKey:   cfg.Guardian.APIKey,
		Endpoint: cfg.Guardian.Endpoint,
		Model:    cfg.Guardian.Model,
		Timeout:  cfg.Guardian.Timeout,
	})
	assessor := risk.NewAssessor(guardian)

	var auditSvc *audit.Service
	var sink sentinel.AuditSink
	if cfg.Audit.Enabled {
		auditSvc = audit.NewService(audit.Config{
			QueueSize:     cfg.Audit.QueueSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
		}, pool)
		auditSvc.Start()
		defer auditSvc.Stop()
		sink = auditSvc
	}

	engine := sentinel.NewEngine(sentinel.Config{
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.Cache.TTL,
		CacheMaxSize: cfg.Cache.MaxSize,
	}, assessor, sentinel.NewRuleStore(pool), sink)

	var limiter *RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.RedisURL)
		if err != nil {
			// Redis being down must not keep the gateway from starting.
			log.ErrorWithErr("", "", "redis unavailable, rate limiting falls back to in-memory", err, nil)
			limiter, _ = NewRateLimiter(cfg.RateLimit.PerMinute, "")
		}
		defer func() { _ = limiter.Close() }()
	}

	server := NewServer(engine, auditSvc, guardian, limiter)

	router := mux.NewRouter()
	router.HandleFunc("/health", server.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/").Subrouter()
	api.HandleFunc("/validate", server.handleValidate).Methods("POST")
	api.HandleFunc("/stats", server.handleStats).Methods("GET")
	api.HandleFunc("/cache/clear", server.handleCacheClear).Methods("POST")
	if cfg.Auth.Enabled {
		api.Use(newAuthenticator(cfg.Auth.JWTSecret).middleware)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "sentinel gateway listening", map[string]interface{}{
			"port":          cfg.Server.Port,
			"cache_enabled": cfg.Cache.Enabled,
			"audit_enabled": cfg.Audit.Enabled,
			"auth_enabled":  cfg.Auth.Enabled,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Info("", "", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
