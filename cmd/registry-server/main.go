package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinsync/patient-registry/internal/auth"
	"github.com/clinsync/patient-registry/internal/connectivity"
	"github.com/clinsync/patient-registry/internal/export"
	"github.com/clinsync/patient-registry/internal/offline"
	"github.com/clinsync/patient-registry/internal/registry"
	syncengine "github.com/clinsync/patient-registry/internal/sync"
	"github.com/clinsync/patient-registry/pkg/config"
	"github.com/clinsync/patient-registry/pkg/database"
	"github.com/clinsync/patient-registry/pkg/encryption"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/monitoring"
	"github.com/clinsync/patient-registry/pkg/repository"
	"github.com/clinsync/patient-registry/pkg/types"
)

const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Patient Registry Service")

	// Initialize database connection (authoritative store)
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Initialize offline cache (local SQLite mirror of unsynced records)
	var cacheOpts []offline.Option
	if cfg.OfflineCache.EncryptionKey != "" {
		encryptor, err := encryption.NewFieldEncryptor(cfg.OfflineCache.EncryptionKey)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize cache encryption")
		}
		cacheOpts = append(cacheOpts, offline.WithFieldEncryption(encryptor))
	}

	cache, err := offline.NewCache(cfg.OfflineCache.Path, log, cacheOpts...)
	if err != nil {
		log.WithError(err).Fatal("Failed to open offline cache")
	}
	defer cache.Close()

	// Initialize repositories
	patientRepo := repository.NewPatientRepository(db.DB, log)
	auditRepo := repository.NewAuditRepository(db.DB, log)
	userRepo := repository.NewUserRepository(db.DB, log)

	// Initialize monitoring
	metrics := monitoring.NewMetricsCollector("patient-registry")

	// Initialize sync engine against the external registry
	target := syncengine.NewHTTPTarget(cfg.Sync.TargetURL, cfg.Sync.APIToken,
		time.Duration(cfg.Sync.AttemptTimeout)*time.Second)

	engine := syncengine.NewEngine(patientRepo, target, auditRepo, log,
		time.Duration(cfg.Sync.AttemptTimeout)*time.Second,
		syncengine.WithOfflineCache(cache),
		syncengine.WithMetrics(metrics),
		syncengine.WithWorkers(cfg.Sync.BulkWorkers),
	)

	// Initialize connectivity monitor
	monitor := connectivity.NewMonitor(target,
		time.Duration(cfg.Sync.ProbeInterval)*time.Second, log)

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()

	monitor.Subscribe(func(online bool) {
		metrics.SetConnectivity(online)
		if !online {
			return
		}

		// Flush the pending queue whenever the external registry
		// comes back.
		go func() {
			summary, err := engine.SyncAllPending(context.Background(), nil,
				&types.RequestMeta{IPAddress: "system"})
			if err != nil {
				metrics.RecordSystemError("reconnect_sync", "sync_engine")
				log.WithError(err).Error("Reconnect sync failed")
				return
			}
			log.WithFields(map[string]interface{}{
				"attempted": summary.Attempted,
				"succeeded": summary.Succeeded,
				"failed":    summary.Failed,
			}).Info("Reconnect sync completed")
		}()
	})
	monitor.Start(monitorCtx)
	defer monitor.Stop()

	// Initialize services
	authService := auth.NewService(&cfg.JWT, log, userRepo,
		auth.NewPasswordManager(), auditRepo, userRepo)
	authService.SetMetrics(metrics)

	// A fresh database has no accounts; seed the configured
	// administrator so user management can be entered at all.
	if err := authService.EnsureBootstrapAdmin(context.Background(),
		cfg.BootstrapAdmin.Email, cfg.BootstrapAdmin.Password); err != nil {
		log.WithError(err).Fatal("Failed to create bootstrap administrator")
	}

	registryService := registry.NewService(patientRepo, engine, auditRepo, log)
	registryService.SetOfflineCache(cache)
	registryService.SetConnectivity(monitor)
	registryService.SetMetrics(metrics)

	exporter := export.NewExporter(log)

	// Initialize HTTP handlers
	handlers := registry.NewHandlers(registryService, authService, exporter, log)

	// Setup HTTP router
	router := mux.NewRouter()

	// Add middleware
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware)
	if cfg.Monitoring.Enabled {
		router.Use(metrics.HTTPMiddleware)
	}

	// Register routes
	handlers.RegisterRoutes(router)

	// Health and metrics endpoints
	healthManager := monitoring.NewHealthManager("patient-registry", serviceVersion)
	healthManager.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))
	healthManager.RegisterChecker("external_registry", monitoring.NewConnectivityHealthChecker(monitor.Online))
	healthManager.RegisterChecker("offline_cache", monitoring.NewCustomHealthChecker(func(ctx context.Context) monitoring.HealthCheck {
		if err := cache.Health(ctx); err != nil {
			return monitoring.HealthCheck{
				Status:  monitoring.HealthStatusUnhealthy,
				Message: fmt.Sprintf("Offline cache unavailable: %v", err),
			}
		}
		return monitoring.HealthCheck{
			Status:  monitoring.HealthStatusHealthy,
			Message: "Offline cache reachable",
		}
	}))

	router.HandleFunc(cfg.Monitoring.HealthPath, healthManager.HTTPHandler()).Methods("GET")
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods("GET")
	}

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Patient Registry Service")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}

	log.Info("Patient Registry Service stopped")
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			log.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapper.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}).Info("HTTP request")
		})
	}
}

// corsMiddleware adds CORS headers for the data-entry frontend
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
