package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/campus-alert-relay/internal/alerts"
	"github.com/mr1hm/campus-alert-relay/internal/api"
	"github.com/mr1hm/campus-alert-relay/internal/config"
	"github.com/mr1hm/campus-alert-relay/internal/enrichment"
	"github.com/mr1hm/campus-alert-relay/internal/fanout"
	internalgrpc "github.com/mr1hm/campus-alert-relay/internal/grpc"
	"github.com/mr1hm/campus-alert-relay/internal/logging"
	"github.com/mr1hm/campus-alert-relay/internal/metrics"
	"github.com/mr1hm/campus-alert-relay/internal/profiles"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
	"github.com/mr1hm/campus-alert-relay/internal/users"
	"github.com/mr1hm/campus-alert-relay/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	m := metrics.New()
	broadcaster := fanout.NewBroadcaster(cfg.Alerts.SubscriberBuffer)

	enricher := enrichment.New(db,
		enrichment.WithTimeout(cfg.Enrichment.Timeout),
		enrichment.WithCache(cfg.Enrichment.CacheSize, cfg.Enrichment.CacheTTL),
		enrichment.WithMetrics(m),
	)

	mgr := alerts.NewManager(db, enricher, broadcaster, m, alerts.Config{
		BacklogSize:  cfg.Alerts.BacklogSize,
		DefaultLimit: cfg.Alerts.DefaultListLimit,
	})

	userSvc, err := users.NewService(db, users.Config{
		Admin: users.AdminAccount{
			Username: cfg.Auth.AdminUsername,
			Password: cfg.Auth.AdminPassword,
			Name:     cfg.Auth.AdminName,
		},
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		logging.Fatalf("Failed to initialize user service: %v", err)
	}
	profileSvc := profiles.NewService(db, enricher)

	var grpcServer *internalgrpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = internalgrpc.NewServer(mgr, cfg.Alerts.MaxListLimit)
		go func() {
			grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
			if err := grpcServer.Start(grpcAddr); err != nil {
				logging.Fatalf("gRPC server error: %v", err)
			}
		}()
	}

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(mgr, userSvc, profileSvc, api.Options{
		AdminAPIKey:  cfg.Auth.AdminAPIKey,
		MaxListLimit: cfg.Alerts.MaxListLimit,
		DashboardDir: cfg.Server.DashboardDir,
		Metrics:      m,
	})
	handler.RegisterRoutes(router)

	wsHandler := ws.NewHandler(mgr, ws.Config{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
	})
	router.GET("/ws", gin.WrapH(wsHandler))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	broadcaster.Close() // ends every observer session and stream
	wsHandler.Close()
	if grpcServer != nil {
		grpcServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
