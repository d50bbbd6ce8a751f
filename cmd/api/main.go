package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/app"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/config"
	"controlled-docs/edms-backend/internal/documents"
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/workflow"
	"controlled-docs/edms-backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Connecting to store",
		zap.String("driver", cfg.Database.Driver),
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName))

	ctx := context.Background()
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise services", zap.Error(err))
	}
	defer svc.Close()

	authenticator := auth.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, svc.Repo, log)
	workflowHandler := workflow.NewHandler(svc.Engine, svc.Assignment, svc.Dependencies, svc.Repo, log)

	if cfg.Logging.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), cors())

	auth.RegisterRoutes(router, auth.NewHandler(svc.Oracle), authenticator)

	api := router.Group("/api/v1", authenticator.Middleware())
	{
		documents.NewHandler(svc.Documents).RegisterRoutes(api)
		workflowHandler.RegisterRoutes(api)
		notifications.NewHandler(svc.Notifier).RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
