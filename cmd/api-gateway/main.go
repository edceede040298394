package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-regcode-api/api/swagger"
	"github.com/noah-isme/sma-regcode-api/internal/handler"
	"github.com/noah-isme/sma-regcode-api/internal/middleware"
	"github.com/noah-isme/sma-regcode-api/internal/models"
	"github.com/noah-isme/sma-regcode-api/internal/repository"
	"github.com/noah-isme/sma-regcode-api/internal/service"
	"github.com/noah-isme/sma-regcode-api/pkg/cache"
	"github.com/noah-isme/sma-regcode-api/pkg/config"
	"github.com/noah-isme/sma-regcode-api/pkg/database"
	"github.com/noah-isme/sma-regcode-api/pkg/export"
	"github.com/noah-isme/sma-regcode-api/pkg/jobs"
	"github.com/noah-isme/sma-regcode-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-regcode-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-regcode-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-regcode-api/pkg/storage"
)

// @title SMA Registration Code API
// @version 1.0.0
// @description Registration code issuance, bulk import, and redemption service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	spool, err := storage.NewLocalStorage(cfg.Imports.SpoolDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare import spool", "error", err)
	}
	if removed, err := spool.CleanupOlderThan(cfg.Imports.SpoolTTL); err != nil {
		logr.Sugar().Warnw("spool cleanup failed", "error", err)
	} else if len(removed) > 0 {
		logr.Sugar().Infow("removed stale spool files", "count", len(removed))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	codeRepo := repository.NewCodeRepository(db)
	importLogRepo := repository.NewImportLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sma-regcode-api",
	})
	codeSvc := service.NewCodeService(codeRepo, cacheRepo, metricsSvc, validate, logr, service.CodeServiceConfig{
		Prefix:        cfg.Codes.Prefix,
		SuffixLength:  cfg.Codes.SuffixLength,
		MaxBatch:      cfg.Codes.MaxBatch,
		MaxAttempts:   cfg.Codes.MaxAttempts,
		GroupCacheTTL: cfg.Codes.GroupCacheTTL,
	})
	redemptionSvc := service.NewRedemptionService(codeRepo, metricsSvc, validate, logr)
	exportSvc := service.NewExportService(codeRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
	importSvc := service.NewImportService(codeRepo, importLogRepo, spool, metricsSvc, logr, service.ImportServiceConfig{
		ChunkSize:        cfg.Imports.ChunkSize,
		MemoryLimitBytes: cfg.Imports.MemoryLimitBytes,
		MemoryCheckEvery: cfg.Imports.MemoryCheckEvery,
	})

	importQueue := jobs.NewQueue("code-imports", importSvc.ProcessJob, jobs.QueueConfig{
		Workers:    cfg.Imports.WorkerConcurrency,
		MaxRetries: cfg.Imports.WorkerRetries,
		Logger:     logr,
	})
	importSvc.AttachQueue(importQueue)
	importSvc.AttachGroupCache(cacheRepo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	importQueue.Start(ctx)
	defer importQueue.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	codeHandler := handler.NewCodeHandler(codeSvc, exportSvc)
	importHandler := handler.NewImportHandler(importSvc)
	redemptionHandler := handler.NewRedemptionHandler(redemptionSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		readyCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(readyCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "component": "database"})
			return
		}
		if err := redisClient.Ping(readyCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "component": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	codes := api.Group("/codes", middleware.JWT(authSvc))
	codes.POST("/generate",
		middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher),
		codeHandler.Generate)
	codes.GET("", codeHandler.List)
	codes.GET("/groups", codeHandler.ListGroups)
	codes.DELETE("/groups/:name",
		middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin),
		codeHandler.DeleteGroup)
	codes.GET("/export", codeHandler.Export)

	codes.POST("/imports",
		middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher),
		importHandler.Start)
	codes.GET("/imports", importHandler.List)
	codes.GET("/imports/:id", importHandler.Status)

	codes.POST("/validate", redemptionHandler.Validate)
	codes.POST("/redeem", redemptionHandler.Redeem)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
