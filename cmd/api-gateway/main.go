package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/uniportal-api/api/swagger"
	"github.com/noah-isme/uniportal-api/internal/handler"
	"github.com/noah-isme/uniportal-api/internal/repository"
	"github.com/noah-isme/uniportal-api/internal/service"
	"github.com/noah-isme/uniportal-api/pkg/cache"
	"github.com/noah-isme/uniportal-api/pkg/config"
	"github.com/noah-isme/uniportal-api/pkg/database"
	"github.com/noah-isme/uniportal-api/pkg/logger"
)

// @title UniPortal API
// @version 1.0.0
// @description Course section enrollment and grading service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("database migrations applied")
	}

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// Serve uncached when redis is unreachable.
			logr.Warn("redis unavailable, section cache disabled", zap.Error(err))
		} else {
			cacheRepo = repository.NewCacheRepository(client, logr.Named("cache"))
			defer cacheRepo.Close() //nolint:errcheck
			checks["redis"] = cacheRepo
		}
	}
	var cacheStore service.CacheRepository
	if cacheRepo != nil {
		cacheStore = cacheRepo
	}
	cacheSvc := service.NewCacheService(cacheStore, metrics, cfg.Cache.TTL, logr.Named("cache"), cacheRepo != nil)

	validate := validator.New()
	tx := database.NewTransactor(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	sectionSvc := service.NewSectionService(sectionRepo, catalogRepo, tx, cacheSvc, metrics, validate, logr.Named("sections"))
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, sectionRepo, catalogRepo, gradeRepo, tx, cacheSvc, metrics, validate, logr.Named("enrollments"))
	gradeSvc := service.NewGradeService(gradeRepo, enrollmentRepo, sectionRepo, catalogRepo, tx, metrics, validate, logr.Named("grades"))

	var audience []string
	if cfg.JWT.Audience != "" {
		audience = []string{cfg.JWT.Audience}
	}
	authSvc := service.NewAuthService(logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          audience,
	})

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:     cfg.APIPrefix,
		CORS:          cfg.CORS,
		MetricsPath:   cfg.Metrics.Path,
		EnableMetrics: cfg.Metrics.Enabled,
		EnableDocs:    cfg.Env != config.EnvProduction,
		Logger:        logr,
		Metrics:       metrics,
		Auth:          authSvc,
		Sections:      handler.NewSectionHandler(sectionSvc),
		Enrollments:   handler.NewEnrollmentHandler(enrollmentSvc),
		Grades:        handler.NewGradeHandler(gradeSvc, enrollmentSvc),
		Health:        handler.NewMetricsHandler(metrics, checks, logr.Named("health")),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
