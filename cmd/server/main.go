package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/muebleria/internal/httpserver"
	"github.com/Skotchmaster/muebleria/internal/idem"
	"github.com/Skotchmaster/muebleria/internal/middleware/csrf"
	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/mykafka"
	"github.com/Skotchmaster/muebleria/internal/repo"
	"github.com/Skotchmaster/muebleria/internal/search"
	"github.com/Skotchmaster/muebleria/internal/service"
	"github.com/Skotchmaster/muebleria/pkg/config"
	"github.com/Skotchmaster/muebleria/pkg/db"
	jwthelp "github.com/Skotchmaster/muebleria/pkg/jwt"
	"github.com/Skotchmaster/muebleria/pkg/logging"
	loggingmw "github.com/Skotchmaster/muebleria/pkg/middleware/logging"
)

func main() {
	makeAdmin := flag.String("make-admin", "", "grant the admin role to this email and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.Load()
	config.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")
	config.MustNonEmptyBytes(cfg.JWTAccessSecret, "JWT_SECRET")
	config.MustNonEmptyBytes(cfg.JWTRefreshSecret, "JWT_REFRESH_SECRET")
	config.MustOneOf(cfg.DBDriver, "DB_DRIVER", db.DriverPostgres, db.DriverSQLite)

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)
	jwthelp.Secure = cfg.CookieSecure

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := models.AutoMigrate(gdb); err != nil {
		log.Fatalf("failed to migrate tables: %v", err)
	}

	authSvc := &service.AuthService{
		Users:         &repo.UserRepo{DB: gdb},
		Tokens:        &repo.TokenRepo{DB: gdb},
		JWTSecret:     cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}

	if *makeAdmin != "" {
		if err := authSvc.PromoteToAdmin(context.Background(), *makeAdmin); err != nil {
			log.Fatalf("make admin %s: %v", *makeAdmin, err)
		}
		logger.Info("admin_granted", "email", *makeAdmin)
		return
	}

	var publisher service.Publisher = mykafka.Noop{}
	var producer *mykafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = mykafka.NewProducer(cfg.KafkaBrokers)
		publisher = producer
	} else {
		logger.Warn("kafka_disabled", "reason", "KAFKA_BROKERS is empty")
	}

	var rdb *redis.Client
	var guard *idem.Guard
	if cfg.RedisAddr != "" {
		rdb = idem.NewClient(cfg.RedisAddr)
		guard = idem.New(rdb)
	}

	catalog := &service.CatalogService{Repo: &repo.CatalogRepo{DB: gdb}}
	if cfg.ESURL != "" {
		esCtx, esCancel := context.WithTimeout(context.Background(), 5*time.Second)
		idx, err := search.NewClient(esCtx, cfg.ESURL, cfg.ESUser, cfg.ESPassword, cfg.ESIndex)
		esCancel()
		if err != nil {
			logger.Warn("search_disabled", "error", err)
		} else {
			catalog.Index = idx
		}
	}

	carts := &service.CartService{DB: gdb, Products: catalog, Publisher: publisher, CookieSecure: cfg.CookieSecure}
	orders := &service.OrderService{
		Repo:      &repo.OrderRepo{DB: gdb},
		Carts:     carts,
		Inventory: catalog,
		Publisher: publisher,
		Idem:      guard,
	}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(loggingmw.RequestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORSOrigins,
			AllowCredentials: true,
			AllowHeaders:     []string{echo.HeaderContentType, "X-CSRF-Token", httpserver.HeaderIdempotencyKey},
		}))
	}
	if cfg.CSRFEnabled {
		e.Use(csrf.Middleware(csrf.Config{
			Secure:       cfg.CookieSecure,
			SkipPrefixes: []string{"/health"},
		}))
	}

	httpserver.Register(e, &httpserver.Deps{
		DB:             gdb,
		CartHandler:    &httpserver.CartHTTP{Svc: carts},
		AuthHandler:    &httpserver.AuthHTTP{Svc: authSvc, Carts: carts},
		CatalogHandler: &httpserver.CatalogHTTP{Svc: catalog},
		OrderHandler:   &httpserver.OrderHTTP{Svc: orders},
		JWTSecret:      cfg.JWTAccessSecret,
		Refresher:      authSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("server_starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting_down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server_shutdown_error", "error", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka_close_error", "error", err)
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("redis_close_error", "error", err)
		}
	}
	if err := db.Close(gdb); err != nil {
		logger.Error("db_close_error", "error", err)
	}

	logger.Info("shutdown_complete")
}
