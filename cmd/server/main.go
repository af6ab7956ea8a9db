package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"openshelf/internal/admintoken"
	"openshelf/internal/app"
	"openshelf/internal/config"
	"openshelf/internal/server"
	"openshelf/internal/storage"
	"openshelf/internal/store"
	"openshelf/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxy cidrs: %v", err)
	}
	tokens, err := admintoken.New(cfg.AdminTokenSecret, admintoken.DefaultTTL)
	if err != nil {
		log.Fatalf("failed to init admin tokens: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}
	sessions := store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	cancel()
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:            db,
		Sessions:         sessions,
		Objects:          objects,
		Tokens:           tokens,
		Logger:           logger,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		DefaultCoverURL:  cfg.DefaultCoverURL,
		AdminUsername:    cfg.AdminUsername,
		AdminPassword:    cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                  appCore,
		RedisAddr:            cfg.RedisAddr,
		RedisPassword:        cfg.RedisPassword,
		SignupLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		MaxUploadBytes:       cfg.MaxUploadBytes,
		CookieSecure:         cfg.CookieSecure,
		SessionTTL:           sessionTTL,
		TrustedProxies:       trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("openshelf server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
