package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retailcore/backend/internal/cache"
	"retailcore/backend/internal/config"
	"retailcore/backend/internal/httpapi"
	"retailcore/backend/internal/salenumber"
	"retailcore/backend/internal/service"
	"retailcore/backend/internal/store"
	"retailcore/backend/internal/store/memory"
	pgstore "retailcore/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("migration failed: %v", err)
			}
			log.Println("schema: migrated")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var counter salenumber.Counter = salenumber.StoreCounter{Sales: repo}
	if cfg.RedisAddr != "" {
		sequence := cache.NewRedisSaleSequence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := sequence.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), counting sales from the store", err)
			_ = sequence.Close()
		} else {
			counter = sequence
			closers = append(closers, sequence.Close)
			log.Println("sale sequence: redis")
		}
	} else {
		log.Println("sale sequence: store count")
	}

	svc := service.New(repo, salenumber.New(counter), cfg.SaleTimeout())
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Debug:          cfg.Debug,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.SaleTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("retail backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SaleTimeoutSeconds < 1 || cfg.SaleTimeoutSeconds > 120 {
		return fmt.Errorf("SALE_TIMEOUT_SECONDS must be between 1 and 120")
	}
	if cfg.AutoMigrate && cfg.DatabaseURL == "" {
		return fmt.Errorf("AUTO_MIGRATE requires DATABASE_URL")
	}
	return nil
}
