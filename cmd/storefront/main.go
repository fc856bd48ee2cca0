package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/confirm"
	"github.com/fjod/go_storefront/internal/httpapi"
	"github.com/fjod/go_storefront/internal/publisher"
	"github.com/fjod/go_storefront/internal/session"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/upstream"
)

type Config struct {
	HTTPPort        string
	MarketplaceURL  string
	RedisAddr       string
	RedisPassword   string
	KafkaBrokers    []string
	CryptoAllowList []string
	MessagingURL    string
	PricingURL      string
	LoginURL        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MarketplaceURL:  getEnv("MARKETPLACE_API_URL", "http://localhost:9000"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		CryptoAllowList: splitList(getEnv("CRYPTO_ALLOW_LIST", "")),
		MessagingURL:    getEnv("MESSAGING_URL", ""),
		PricingURL:      getEnv("PRICING_URL", "/pricing"),
		LoginURL:        getEnv("LOGIN_URL", "/login"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")

	api := upstream.NewClient(&upstream.Config{
		BaseURL: cfg.MarketplaceURL,
		Timeout: cfg.RequestTimeout,
	})
	log.Printf("Marketplace API client pointed at %s", cfg.MarketplaceURL)

	var events confirm.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaEvents := publisher.NewEvents(cfg.KafkaBrokers...)
		defer kafkaEvents.Close()
		events = kafkaEvents
		log.Printf("Order events publishing to %v", cfg.KafkaBrokers)
	}

	sessions := session.NewRedisStore(redisClient)
	stores := store.NewManager(api, api, store.LogPrompter{})

	// In-memory store instances follow the session TTL; without eviction
	// they would accumulate for the process lifetime.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n := stores.EvictIdle(session.TTL); n > 0 {
				log.Printf("evicted %d idle session stores", n)
			}
		}
	}()
	gate := checkout.NewGate(sessions)
	orch := checkout.NewOrchestrator(api, sessions, gate, cfg.CryptoAllowList, cfg.MessagingURL)
	confirmer := confirm.NewConfirmer(api, events, cfg.PricingURL, cfg.LoginURL)

	router := httpapi.NewRouter(httpapi.Handlers{
		Cart:     httpapi.NewStoreHandler(stores, upstream.CollectionCart, cfg.RequestTimeout),
		Wishlist: httpapi.NewStoreHandler(stores, upstream.CollectionWishlist, cfg.RequestTimeout),
		Promo:    httpapi.NewPromoHandler(sessions),
		Checkout: httpapi.NewCheckoutHandler(gate, orch, stores, sessions, api, cfg.RequestTimeout),
		Payment:  httpapi.NewPaymentHandler(confirmer),
	}, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // the settlement poll answers on this route tree
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Storefront starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("server exited")
}
