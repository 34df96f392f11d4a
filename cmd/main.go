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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/mobinc/pnpbridge/affiliate"
	"github.com/mobinc/pnpbridge/casino"
	"github.com/mobinc/pnpbridge/infra/config"
	"github.com/mobinc/pnpbridge/infra/logger"
	"github.com/mobinc/pnpbridge/infra/middle"
	"github.com/mobinc/pnpbridge/infra/opensearch"
	"github.com/mobinc/pnpbridge/infra/response"
	"github.com/mobinc/pnpbridge/infra/session"
	"github.com/mobinc/pnpbridge/provider"
	"github.com/mobinc/pnpbridge/router"
)

var (
	PORT             string
	openSearchLogger *opensearch.Logger
)

func init() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using process environment")
	}
	// init conf
	_ = config.App()

	cfg := config.GetAppConfig()
	PORT = cfg.Port

	// Initialize OpenSearch client and logger
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			openSearchLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized successfully")
		}
	} else {
		log.Println("OpenSearch logging is disabled")
	}

	logger.InitGlobalLogger(openSearchLogger)
}

func main() {
	cfg := config.GetAppConfig()

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Deposit session store with periodic expiry sweep
	sessions, err := session.NewSQLiteStore(cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()
	sessions.StartExpirySweep(ctx, time.Hour)

	// Partner casino registration API
	casinoClient := casino.NewClient(casino.Config{
		DefaultDomain: config.GetEnv("CASINO_DOMAIN", ""),
		Secret:        config.GetEnv("CASINO_SECRET", ""),
		BasicAuthUser: config.GetEnv("CASINO_BASIC_AUTH_USER", ""),
		BasicAuthPass: config.GetEnv("CASINO_BASIC_AUTH_PASS", ""),
	})

	// Affiliate key-obtain API
	affiliateClient := affiliate.NewClient(affiliate.Config{
		BaseURL:    config.GetEnv("AFFILIATE_API_URL", ""),
		SiteID:     config.GetEnv("AFFILIATE_SITE_ID", ""),
		Secret:     config.GetEnv("AFFILIATE_SECRET", ""),
		CustomerIP: config.GetEnv("AFFILIATE_CUSTOMER_IP", ""),
	})

	bridge := provider.NewBridgeService(sessions, casinoClient, affiliateClient)
	bridge.SetSessionTTL(time.Duration(cfg.SessionTTLHours) * time.Hour)
	bridge.SetDeleteOnReject(cfg.DeleteSessionOnReject)

	// Register providers configured through the environment
	providerConfig := config.NewProviderConfig()
	for _, providerName := range provider.DefaultRegistry.GetProviderNames() {
		providerCfg, err := providerConfig.LoadFromEnv(providerName)
		if err != nil {
			log.Printf("Provider %s is not configured, skipping: %v", providerName, err)
			continue
		}
		if err := bridge.AddProvider(providerName, providerCfg); err != nil {
			log.Printf("Failed to register provider %s: %v", providerName, err)
			continue
		}
		log.Printf("Registered payment provider: %s", providerName)
	}

	// Set default provider
	availableProviders := providerConfig.GetAvailableProviders()
	if defaultProvider := config.GetEnv("DEFAULT_PROVIDER", ""); defaultProvider != "" {
		if err := bridge.SetDefaultProvider(defaultProvider); err != nil {
			log.Printf("Failed to set default provider: %v", err)
		}
	} else if len(availableProviders) > 0 {
		_ = bridge.SetDefaultProvider(availableProviders[0])
	}

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))

	// Security Middleware
	rateLimiter := middle.NewRateLimiter()
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.IPWhitelistMiddleware())
	r.Use(middle.RateLimitMiddleware(rateLimiter))
	r.Use(middle.RequestValidationMiddleware())

	// OpenSearch Logging Middleware (captures the deposit lifecycle per message id)
	if openSearchLogger != nil {
		r.Use(middle.DepositLoggingMiddleware(openSearchLogger, sessions))
		log.Println("Deposit logging middleware enabled")
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "Content-Length", "Access-Control-Allow-Origin"},
		AllowCredentials: true,
		MaxAge:           300, // Preflight cache time (second)
	}))

	// Health check endpoint (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{
			"status":             "ok",
			"timestamp":          time.Now().UTC(),
			"version":            "1.0.0",
			"opensearch_enabled": openSearchLogger != nil,
		}
		if stats, err := sessions.GetStats(); err == nil {
			health["sessions"] = stats
		}
		response.Success(w, http.StatusOK, "Service is healthy", health)
	})

	router.Routes(r, bridge, sessions, openSearchLogger)

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", PORT),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	// Run your HTTP server in a goroutine
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	log.Println("API is running on", PORT)

	// Block until a signal is received
	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
