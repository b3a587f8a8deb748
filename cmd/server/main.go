package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/coinvault/backend/docs"
	"github.com/coinvault/backend/internal/adapters"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/database"
	"github.com/coinvault/backend/internal/handlers"
	mW "github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title CoinVault Wallet API
// @version 1.0
// @description Cryptocurrency wallet ledger and settlement engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("cron.token_hash", "CRON_TOKEN_HASH")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "CoinVault Wallet API"
	docs.SwaggerInfo.Description = "Cryptocurrency wallet ledger and settlement engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	walletCfg := config.LoadWalletConfig()

	registry := adapters.NewRegistry()
	// Coin adapters are registered per deployment; a node with no
	// adapters still serves the ledger read paths.

	store := services.NewLedgerStore(db)
	notifier := services.NewQueueNotifier(redisClient)
	depositService := services.NewDepositService(store, registry, notifier, walletCfg)
	moveService := services.NewMoveService(store, registry, notifier, walletCfg)
	withdrawService := services.NewWithdrawService(store, registry, moveService, notifier, walletCfg)
	confirmService := services.NewConfirmService(store, notifier, walletCfg)
	settlementService := services.NewSettlementService(store, registry, depositService, notifier, redisClient, walletCfg)

	walletHandler := handlers.NewWalletHandler(store, depositService, withdrawService, moveService, confirmService)
	cronHandler := handlers.NewCronHandler(settlementService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(mW.NewStructuredLogger(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/deposits/notify", walletHandler.NotifyDeposit)
		r.Get("/transactions/{id}/confirm", walletHandler.ConfirmTransaction)
		r.Post("/cron", cronHandler.TriggerSettlement)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/balance", walletHandler.GetBalance)
			r.Get("/deposit-address", walletHandler.GetDepositAddress)
			r.Post("/withdrawals", walletHandler.RequestWithdrawal)
			r.Post("/moves", walletHandler.RequestMove)
			r.Get("/transactions", walletHandler.ListTransactions)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminMiddleware)

				r.Post("/admin/transactions/{id}/confirm", walletHandler.AdminConfirmTransaction)
				r.Post("/admin/transactions/{id}/cancel", walletHandler.CancelTransaction)
			})
		})
	})

	// In-process settlement ticker; external schedulers can hit /cron instead.
	tickerCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()
	go func() {
		ticker := time.NewTicker(walletCfg.TickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				settlementService.RunPass(tickerCtx)
			}
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopTicker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
