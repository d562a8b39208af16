package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bank-cards/card-service/internal/config"
	"github.com/bank-cards/card-service/internal/crypto"
	"github.com/bank-cards/card-service/internal/handler"
	"github.com/bank-cards/card-service/internal/middleware"
	"github.com/bank-cards/card-service/internal/repository"
	"github.com/bank-cards/card-service/internal/service"
	"github.com/bank-cards/card-service/internal/utils/email"
)

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize the card-number vault; a bad key is fatal.
	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		logger.Fatalf("Failed to initialize vault: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	var notifier service.Notifier
	if cfg.SMTPHost != "" {
		notifier = email.NewSender(cfg, logger)
	}
	userSvc := service.NewUserService(repo, logger, cfg)
	cardSvc := service.NewCardService(repo, vault, logger)
	transferSvc := service.NewTransferService(repo, logger, notifier)
	h := handler.NewHandler(userSvc, cardSvc, transferSvc)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	// Public routes
	r.HandleFunc("/api/auth/register", h.Register).Methods("POST")
	r.HandleFunc("/api/auth/login", h.Login).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/api").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/cards", h.CreateCard).Methods("POST")
	authRouter.HandleFunc("/cards", h.ListCards).Methods("GET")
	authRouter.HandleFunc("/cards/{id}", h.GetCard).Methods("GET")
	authRouter.HandleFunc("/cards/{id}/block", h.BlockCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}/activate", h.ActivateCard).Methods("POST")
	authRouter.HandleFunc("/cards/{id}", h.DeleteCard).Methods("DELETE")
	authRouter.HandleFunc("/transfers", h.Transfer).Methods("POST")

	// Daily expiry reminders at 09:00
	c := cron.New()
	if notifier != nil {
		_, err = c.AddFunc("0 9 * * *", func() {
			if err := cardSvc.SendExpiryReminders(context.Background(), notifier); err != nil {
				logger.Errorf("Expiry reminder job failed: %v", err)
			}
		})
		if err != nil {
			logger.Fatalf("Failed to schedule expiry reminders: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
