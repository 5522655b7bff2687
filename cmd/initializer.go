package main

import (
	"database/sql"
	"log"

	"firebase.google.com/go/messaging"
	"github.com/redis/go-redis/v9"

	"monetaBack/internal/config"
	"monetaBack/internal/handlers"
	"monetaBack/internal/repositories"
	"monetaBack/internal/services"
	"monetaBack/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger

	tokens    *utils.Manager
	db        *sql.DB
	wsManager *WebSocketManager

	entitlementRepo *repositories.EntitlementRepository
	reconciler      *services.ReconcilerService
	billingHandler  *handlers.BillingHandler
}

func initializeApp(
	db *sql.DB,
	rdb *redis.Client,
	play *services.GooglePlayService,
	msgClient *messaging.Client,
	archive services.ReconciliationArchive,
	cfg config.Config,
	errorLog, infoLog *log.Logger,
) (*application, error) {
	tokens, err := utils.NewManager(cfg.Auth.SigningKey)
	if err != nil {
		return nil, err
	}

	// Repositories
	entitlementRepo := repositories.NewEntitlementRepository(db)
	deviceTokenRepo := repositories.NewDeviceTokenRepository(db)
	var dedup services.NotificationDeduper
	if rdb != nil {
		dedup = repositories.NewNotificationDedup(rdb)
	}

	wsManager := NewWebSocketManager(errorLog)

	// Services
	push := &services.PushService{Client: msgClient, Tokens: deviceTokenRepo, ErrorLog: errorLog}
	verification := &services.VerificationService{
		Store:     entitlementRepo,
		Play:      play,
		ProductID: cfg.GooglePlay.ProductID,
		Events:    wsManager,
		Archive:   archive,
		InfoLog:   infoLog,
		ErrorLog:  errorLog,
	}
	reconciler := &services.ReconcilerService{
		Store:       entitlementRepo,
		Play:        play,
		Dedup:       dedup,
		PackageName: cfg.GooglePlay.PackageName,
		ProductID:   cfg.GooglePlay.ProductID,
		Events:      wsManager,
		Push:        push,
		InfoLog:     infoLog,
		ErrorLog:    errorLog,
	}
	entitlements := &services.EntitlementService{Store: entitlementRepo}

	// Handlers
	billingHandler := &handlers.BillingHandler{
		Verification: verification,
		Reconciler:   reconciler,
		Entitlements: entitlements,
		DeviceTokens: deviceTokenRepo,
		InfoLog:      infoLog,
		ErrorLog:     errorLog,
	}

	return &application{
		errorLog:        errorLog,
		infoLog:         infoLog,
		tokens:          tokens,
		db:              db,
		wsManager:       wsManager,
		entitlementRepo: entitlementRepo,
		reconciler:      reconciler,
		billingHandler:  billingHandler,
	}, nil
}
