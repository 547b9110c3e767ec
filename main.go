package main

import (
	"log"

	"splitpay-backend/config"
	"splitpay-backend/database"
	"splitpay-backend/handlers"
	"splitpay-backend/middleware"
	"splitpay-backend/services"
	"splitpay-backend/utils"
	"splitpay-backend/workers"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.Load()
	utils.SetupLogging()

	// Connect to database
	database.Connect()

	// Connect to Redis (optional, won't crash if unavailable)
	database.ConnectRedis()

	// Wire the core
	splitRepo := database.NewGormSplitRepository(database.DB)
	walletRepo := database.NewGormWalletRepository(database.DB)
	activityLog := database.NewGormActivityLog(database.DB)
	identity := services.NewDBIdentityResolver(database.DB, database.Redis)
	notifier := services.GetNotificationService()
	rail := services.NewRailClient()

	store := services.NewSplitRecordStore(splitRepo, identity, activityLog, notifier)
	coordinator := services.NewEscrowWalletCoordinator(walletRepo, splitRepo, rail, activityLog, notifier)
	handlers.Setup(store, coordinator, walletRepo)

	// Background reconciliation sweep
	reconciler := workers.NewReconciler(store, coordinator)
	reconciler.Start()
	defer reconciler.Stop()

	// Setup router
	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": config.AppConfig.AppName,
		})
	})

	// ==========================================
	// AUTH ROUTES (public)
	// ==========================================
	auth := r.Group("/auth")
	{
		auth.POST("/register", handlers.Register)
		auth.POST("/login", handlers.Login)
	}

	// ==========================================
	// API ROUTES (authenticated)
	// ==========================================
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		// User
		api.PUT("/users/me/fcm-token", handlers.UpdateFCMToken)

		// Splits
		api.POST("/splits", handlers.CreateSplit)
		api.GET("/splits", handlers.ListSplits)
		api.GET("/splits/:id", handlers.GetSplit)
		api.PUT("/splits/:id", handlers.UpdateSplit)
		api.DELETE("/splits/:id", handlers.DeleteSplit)
		api.POST("/splits/:id/participants", handlers.AddParticipant)
		api.PUT("/splits/:id/participants/:uid/status", handlers.UpdateParticipantStatus)
		api.POST("/splits/:id/remind", handlers.SendReminders)
		api.POST("/splits/:id/reconcile", handlers.ReconcileSplit)

		// Escrow wallet
		api.POST("/splits/:id/wallet", handlers.CreateWallet)
		api.GET("/splits/:id/wallet", handlers.GetWallet)
		api.POST("/wallets/:id/lock", handlers.LockFunds)
		api.POST("/wallets/:id/release", handlers.ReleaseFunds)
		api.POST("/wallets/:id/refund", handlers.RefundWallet)

		// Balances & settlement
		api.GET("/splits/:id/balances", handlers.GetBalances)
		api.GET("/splits/:id/settlement-plan", handlers.GetSettlementPlan)
	}

	// Start server
	port := config.AppConfig.Port
	log.Printf("🚀 %s server starting on port %s", config.AppConfig.AppName, port)

	addr := "0.0.0.0:" + port
	log.Printf("🚀 Listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
