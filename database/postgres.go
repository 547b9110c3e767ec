package database

import (
	"log"

	"splitpay-backend/config"
	"splitpay-backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect() {
	var err error
	DB, err = gorm.Open(postgres.Open(config.AppConfig.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	log.Println("✅ Database connected successfully")

	// Auto-migrate all models
	err = DB.AutoMigrate(
		&models.User{},
		&models.Split{},
		&models.SplitParticipant{},
		&models.SplitItem{},
		&models.SplitWallet{},
		&models.WalletLock{},
		&models.Activity{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	log.Println("✅ Database migrated successfully")
}
