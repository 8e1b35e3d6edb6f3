package database

import (
	"fmt"
	"log"

	"backoffice/config"
	"backoffice/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "mysql":
		port := cfg.DBPort
		if port == "" {
			port = "3306"
		}
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, port, cfg.DBName,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		port := cfg.DBPort
		if port == "" {
			port = "5432"
		}
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, port, cfg.DBSSLMode,
		)
		return postgres.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

func Connect(cfg *config.Config) {
	d, err := dialector(cfg)
	if err != nil {
		log.Fatal("❌ ", err)
	}

	db, err := gorm.Open(d, &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("❌ Failed to connect to database:", err)
	}

	DB = db
	log.Printf("✅ Connected to %s database", cfg.DBDriver)

	if cfg.DBAutoMigrate {
		log.Println("🟡 Starting auto-migration...")
		if err := Migrate(DB); err != nil {
			log.Fatal("❌ Failed to auto-migrate database:", err)
		}
		log.Println("✅ Auto migration completed")
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Admin{},
		&models.GameServer{},
		&models.PrizeSetting{},
		&models.PrizeRankBand{},
		&models.PendingContribution{},
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.InventoryItem{},
		&models.RedeemableCode{},
		&models.RedemptionRecord{},
		&models.ShopItem{},
		&models.TokenPurchase{},
		&models.PaymentPackage{},
		&models.PaymentOrder{},
	)
}
