package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"backoffice/cache"
	"backoffice/config"
	"backoffice/controllers/admin"
	"backoffice/controllers/player"
	"backoffice/controllers/webhook"
	"backoffice/database"
	"backoffice/jobs"
	"backoffice/models"
	"backoffice/providers"
	"backoffice/routes"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file loaded, using environment")
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET not set")
	}

	database.Connect(cfg)
	db := database.DB

	var summaryCache services.SummaryCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("⚠️  Redis unavailable, prize summary cache disabled: %v", err)
		} else {
			summaryCache = cache.NewSummaryStorage(rdb, cfg.SummaryCacheTTL)
			log.Println("✅ Connected to redis")
		}
	}

	fulfillers := providers.NewRegistry()
	fulfillers.Register(models.ShopItemReward, providers.NewGameMail(cfg.FulfillmentURL, "/mail/rewards", cfg.FulfillmentSecret, cfg.FulfillmentTimeout))
	fulfillers.Register(models.ShopItemPacket, providers.NewGameMail(cfg.FulfillmentURL, "/mail/packets", cfg.FulfillmentSecret, cfg.FulfillmentTimeout))

	wallet := services.NewWalletService(db)
	prize := services.NewPrizePoolService(db, summaryCache)
	redemption := services.NewRedemptionService(db, wallet)
	shop := services.NewShopService(db)
	purchases := services.NewPurchaseService(db, wallet, prize, fulfillers, services.PurchaseOptions{
		RefundAttempts: cfg.RefundRetryAttempts,
		RefundBackoff:  services.DefaultRefundBackoff,
	})
	payments := services.NewPaymentService(db, wallet)
	auth := services.NewAuthService(db, cfg.JWTSecret, cfg.JWTTTL)
	servers := services.NewServerService(db, prize)

	if created, err := auth.Bootstrap(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("❌ Failed to bootstrap admin: %v", err)
	} else if created {
		log.Printf("✅ Bootstrap admin %s created", cfg.AdminUsername)
	}

	app := fiber.New(fiber.Config{AppName: "backoffice"})
	app.Use(recover.New())
	app.Use(logger.New())

	routes.Setup(app, routes.Deps{
		Admin: &admin.Handler{
			Auth:       auth,
			Servers:    servers,
			Prize:      prize,
			Redemption: redemption,
			Shop:       shop,
			Purchases:  purchases,
			Payments:   payments,
		},
		Player: &player.Handler{
			Wallet:     wallet,
			Redemption: redemption,
			Shop:       shop,
			Purchases:  purchases,
			Payments:   payments,
			Prize:      prize,
		},
		Webhook:       &webhook.Handler{Payments: payments},
		Auth:          auth,
		Servers:       servers,
		WebhookSecret: cfg.PaymentWebhookSecret,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	jobs.StartScheduler(ctx, db, prize, redemption, cfg.ReconcileInterval)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	log.Println("Server running at", addr)

	go func() {
		if err := app.Listen(addr); err != nil {
			log.Panicf("Failed to start server: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Gracefully shutting down...")
	stop()
	if err := app.Shutdown(); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited cleanly")
}
