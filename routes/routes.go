package routes

import (
	"backoffice/controllers/admin"
	"backoffice/controllers/player"
	"backoffice/controllers/webhook"
	"backoffice/middlewares"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

type Deps struct {
	Admin         *admin.Handler
	Player        *player.Handler
	Webhook       *webhook.Handler
	Auth          *services.AuthService
	Servers       *services.ServerService
	WebhookSecret string
}

func Setup(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Post("/admin/login", d.Admin.Login)

	adminroutes := app.Group("/admin", middlewares.AdminAuth(d.Auth))
	super := middlewares.RequireRole(models.RoleSuper)

	adminroutes.Get("/servers", d.Admin.ListServers)
	adminroutes.Post("/servers", super, d.Admin.RegisterServer)

	adminroutes.Get("/prize/:server_id", d.Admin.GetPrize)
	adminroutes.Put("/prize/:server_id", super, d.Admin.UpdatePrize)
	adminroutes.Post("/prize/:server_id/contributions", d.Admin.AddContribution)
	adminroutes.Get("/prize/:server_id/summary", d.Admin.PrizeSummary)
	adminroutes.Get("/prize/:server_id/bands", d.Admin.ListBands)
	adminroutes.Post("/prize/:server_id/bands", d.Admin.CreateBand)
	adminroutes.Post("/prize/:server_id/bands/bulk", d.Admin.BulkCreateBands)
	adminroutes.Get("/bands/overlaps", d.Admin.BandOverlaps)
	adminroutes.Put("/bands/:id", d.Admin.UpdateBand)
	adminroutes.Delete("/bands/:id", d.Admin.DeleteBand)

	adminroutes.Get("/giftcodes", d.Admin.ListGiftCodes)
	adminroutes.Post("/giftcodes", d.Admin.CreateGiftCode)
	adminroutes.Get("/giftcodes/:id", d.Admin.GetGiftCode)
	adminroutes.Put("/giftcodes/:id", d.Admin.UpdateGiftCode)
	adminroutes.Post("/giftcodes/:id/deactivate", d.Admin.DeactivateGiftCode)
	adminroutes.Get("/giftcodes/:id/redemptions", d.Admin.ListGiftCodeRedemptions)

	adminroutes.Get("/shop/items", d.Admin.ListShopItems)
	adminroutes.Post("/shop/items", d.Admin.CreateShopItem)
	adminroutes.Put("/shop/items/:id", d.Admin.UpdateShopItem)
	adminroutes.Post("/shop/items/:id/deactivate", d.Admin.DeactivateShopItem)

	adminroutes.Get("/purchases", d.Admin.ListPurchases)
	adminroutes.Post("/purchases/:ref/refund", super, d.Admin.RefundPurchase)
	adminroutes.Post("/purchases/:ref/reconcile", super, d.Admin.ReconcilePurchase)

	adminroutes.Get("/payments/packages", d.Admin.ListPaymentPackages)
	adminroutes.Post("/payments/packages", d.Admin.CreatePaymentPackage)

	playerroutes := app.Group("/player", middlewares.ServerAuth(d.Servers))
	playerroutes.Post("/giftcodes/redeem", d.Player.RedeemGiftCode)
	playerroutes.Get("/balance", d.Player.Balance)
	playerroutes.Get("/shop/items", d.Player.ListShopItems)
	playerroutes.Post("/shop/purchase", d.Player.Purchase)
	playerroutes.Get("/purchases", d.Player.ListPurchases)
	playerroutes.Get("/payments/packages", d.Player.ListPaymentPackages)
	playerroutes.Post("/payments/orders", d.Player.CreatePaymentOrder)
	playerroutes.Get("/prize/summary", d.Player.PrizeSummary)

	app.Post("/webhooks/payment", middlewares.WebhookSignature(d.WebhookSecret), d.Webhook.Payment)
}
