package admin

import "backoffice/services"

type Handler struct {
	Auth       *services.AuthService
	Servers    *services.ServerService
	Prize      *services.PrizePoolService
	Redemption *services.RedemptionService
	Shop       *services.ShopService
	Purchases  *services.PurchaseService
	Payments   *services.PaymentService
}
