package player

import "backoffice/services"

// Handler serves game servers acting for their players. The calling server
// comes from middlewares.ServerAuth; the player is named by user_id.
type Handler struct {
	Wallet     *services.WalletService
	Redemption *services.RedemptionService
	Shop       *services.ShopService
	Purchases  *services.PurchaseService
	Payments   *services.PaymentService
	Prize      *services.PrizePoolService
}
