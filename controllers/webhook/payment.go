package webhook

import (
	"log"

	"backoffice/helpers"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

type PaymentEvent struct {
	OrderRef    string `json:"order_ref"`
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
}

type Handler struct {
	Payments *services.PaymentService
}

// Payment settles orders reported paid by the payment processor. Events with
// any other status are acknowledged and ignored.
func (h *Handler) Payment(c *fiber.Ctx) error {
	var event PaymentEvent
	if err := c.BodyParser(&event); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if event.Status != "paid" {
		log.Printf("ℹ️ payment webhook ignored: order=%s status=%s", event.OrderRef, event.Status)
		return helpers.JSONSuccess(c, "Event ignored", nil)
	}

	order, err := h.Payments.MarkPaid(c.UserContext(), event.OrderRef, event.ExternalRef)
	if err != nil {
		log.Printf("❌ payment webhook failed: order=%s err=%v", event.OrderRef, err)
		return helpers.JSONFail(c, err)
	}
	log.Printf("✅ payment webhook settled order %s", order.OrderRef)
	return helpers.JSONSuccess(c, "Order settled", order)
}
