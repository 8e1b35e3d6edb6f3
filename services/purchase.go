package services

import (
	"context"
	"strings"
	"time"

	"backoffice/models"
	"backoffice/providers"

	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultRefundBackoff = 200 * time.Millisecond

type PurchaseRequest struct {
	UserID         string `json:"user_id"`
	ServerID       uint   `json:"server_id"`
	ItemRef        string `json:"item_ref"`
	IdempotencyKey string `json:"idempotency_key"`
}

type PurchaseFilter struct {
	UserID              string
	Status              models.PurchaseStatus
	NeedsReconciliation *bool
}

type PurchaseOptions struct {
	RefundAttempts int
	RefundBackoff  time.Duration
}

type PurchaseService struct {
	db        *gorm.DB
	wallet    *WalletService
	prize     *PrizePoolService
	fulfiller providers.Fulfiller
	opts      PurchaseOptions
	now       func() time.Time
}

func NewPurchaseService(db *gorm.DB, wallet *WalletService, prize *PrizePoolService, fulfiller providers.Fulfiller, opts PurchaseOptions) *PurchaseService {
	if opts.RefundAttempts < 1 {
		opts.RefundAttempts = 1
	}
	return &PurchaseService{
		db:        db,
		wallet:    wallet,
		prize:     prize,
		fulfiller: fulfiller,
		opts:      opts,
		now:       time.Now,
	}
}

// Purchase buys req.ItemRef for tokens. The debit and the purchase row commit
// together; a failed delivery is compensated by crediting the price back.
// Repeating a delivered purchase with the same idempotency key returns the
// stored purchase without charging again.
func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*models.TokenPurchase, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ItemRef = strings.TrimSpace(req.ItemRef)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.UserID == "" || req.ItemRef == "" {
		return nil, newError(KindInvalidArgument, "user_id and item_ref are required")
	}
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > 64 {
		return nil, newError(KindInvalidArgument, "idempotency_key must be 1-64 characters")
	}

	if existing, err := s.findByRef(ctx, req.IdempotencyKey); err == nil {
		return replay(existing, req)
	} else if !IsKind(err, KindNotFound) {
		return nil, err
	}

	var item models.ShopItem
	err := s.db.WithContext(ctx).Where("item_ref = ? AND active = ?", req.ItemRef, true).First(&item).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "shop item %s not found", req.ItemRef)
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkLimits(s.db.WithContext(ctx), req.UserID, &item); err != nil {
		return nil, err
	}

	balance, err := s.wallet.GetBalance(ctx, req.UserID, models.TokenCurrency)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(item.PriceTokens) {
		return nil, newError(KindInsufficientFunds, "insufficient token balance")
	}

	purchase := models.TokenPurchase{
		TransactionRef: req.IdempotencyKey,
		UserID:         req.UserID,
		ServerID:       req.ServerID,
		ShopItemID:     item.ID,
		ItemRef:        item.ItemRef,
		PriceTokens:    item.PriceTokens,
		Reward:         item.Reward,
		Status:         models.PurchasePending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if item.MaxTotal != nil || item.DailyMax != nil {
			// serialize capped purchases of the item so the counts below are current
			var locked models.ShopItem
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, item.ID).Error; err != nil {
				return err
			}
			if err := s.checkLimits(tx, req.UserID, &locked); err != nil {
				return err
			}
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}
		var err error
		purchase.BalanceAfter, err = s.wallet.Adjust(tx, Adjustment{
			UserID:   req.UserID,
			Currency: models.TokenCurrency,
			Delta:    item.PriceTokens.Neg(),
			TrxType:  "shop_purchase",
			Note:     item.ItemRef,
			RefID:    purchase.TransactionRef,
		})
		if err != nil {
			return err
		}
		return transition(tx, &purchase, models.PurchaseDebited, map[string]any{"balance_after": purchase.BalanceAfter})
	})
	if err != nil {
		if isDuplicateKey(err) {
			// lost a race on the same key
			existing, ferr := s.findByRef(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			return replay(existing, req)
		}
		return nil, err
	}
	purchase.Status = models.PurchaseDebited

	// the debit is committed; the outcome must be settled even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	if err := s.fulfiller.Deliver(ctx, delivery(&purchase, item.Kind)); err != nil {
		slog.Warn("purchase delivery failed", "ref", purchase.TransactionRef, "error", err)
		return nil, s.compensate(ctx, &purchase, err)
	}

	if err := s.markDelivered(ctx, &purchase); err != nil {
		return nil, err
	}
	s.afterDelivery(ctx, &purchase)
	return &purchase, nil
}

func replay(p *models.TokenPurchase, req PurchaseRequest) (*models.TokenPurchase, error) {
	if p.UserID != req.UserID || p.ItemRef != req.ItemRef {
		return nil, newError(KindConflict, "idempotency key %s was used for a different purchase", p.TransactionRef)
	}
	switch p.Status {
	case models.PurchaseDelivered:
		return p, nil
	case models.PurchaseFailed:
		return nil, newError(KindUpstreamFailure, "purchase %s failed and its tokens were returned", p.TransactionRef)
	case models.PurchaseRefunded:
		return nil, newError(KindInvalidState, "purchase %s was refunded", p.TransactionRef)
	default:
		return nil, newError(KindConflict, "purchase %s is still %s", p.TransactionRef, p.Status)
	}
}

func delivery(p *models.TokenPurchase, kind string) providers.Delivery {
	return providers.Delivery{
		UserID:      p.UserID,
		ServerID:    p.ServerID,
		ItemRef:     p.ItemRef,
		Kind:        kind,
		Reward:      p.Reward.Data(),
		ReferenceID: p.TransactionRef,
	}
}

// checkLimits counts purchases that still hold the user's tokens.
func (s *PurchaseService) checkLimits(db *gorm.DB, userID string, item *models.ShopItem) error {
	if item.MaxTotal == nil && item.DailyMax == nil {
		return nil
	}
	holding := []models.PurchaseStatus{models.PurchaseDebited, models.PurchaseDelivered}
	base := db.Model(&models.TokenPurchase{}).
		Where("user_id = ? AND shop_item_id = ? AND status IN ?", userID, item.ID, holding).
		Session(&gorm.Session{})

	if item.MaxTotal != nil {
		var total int64
		if err := base.Count(&total).Error; err != nil {
			return err
		}
		if total >= int64(*item.MaxTotal) {
			return newError(KindLimitExceeded, "purchase limit of %d reached for %s", *item.MaxTotal, item.ItemRef)
		}
	}
	if item.DailyMax != nil {
		now := s.now().UTC()
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		var today int64
		if err := base.Where("created_at >= ?", startOfDay).Count(&today).Error; err != nil {
			return err
		}
		if today >= int64(*item.DailyMax) {
			return newError(KindLimitExceeded, "daily purchase limit of %d reached for %s", *item.DailyMax, item.ItemRef)
		}
	}
	return nil
}

// transition moves p from its current status to to, only if the stored row
// is still in that status. p is not modified.
func transition(tx *gorm.DB, p *models.TokenPurchase, to models.PurchaseStatus, fields map[string]any) error {
	if !p.Status.CanTransition(to) {
		return newError(KindInvalidState, "purchase %s cannot move from %s to %s", p.TransactionRef, p.Status, to)
	}
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&models.TokenPurchase{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(KindInvalidState, "purchase %s is no longer %s", p.TransactionRef, p.Status)
	}
	return nil
}

// compensate credits the price back and marks p failed. When the credit
// cannot be applied p stays debited and is flagged for reconciliation.
func (s *PurchaseService) compensate(ctx context.Context, p *models.TokenPurchase, cause error) error {
	reason := truncate(cause.Error(), 255)
	var lastErr error
	for attempt := 1; attempt <= s.opts.RefundAttempts; attempt++ {
		if attempt > 1 && s.opts.RefundBackoff > 0 {
			time.Sleep(s.opts.RefundBackoff * time.Duration(attempt-1))
		}
		lastErr = s.creditBack(ctx, p, models.PurchaseFailed, "shop_compensation", map[string]any{
			"failure_reason":       reason,
			"needs_reconciliation": false,
		})
		if lastErr == nil {
			p.Status = models.PurchaseFailed
			p.FailureReason = reason
			p.NeedsReconciliation = false
			slog.Info("purchase compensated", "ref", p.TransactionRef, "user", p.UserID, "amount", p.PriceTokens.String())
			return wrapError(KindUpstreamFailure, cause, "delivery failed; %s tokens were returned", p.PriceTokens.String())
		}
		if IsKind(lastErr, KindInvalidState) {
			break
		}
		slog.Warn("purchase compensation attempt failed", "ref", p.TransactionRef, "attempt", attempt, "error", lastErr)
	}

	p.NeedsReconciliation = true
	p.FailureReason = reason
	if err := s.db.WithContext(ctx).Model(&models.TokenPurchase{}).
		Where("id = ? AND status = ?", p.ID, models.PurchaseDebited).
		Updates(map[string]any{"needs_reconciliation": true, "failure_reason": reason}).Error; err != nil {
		slog.Error("failed to flag purchase for reconciliation", "ref", p.TransactionRef, "error", err)
	}
	slog.Error("purchase needs reconciliation", "ref", p.TransactionRef, "user", p.UserID,
		"amount", p.PriceTokens.String(), "error", lastErr)
	return wrapError(KindUpstreamFailure, cause, "delivery failed; refund is pending reconciliation")
}

// creditBack moves a debited or delivered purchase to to and returns the
// price to the token wallet in one transaction.
func (s *PurchaseService) creditBack(ctx context.Context, p *models.TokenPurchase, to models.PurchaseStatus, trxType string, fields map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, p, to, fields); err != nil {
			return err
		}
		_, err := s.wallet.Adjust(tx, Adjustment{
			UserID:   p.UserID,
			Currency: models.TokenCurrency,
			Delta:    p.PriceTokens,
			TrxType:  trxType,
			Note:     p.ItemRef,
			RefID:    p.TransactionRef,
		})
		return err
	})
}

func (s *PurchaseService) markDelivered(ctx context.Context, p *models.TokenPurchase) error {
	now := s.now()
	fields := map[string]any{"delivered_at": now, "needs_reconciliation": false}
	var err error
	for attempt := 1; attempt <= s.opts.RefundAttempts; attempt++ {
		if err = transition(s.db.WithContext(ctx), p, models.PurchaseDelivered, fields); err == nil {
			p.Status = models.PurchaseDelivered
			p.DeliveredAt = &now
			p.NeedsReconciliation = false
			return nil
		}
		if IsKind(err, KindInvalidState) {
			return err
		}
	}
	// delivered upstream but not recorded; reconciliation redelivers by reference
	if ferr := s.db.WithContext(ctx).Model(&models.TokenPurchase{}).
		Where("id = ?", p.ID).Update("needs_reconciliation", true).Error; ferr != nil {
		slog.Error("failed to flag purchase for reconciliation", "ref", p.TransactionRef, "error", ferr)
	}
	slog.Error("delivered purchase could not be recorded", "ref", p.TransactionRef, "error", err)
	return err
}

// afterDelivery updates counters. Failures here never undo a delivery.
func (s *PurchaseService) afterDelivery(ctx context.Context, p *models.TokenPurchase) {
	if err := s.db.WithContext(ctx).Model(&models.ShopItem{}).
		Where("id = ?", p.ShopItemID).
		Update("sold_count", gorm.Expr("sold_count + 1")).Error; err != nil {
		slog.Warn("failed to bump sold count", "item", p.ItemRef, "error", err)
	}

	if s.prize == nil || p.ServerID == 0 {
		return
	}
	if _, err := s.prize.IncreaseContribution(ctx, p.ServerID, p.PriceTokens); err != nil {
		slog.Warn("prize contribution failed, queued for retry", "ref", p.TransactionRef, "server", p.ServerID, "error", err)
		if qerr := s.prize.QueueContribution(ctx, p.ServerID, p.PriceTokens, p.TransactionRef, err.Error()); qerr != nil {
			slog.Error("failed to queue prize contribution", "ref", p.TransactionRef, "error", qerr)
		}
	}
}

// Refund reverses a delivered purchase and credits exactly its price back.
func (s *PurchaseService) Refund(ctx context.Context, ref string, adminID uint) (*models.TokenPurchase, error) {
	var p models.TokenPurchase
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("transaction_ref = ?", ref).First(&p).Error
		if isNotFound(err) {
			return newError(KindNotFound, "purchase %s not found", ref)
		}
		if err != nil {
			return err
		}
		if err := transition(tx, &p, models.PurchaseRefunded, map[string]any{
			"refunded_at": now,
			"refunded_by": adminID,
		}); err != nil {
			return err
		}
		_, err = s.wallet.Adjust(tx, Adjustment{
			UserID:   p.UserID,
			Currency: models.TokenCurrency,
			Delta:    p.PriceTokens,
			TrxType:  "shop_refund",
			Note:     p.ItemRef,
			RefID:    p.TransactionRef,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Status = models.PurchaseRefunded
	p.RefundedAt = &now
	p.RefundedBy = &adminID
	slog.Info("purchase refunded", "ref", ref, "admin", adminID, "amount", p.PriceTokens.String())
	return &p, nil
}

// Reconcile settles a purchase stuck in debited. Delivery is retried by
// reference first; if it still fails the price is credited back.
func (s *PurchaseService) Reconcile(ctx context.Context, ref string) (*models.TokenPurchase, error) {
	p, err := s.findByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PurchaseDebited {
		return nil, newError(KindInvalidState, "purchase %s is %s, not debited", ref, p.Status)
	}
	if !p.NeedsReconciliation {
		return nil, newError(KindInvalidState, "purchase %s is still in progress", ref)
	}

	var item models.ShopItem
	kind := models.ShopItemReward
	if err := s.db.WithContext(ctx).Unscoped().First(&item, p.ShopItemID).Error; err == nil {
		kind = item.Kind
	}

	derr := s.fulfiller.Deliver(ctx, delivery(p, kind))
	if derr == nil {
		if err := s.markDelivered(ctx, p); err != nil {
			return nil, err
		}
		s.afterDelivery(ctx, p)
		slog.Info("purchase reconciled as delivered", "ref", ref)
		return p, nil
	}
	if err := s.compensate(ctx, p, derr); p.Status != models.PurchaseFailed {
		return nil, err
	}
	slog.Info("purchase reconciled as failed", "ref", ref)
	return p, nil
}

func (s *PurchaseService) findByRef(ctx context.Context, ref string) (*models.TokenPurchase, error) {
	var p models.TokenPurchase
	err := s.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&p).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "purchase %s not found", ref)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PurchaseService) GetPurchase(ctx context.Context, ref string) (*models.TokenPurchase, error) {
	return s.findByRef(ctx, ref)
}

func (s *PurchaseService) ListPurchases(ctx context.Context, f PurchaseFilter, limit, offset int) ([]models.TokenPurchase, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.TokenPurchase{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.NeedsReconciliation != nil {
		q = q.Where("needs_reconciliation = ?", *f.NeedsReconciliation)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	purchases := []models.TokenPurchase{}
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&purchases).Error
	return purchases, total, err
}
