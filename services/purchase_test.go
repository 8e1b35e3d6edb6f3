package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"backoffice/models"
	"backoffice/providers"

	"gorm.io/gorm"
)

type purchaseFixture struct {
	db        *gorm.DB
	wallet    *WalletService
	prize     *PrizePoolService
	shop      *ShopService
	purchases *PurchaseService
	ful       *fakeFulfiller
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	db := newTestDB(t)
	f := &purchaseFixture{
		db:     db,
		wallet: NewWalletService(db),
		prize:  NewPrizePoolService(db, nil),
		shop:   NewShopService(db),
		ful:    &fakeFulfiller{},
	}
	f.purchases = NewPurchaseService(db, f.wallet, f.prize, f.ful, PurchaseOptions{RefundAttempts: 3})
	seedSetting(t, db, 1, "0", "10")
	return f
}

func (f *purchaseFixture) item(t *testing.T, in ShopItemInput) *models.ShopItem {
	t.Helper()
	if in.Reward.Kind == "" {
		in.Reward = models.Reward{Kind: models.RewardItem, ItemID: "sword", Quantity: 1}
	}
	if in.Name == "" {
		in.Name = in.ItemRef
	}
	item, err := f.shop.CreateItem(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func (f *purchaseFixture) balance(t *testing.T, user string) string {
	t.Helper()
	bal, err := f.wallet.GetBalance(context.Background(), user, models.TokenCurrency)
	if err != nil {
		t.Fatal(err)
	}
	return bal.String()
}

func buy(f *purchaseFixture, user, itemRef, key string) (*models.TokenPurchase, error) {
	return f.purchases.Purchase(context.Background(), PurchaseRequest{
		UserID:         user,
		ServerID:       1,
		ItemRef:        itemRef,
		IdempotencyKey: key,
	})
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("150")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")

	_, err := buy(f, "u1", "sword", "k1")
	assertKind(t, err, KindInsufficientFunds)

	if got := f.balance(t, "u1"); got != "100" {
		t.Errorf("balance = %s, want 100", got)
	}
	var n int64
	f.db.Model(&models.TokenPurchase{}).Count(&n)
	if n != 0 {
		t.Errorf("purchase rows = %d, want 0", n)
	}
	if f.ful.count() != 0 {
		t.Error("fulfiller was called")
	}
}

func TestPurchase_Delivered(t *testing.T) {
	f := newPurchaseFixture(t)
	item := f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("150")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "200")

	p, err := buy(f, "u1", "sword", "k1")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if p.Status != models.PurchaseDelivered || p.DeliveredAt == nil {
		t.Errorf("status = %s delivered_at = %v", p.Status, p.DeliveredAt)
	}
	assertDec(t, "balance_after", p.BalanceAfter, "50")
	if got := f.balance(t, "u1"); got != "50" {
		t.Errorf("balance = %s, want 50", got)
	}

	if f.ful.count() != 1 || f.ful.deliveries[0].ReferenceID != "k1" || f.ful.deliveries[0].Kind != models.ShopItemReward {
		t.Errorf("deliveries = %+v", f.ful.deliveries)
	}

	stored, _ := f.shop.GetItem(context.Background(), item.ID)
	if stored.SoldCount != 1 {
		t.Errorf("sold_count = %d, want 1", stored.SoldCount)
	}

	setting, _ := f.prize.GetSetting(context.Background(), 1)
	assertDec(t, "total_contributions", setting.TotalContributions, "150")
	assertDec(t, "addon_prize", setting.AddonPrize, "15")
}

func TestPurchase_ReplayDelivered(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("50")})
	f.item(t, ShopItemInput{ItemRef: "shield", PriceTokens: dec("50")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "200")

	first, err := buy(f, "u1", "sword", "same-key")
	if err != nil {
		t.Fatal(err)
	}
	again, err := buy(f, "u1", "sword", "same-key")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.ID != first.ID || again.Status != models.PurchaseDelivered || !again.BalanceAfter.Equal(first.BalanceAfter) {
		t.Errorf("replay = %+v, want %+v", again, first)
	}
	if got := f.balance(t, "u1"); got != "150" {
		t.Errorf("balance = %s, want 150", got)
	}
	if f.ful.count() != 1 {
		t.Errorf("deliveries = %d, want 1", f.ful.count())
	}

	_, err = buy(f, "u1", "shield", "same-key")
	assertKind(t, err, KindConflict)
	_, err = buy(f, "u2", "sword", "same-key")
	assertKind(t, err, KindConflict)
}

func TestPurchase_DeliveryFailureRestoresBalance(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("150")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "200")
	f.ful.fail(errors.New("mail service down"))

	_, err := buy(f, "u1", "sword", "k1")
	assertKind(t, err, KindUpstreamFailure)

	if got := f.balance(t, "u1"); got != "200" {
		t.Errorf("balance = %s, want 200", got)
	}
	p, _ := f.purchases.GetPurchase(context.Background(), "k1")
	if p.Status != models.PurchaseFailed || p.NeedsReconciliation || p.FailureReason == "" {
		t.Errorf("purchase = status %s reconcile %v reason %q", p.Status, p.NeedsReconciliation, p.FailureReason)
	}

	var trx []models.WalletTransaction
	f.db.Where("ref_id = ?", "k1").Order("id asc").Find(&trx)
	if len(trx) != 2 || trx[0].TrxType != "shop_purchase" || trx[1].TrxType != "shop_compensation" {
		t.Errorf("ledger = %+v", trx)
	}

	_, err = buy(f, "u1", "sword", "k1")
	assertKind(t, err, KindUpstreamFailure)

	setting, _ := f.prize.GetSetting(context.Background(), 1)
	assertDec(t, "total_contributions", setting.TotalContributions, "0")
}

func TestPurchase_Limits(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "once", PriceTokens: dec("10"), MaxTotal: intPtr(1)})
	f.item(t, ShopItemInput{ItemRef: "daily", PriceTokens: dec("10"), DailyMax: intPtr(2)})
	fund(t, f.wallet, "u1", models.TokenCurrency, "1000")

	if _, err := buy(f, "u1", "once", "o1"); err != nil {
		t.Fatal(err)
	}
	_, err := buy(f, "u1", "once", "o2")
	assertKind(t, err, KindLimitExceeded)

	// caps are per user
	fund(t, f.wallet, "u2", models.TokenCurrency, "10")
	if _, err := buy(f, "u2", "once", "o3"); err != nil {
		t.Fatalf("other user: %v", err)
	}

	// failed purchases do not use up the cap
	f.ful.fail(errors.New("down"))
	_, err = buy(f, "u1", "daily", "d0")
	assertKind(t, err, KindUpstreamFailure)
	f.ful.fail(nil)

	for _, key := range []string{"d1", "d2"} {
		if _, err := buy(f, "u1", "daily", key); err != nil {
			t.Fatalf("%s: %v", key, err)
		}
	}
	_, err = buy(f, "u1", "daily", "d3")
	assertKind(t, err, KindLimitExceeded)
}

func TestPurchase_InvalidInput(t *testing.T) {
	f := newPurchaseFixture(t)
	item := f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("10")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")

	_, err := buy(f, "u1", "sword", "")
	assertKind(t, err, KindInvalidArgument)
	_, err = buy(f, "", "sword", "k")
	assertKind(t, err, KindInvalidArgument)
	_, err = buy(f, "u1", "ghost", "k")
	assertKind(t, err, KindNotFound)

	if _, err := f.shop.DeactivateItem(context.Background(), item.ID); err != nil {
		t.Fatal(err)
	}
	_, err = buy(f, "u1", "sword", "k")
	assertKind(t, err, KindNotFound)
}

func TestRefund(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("40")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")
	ctx := context.Background()

	if _, err := buy(f, "u1", "sword", "k1"); err != nil {
		t.Fatal(err)
	}
	p, err := f.purchases.Refund(ctx, "k1", 7)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if p.Status != models.PurchaseRefunded || p.RefundedBy == nil || *p.RefundedBy != 7 {
		t.Errorf("refunded purchase = %+v", p)
	}
	if got := f.balance(t, "u1"); got != "100" {
		t.Errorf("balance = %s, want 100", got)
	}

	_, err = f.purchases.Refund(ctx, "k1", 7)
	assertKind(t, err, KindInvalidState)
	if got := f.balance(t, "u1"); got != "100" {
		t.Errorf("balance after second refund = %s, want 100", got)
	}

	_, err = buy(f, "u1", "sword", "k1")
	assertKind(t, err, KindInvalidState)

	f.ful.fail(errors.New("down"))
	buy(f, "u1", "sword", "k2")
	_, err = f.purchases.Refund(ctx, "k2", 7)
	assertKind(t, err, KindInvalidState)

	_, err = f.purchases.Refund(ctx, "missing", 7)
	assertKind(t, err, KindNotFound)
}

// failUpdates makes every UPDATE on table fail while on is set.
func failUpdates(t *testing.T, db *gorm.DB, table string, on *atomic.Bool) {
	t.Helper()
	err := db.Callback().Update().Before("gorm:update").Register("test:fail_"+table, func(tx *gorm.DB) {
		if on.Load() && tx.Statement.Table == table {
			tx.AddError(errors.New(table + " store unavailable"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

type hookFulfiller struct {
	fakeFulfiller
	before func()
}

func (h *hookFulfiller) Deliver(ctx context.Context, d providers.Delivery) error {
	if h.before != nil {
		h.before()
	}
	return h.fakeFulfiller.Deliver(ctx, d)
}

func TestPurchase_CompensationFailureNeedsReconciliation(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("60")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")
	ctx := context.Background()

	var walletDown atomic.Bool
	failUpdates(t, f.db, "wallets", &walletDown)
	hook := &hookFulfiller{before: func() { walletDown.Store(true) }}
	hook.fail(errors.New("mail service down"))
	f.purchases.fulfiller = hook

	_, err := buy(f, "u1", "sword", "k1")
	assertKind(t, err, KindUpstreamFailure)

	p, _ := f.purchases.GetPurchase(ctx, "k1")
	if p.Status != models.PurchaseDebited || !p.NeedsReconciliation {
		t.Fatalf("purchase = status %s reconcile %v, want debited true", p.Status, p.NeedsReconciliation)
	}
	walletDown.Store(false)
	if got := f.balance(t, "u1"); got != "40" {
		t.Errorf("balance = %s, want 40", got)
	}

	flagged := true
	list, total, err := f.purchases.ListPurchases(ctx, PurchaseFilter{NeedsReconciliation: &flagged}, 10, 0)
	if err != nil || total != 1 || list[0].TransactionRef != "k1" {
		t.Errorf("flagged purchases = %d %v", total, err)
	}

	// delivery still failing: reconciliation returns the tokens
	hook.before = nil
	p, err = f.purchases.Reconcile(ctx, "k1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if p.Status != models.PurchaseFailed || p.NeedsReconciliation {
		t.Errorf("reconciled = status %s reconcile %v", p.Status, p.NeedsReconciliation)
	}
	if got := f.balance(t, "u1"); got != "100" {
		t.Errorf("balance after reconcile = %s, want 100", got)
	}

	_, err = f.purchases.Reconcile(ctx, "k1")
	assertKind(t, err, KindInvalidState)
}

func TestReconcile_Redelivers(t *testing.T) {
	f := newPurchaseFixture(t)
	item := f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("60"), Kind: models.ShopItemPacket})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")
	ctx := context.Background()

	var walletDown atomic.Bool
	failUpdates(t, f.db, "wallets", &walletDown)
	hook := &hookFulfiller{before: func() { walletDown.Store(true) }}
	hook.fail(errors.New("timeout"))
	f.purchases.fulfiller = hook

	buy(f, "u1", "sword", "k1")
	walletDown.Store(false)

	hook.before = nil
	hook.fail(nil)
	p, err := f.purchases.Reconcile(ctx, "k1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if p.Status != models.PurchaseDelivered {
		t.Errorf("status = %s, want delivered", p.Status)
	}
	if got := f.balance(t, "u1"); got != "40" {
		t.Errorf("balance = %s, want 40", got)
	}
	last := hook.deliveries[len(hook.deliveries)-1]
	if last.ReferenceID != "k1" || last.Kind != models.ShopItemPacket {
		t.Errorf("redelivery = %+v", last)
	}
	stored, _ := f.shop.GetItem(ctx, item.ID)
	if stored.SoldCount != 1 {
		t.Errorf("sold_count = %d, want 1", stored.SoldCount)
	}
}

func TestReconcile_RejectsInFlight(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("10")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")
	if _, err := buy(f, "u1", "sword", "k1"); err != nil {
		t.Fatal(err)
	}
	f.db.Model(&models.TokenPurchase{}).Where("transaction_ref = ?", "k1").Update("status", models.PurchaseDebited)

	_, err := f.purchases.Reconcile(context.Background(), "k1")
	assertKind(t, err, KindInvalidState)
	_, err = f.purchases.Reconcile(context.Background(), "nope")
	assertKind(t, err, KindNotFound)
}

func TestPurchase_ContributionQueuedWhenPoolMissing(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("30")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")

	p, err := f.purchases.Purchase(context.Background(), PurchaseRequest{
		UserID: "u1", ServerID: 2, ItemRef: "sword", IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if p.Status != models.PurchaseDelivered {
		t.Errorf("status = %s", p.Status)
	}

	var queued models.PendingContribution
	if err := f.db.Where("source_ref = ?", "k1").First(&queued).Error; err != nil {
		t.Fatalf("queued contribution: %v", err)
	}
	if queued.ServerID != 2 || !queued.Amount.Equal(dec("30")) || queued.Done {
		t.Errorf("queued = %+v", queued)
	}
}

func TestListPurchases(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("10")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")
	fund(t, f.wallet, "u2", models.TokenCurrency, "100")
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if _, err := buy(f, "u1", "sword", "u1-"+k); err != nil {
			t.Fatal(err)
		}
	}
	buy(f, "u2", "sword", "u2-a")
	f.ful.fail(errors.New("down"))
	buy(f, "u2", "sword", "u2-b")

	list, total, err := f.purchases.ListPurchases(ctx, PurchaseFilter{UserID: "u1"}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 2 || list[0].TransactionRef != "u1-c" {
		t.Errorf("u1 page = total %d len %d", total, len(list))
	}

	_, total, _ = f.purchases.ListPurchases(ctx, PurchaseFilter{Status: models.PurchaseFailed}, 10, 0)
	if total != 1 {
		t.Errorf("failed total = %d, want 1", total)
	}
}

func TestPurchase_CapConcurrent(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "once", PriceTokens: dec("10"), MaxTotal: intPtr(1)})
	fund(t, f.wallet, "u1", models.TokenCurrency, "1000")

	// widen the gap between counting and inserting
	err := f.db.Callback().Query().After("gorm:query").Register("test:slow_purchase_reads", func(tx *gorm.DB) {
		if tx.Statement.Table == "token_purchases" {
			time.Sleep(5 * time.Millisecond)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = buy(f, "u1", "once", fmt.Sprintf("k-%d", i))
		}(i)
	}
	wg.Wait()

	delivered := 0
	for _, err := range errs {
		switch {
		case err == nil:
			delivered++
		case IsKind(err, KindLimitExceeded):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if got := f.balance(t, "u1"); got != "990" {
		t.Errorf("balance = %s, want 990", got)
	}
	if f.ful.count() != 1 {
		t.Errorf("deliveries = %d, want 1", f.ful.count())
	}
}

func TestPurchase_SameKeyConcurrent(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("10")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "1000")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.TokenPurchase, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = buy(f, "u1", "sword", "same-key")
		}(i)
	}
	wg.Wait()

	var id uint
	for i, err := range errs {
		switch {
		case err == nil:
			if id != 0 && results[i].ID != id {
				t.Errorf("purchase ids differ: %d and %d", id, results[i].ID)
			}
			id = results[i].ID
		case IsKind(err, KindConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if id == 0 {
		t.Error("no caller saw the delivered purchase")
	}
	if got := f.balance(t, "u1"); got != "990" {
		t.Errorf("balance = %s, want 990", got)
	}
	if f.ful.count() != 1 {
		t.Errorf("deliveries = %d, want 1", f.ful.count())
	}
	var debits int64
	f.db.Model(&models.WalletTransaction{}).Where("ref_id = ? AND trx_type = ?", "same-key", "shop_purchase").Count(&debits)
	if debits != 1 {
		t.Errorf("debits = %d, want 1", debits)
	}
}

func TestPurchase_UnrecordedDeliveryStaysDebited(t *testing.T) {
	f := newPurchaseFixture(t)
	f.item(t, ShopItemInput{ItemRef: "sword", PriceTokens: dec("10")})
	fund(t, f.wallet, "u1", models.TokenCurrency, "100")

	var storeDown atomic.Bool
	failUpdates(t, f.db, "token_purchases", &storeDown)
	hook := &hookFulfiller{before: func() { storeDown.Store(true) }}
	f.purchases.fulfiller = hook

	_, err := buy(f, "u1", "sword", "k1")
	if err == nil {
		t.Fatal("expected error when the delivery cannot be recorded")
	}
	storeDown.Store(false)

	p, _ := f.purchases.GetPurchase(context.Background(), "k1")
	if p.Status != models.PurchaseDebited {
		t.Errorf("status = %s, want debited", p.Status)
	}
	if got := f.balance(t, "u1"); got != "90" {
		t.Errorf("balance = %s, want 90", got)
	}
}
