package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backoffice/models"
)

var goldReward = models.Reward{Kind: models.RewardCurrency, Currency: "gold", Amount: dec("100")}

func newRedemptionFixture(t *testing.T) (*RedemptionService, *WalletService) {
	t.Helper()
	db := newTestDB(t)
	wallet := NewWalletService(db)
	return NewRedemptionService(db, wallet), wallet
}

func mustCreateCode(t *testing.T, svc *RedemptionService, in CodeInput) *models.RedeemableCode {
	t.Helper()
	rc, err := svc.CreateCode(context.Background(), in, 1)
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
	return rc
}

func TestRedeem_SameUserTwice(t *testing.T) {
	svc, wallet := newRedemptionFixture(t)
	ctx := context.Background()
	rc := mustCreateCode(t, svc, CodeInput{Code: "WELCOME", Reward: goldReward})

	res, err := svc.Redeem(ctx, "WELCOME", "u1", 3)
	if err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if res.Granted.Currency != "gold" || !res.Granted.Amount.Equal(dec("100")) || res.RefID == "" {
		t.Errorf("result = %+v", res)
	}

	_, err = svc.Redeem(ctx, "WELCOME", "u1", 3)
	assertKind(t, err, KindAlreadyRedeemed)

	got, _ := svc.GetCode(ctx, rc.ID)
	if got.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", got.UsageCount)
	}
	bal, _ := wallet.GetBalance(ctx, "u1", "gold")
	assertDec(t, "gold balance", bal, "100")
}

func TestRedeem_PerUserLimit(t *testing.T) {
	svc, wallet := newRedemptionFixture(t)
	ctx := context.Background()
	mustCreateCode(t, svc, CodeInput{Code: "DAILY", Reward: goldReward, PerUserLimit: 2})

	for i := 0; i < 2; i++ {
		if _, err := svc.Redeem(ctx, "DAILY", "u1", 1); err != nil {
			t.Fatalf("Redeem #%d: %v", i+1, err)
		}
	}
	_, err := svc.Redeem(ctx, "DAILY", "u1", 1)
	assertKind(t, err, KindAlreadyRedeemed)

	if _, err := svc.Redeem(ctx, "DAILY", "u2", 1); err != nil {
		t.Fatalf("other user: %v", err)
	}
	bal, _ := wallet.GetBalance(ctx, "u1", "gold")
	assertDec(t, "u1 gold", bal, "200")
}

func TestRedeem_Ineligible(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	inactive := false

	mustCreateCode(t, svc, CodeInput{Code: "OFF", Reward: goldReward, Active: &inactive})
	mustCreateCode(t, svc, CodeInput{Code: "SOON", Reward: goldReward, ValidFrom: &future})
	mustCreateCode(t, svc, CodeInput{Code: "OLD", Reward: goldReward, ValidUntil: &past})
	mustCreateCode(t, svc, CodeInput{Code: "ONCE", Reward: goldReward, UsageLimit: intPtr(1)})
	if _, err := svc.Redeem(ctx, "ONCE", "first", 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		code   string
		reason string
	}{
		{"OFF", ReasonInactive},
		{"SOON", ReasonNotYetValid},
		{"OLD", ReasonExpired},
		{"ONCE", ReasonExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := svc.Redeem(ctx, tt.code, "u1", 1)
			assertKind(t, err, KindIneligible)
			var e *Error
			if !errors.As(err, &e) || e.Reason != tt.reason {
				t.Errorf("reason = %v, want %s", err, tt.reason)
			}
		})
	}
}

func TestRedeem_NotFound(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	mustCreateCode(t, svc, CodeInput{Code: "CaseCode", Reward: goldReward})

	_, err := svc.Redeem(ctx, "missing", "u1", 1)
	assertKind(t, err, KindNotFound)

	_, err = svc.Redeem(ctx, "casecode", "u1", 1)
	assertKind(t, err, KindNotFound)

	_, err = svc.Redeem(ctx, "", "u1", 1)
	assertKind(t, err, KindInvalidArgument)
}

func TestRedeem_LastSlotConcurrent(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	rc := mustCreateCode(t, svc, CodeInput{Code: "RACE", Reward: goldReward, UsageLimit: intPtr(1)})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, "RACE", fmt.Sprintf("user-%d", i), 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsKind(err, KindIneligible):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
	got, _ := svc.GetCode(ctx, rc.ID)
	if got.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", got.UsageCount)
	}
}

func TestRedeem_SameUserConcurrent(t *testing.T) {
	svc, wallet := newRedemptionFixture(t)
	ctx := context.Background()
	mustCreateCode(t, svc, CodeInput{Code: "ONCE", Reward: goldReward})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, "ONCE", "u1", 1)
		}(i)
	}
	wg.Wait()

	succeeded, already := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsKind(err, KindAlreadyRedeemed):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || already != callers-1 {
		t.Errorf("succeeded = %d already = %d", succeeded, already)
	}
	gold, _ := wallet.GetBalance(ctx, "u1", "gold")
	assertDec(t, "gold", gold, "100")
}

func TestRedeem_BundleReward(t *testing.T) {
	svc, wallet := newRedemptionFixture(t)
	ctx := context.Background()
	mustCreateCode(t, svc, CodeInput{Code: "BUNDLE", Reward: models.Reward{
		Kind: models.RewardBundle,
		Items: []models.Reward{
			{Kind: models.RewardCurrency, Currency: "gem", Amount: dec("5")},
			{Kind: models.RewardItem, ItemID: "potion", Quantity: 3},
		},
	}})

	if _, err := svc.Redeem(ctx, "BUNDLE", "u1", 1); err != nil {
		t.Fatal(err)
	}
	gems, _ := wallet.GetBalance(ctx, "u1", "gem")
	assertDec(t, "gem", gems, "5")
	inv, _ := wallet.Inventory(ctx, "u1")
	if len(inv) != 1 || inv[0].ItemID != "potion" || inv[0].Quantity != 3 {
		t.Errorf("inventory = %+v", inv)
	}
}

func TestRedeem_KeepsGrantedSnapshot(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	rc := mustCreateCode(t, svc, CodeInput{Code: "SNAP", Reward: goldReward, PerUserLimit: 5})
	if _, err := svc.Redeem(ctx, "SNAP", "u1", 1); err != nil {
		t.Fatal(err)
	}

	changed := models.Reward{Kind: models.RewardCurrency, Currency: "gold", Amount: dec("1")}
	if _, err := svc.UpdateCode(ctx, rc.ID, CodePatch{Reward: &changed}); err != nil {
		t.Fatal(err)
	}

	records, total, err := svc.ListRedemptions(ctx, rc.ID, 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("ListRedemptions = %d, %v", total, err)
	}
	if !records[0].GrantedPayload.Data().Amount.Equal(dec("100")) {
		t.Errorf("granted snapshot changed: %+v", records[0].GrantedPayload.Data())
	}
}

func TestCreateCode_Validation(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	mustCreateCode(t, svc, CodeInput{Code: "DUP", Reward: goldReward})

	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)
	tests := []struct {
		name string
		in   CodeInput
		kind ErrorKind
	}{
		{"duplicate", CodeInput{Code: "DUP", Reward: goldReward}, KindConflict},
		{"empty code", CodeInput{Code: "  ", Reward: goldReward}, KindInvalidArgument},
		{"bad reward", CodeInput{Code: "X1", Reward: models.Reward{Kind: models.RewardItem}}, KindInvalidArgument},
		{"zero usage limit", CodeInput{Code: "X2", Reward: goldReward, UsageLimit: intPtr(0)}, KindInvalidArgument},
		{"negative per user", CodeInput{Code: "X3", Reward: goldReward, PerUserLimit: -1}, KindInvalidArgument},
		{"inverted window", CodeInput{Code: "X4", Reward: goldReward, ValidFrom: &from, ValidUntil: &until}, KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCode(ctx, tt.in, 1)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestUpdateCode(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	rc := mustCreateCode(t, svc, CodeInput{Code: "UPD", Reward: goldReward, UsageLimit: intPtr(5)})
	for _, u := range []string{"a", "b"} {
		if _, err := svc.Redeem(ctx, "UPD", u, 1); err != nil {
			t.Fatal(err)
		}
	}

	_, err := svc.UpdateCode(ctx, rc.ID, CodePatch{UsageLimit: intPtr(1)})
	assertKind(t, err, KindInvalidArgument)

	got, err := svc.UpdateCode(ctx, rc.ID, CodePatch{Unlimited: true, PerUserLimit: intPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageLimit != nil || got.PerUserLimit != 3 {
		t.Errorf("UpdateCode = limit %v per user %d", got.UsageLimit, got.PerUserLimit)
	}
	stored, _ := svc.GetCode(ctx, rc.ID)
	if stored.UsageLimit != nil {
		t.Errorf("stored usage_limit = %v, want nil", *stored.UsageLimit)
	}

	_, err = svc.UpdateCode(ctx, 404, CodePatch{})
	assertKind(t, err, KindNotFound)
}

func TestDeactivate(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	rc := mustCreateCode(t, svc, CodeInput{Code: "STOP", Reward: goldReward})

	if _, err := svc.Deactivate(ctx, rc.ID); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Redeem(ctx, "STOP", "u1", 1)
	assertKind(t, err, KindIneligible)

	_, err = svc.Deactivate(ctx, 404)
	assertKind(t, err, KindNotFound)
}

func TestListCodes(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	inactive := false
	for i := 0; i < 5; i++ {
		mustCreateCode(t, svc, CodeInput{Code: fmt.Sprintf("L%d", i), Reward: goldReward})
	}
	mustCreateCode(t, svc, CodeInput{Code: "LOFF", Reward: goldReward, Active: &inactive})

	codes, total, err := svc.ListCodes(ctx, nil, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 6 || len(codes) != 2 || codes[0].Code != "LOFF" {
		t.Errorf("page = %d items, total %d, first %q", len(codes), total, codes[0].Code)
	}

	active := true
	_, total, _ = svc.ListCodes(ctx, &active, 20, 0)
	if total != 5 {
		t.Errorf("active total = %d, want 5", total)
	}
	codes, _, _ = svc.ListCodes(ctx, nil, 20, 5)
	if len(codes) != 1 {
		t.Errorf("offset page = %d items, want 1", len(codes))
	}
}

func TestDeactivateExpired(t *testing.T) {
	svc, _ := newRedemptionFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	old := mustCreateCode(t, svc, CodeInput{Code: "EXP", Reward: goldReward, ValidUntil: &past})
	live := mustCreateCode(t, svc, CodeInput{Code: "LIVE", Reward: goldReward, ValidUntil: &future})
	mustCreateCode(t, svc, CodeInput{Code: "FOREVER", Reward: goldReward})

	n, err := svc.DeactivateExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deactivated = %d, want 1", n)
	}
	if got, _ := svc.GetCode(ctx, old.ID); got.Active {
		t.Error("expired code still active")
	}
	if got, _ := svc.GetCode(ctx, live.ID); !got.Active {
		t.Error("live code deactivated")
	}
}
