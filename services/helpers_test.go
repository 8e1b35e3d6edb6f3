package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"backoffice/database"
	"backoffice/models"
	"backoffice/providers"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got.String(), want)
	}
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %q (%v), want %q", got, err, want)
	}
}

func seedSetting(t *testing.T, db *gorm.DB, serverID uint, initial, rate string) {
	t.Helper()
	if err := db.Create(&models.PrizeSetting{
		ServerID:                serverID,
		InitialPrize:            dec(initial),
		ContributionRatePercent: dec(rate),
	}).Error; err != nil {
		t.Fatalf("seed setting: %v", err)
	}
}

func fund(t *testing.T, w *WalletService, userID, currency, amount string) {
	t.Helper()
	if _, err := w.AdjustBalance(context.Background(), Adjustment{
		UserID:   userID,
		Currency: currency,
		Delta:    dec(amount),
		TrxType:  "seed",
	}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

type fakeFulfiller struct {
	mu         sync.Mutex
	err        error
	deliveries []providers.Delivery
}

func (f *fakeFulfiller) Deliver(ctx context.Context, d providers.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return f.err
}

func (f *fakeFulfiller) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFulfiller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

type memCache struct {
	mu   sync.Mutex
	data map[uint][]byte
	gets int
}

func newMemCache() *memCache { return &memCache{data: map[uint][]byte{}} }

func (m *memCache) Get(ctx context.Context, serverID uint) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.data[serverID], nil
}

func (m *memCache) Set(ctx context.Context, serverID uint, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[serverID] = data
	return nil
}

func (m *memCache) Del(ctx context.Context, serverID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, serverID)
	return nil
}
