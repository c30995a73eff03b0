package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openlot/parkd/internal/config"
	"github.com/openlot/parkd/internal/storage"
	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func createTestLot(t *testing.T, store *Store, spotCount int) (storage.Lot, []storage.Spot) {
	t.Helper()

	lot := storage.Lot{
		ID:            "lot-1",
		Name:          "Central Garage",
		RatePerMinute: decimal.RequireFromString("0.12"),
		CreatedAt:     time.Now().UTC(),
	}

	spots, err := store.Spots().CreateLot(context.Background(), lot, spotCount)
	if err != nil {
		t.Fatalf("CreateLot failed: %v", err)
	}

	return lot, spots
}

func TestSpotStore_CreateLot(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lot, spots := createTestLot(t, store, 3)

	if len(spots) != 3 {
		t.Fatalf("Expected 3 spots, got %d", len(spots))
	}

	retrieved, err := store.Spots().GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("GetLot failed: %v", err)
	}
	if !retrieved.RatePerMinute.Equal(lot.RatePerMinute) {
		t.Errorf("Expected rate %s, got %s", lot.RatePerMinute, retrieved.RatePerMinute)
	}

	listed, err := store.Spots().ListSpots(ctx, lot.ID)
	if err != nil {
		t.Fatalf("ListSpots failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("Expected 3 listed spots, got %d", len(listed))
	}
	for _, spot := range listed {
		if !spot.Available {
			t.Errorf("Expected spot %s to be available after provisioning", spot.ID)
		}
	}
}

func TestSpotStore_ClaimRelease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, spots := createTestLot(t, store, 1)
	spotID := spots[0].ID

	if err := store.Spots().ClaimSpot(ctx, spotID); err != nil {
		t.Fatalf("ClaimSpot failed: %v", err)
	}

	// Second claim must fail while occupied
	err := store.Spots().ClaimSpot(ctx, spotID)
	if !errors.Is(err, storage.ErrSpotUnavailable) {
		t.Fatalf("Expected ErrSpotUnavailable, got %v", err)
	}

	spot, err := store.Spots().GetSpot(ctx, spotID)
	if err != nil {
		t.Fatalf("GetSpot failed: %v", err)
	}
	if spot.Available {
		t.Error("Expected spot to be occupied after claim")
	}

	if err := store.Spots().ReleaseSpot(ctx, spotID); err != nil {
		t.Fatalf("ReleaseSpot failed: %v", err)
	}

	spot, err = store.Spots().GetSpot(ctx, spotID)
	if err != nil {
		t.Fatalf("GetSpot failed: %v", err)
	}
	if !spot.Available {
		t.Error("Expected spot to be available after release")
	}
}

func TestSpotStore_ClaimMissingSpot(t *testing.T) {
	store := setupTestStore(t)

	err := store.Spots().ClaimSpot(context.Background(), "no-such-spot")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

// Concurrent claims on the same free spot must produce exactly one
// success; the claim script is the atomicity boundary.
func TestSpotStore_ConcurrentClaims(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, spots := createTestLot(t, store, 1)
	spotID := spots[0].ID

	const claimers = 16

	var wg sync.WaitGroup
	results := make(chan error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Spots().ClaimSpot(ctx, spotID)
		}()
	}
	wg.Wait()
	close(results)

	var ok, unavailable int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrSpotUnavailable):
			unavailable++
		default:
			t.Errorf("Unexpected claim error: %v", err)
		}
	}

	if ok != 1 {
		t.Errorf("Expected exactly 1 successful claim, got %d", ok)
	}
	if unavailable != claimers-1 {
		t.Errorf("Expected %d unavailable errors, got %d", claimers-1, unavailable)
	}
}

func TestSessionStore_CreateGetUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-2 * time.Minute)
	session := storage.Session{
		ID:        "session-1",
		Wallet:    "rWalletA",
		SpotID:    "lot-1-1",
		LotID:     "lot-1",
		StartedAt: started,
		Status:    storage.SessionActive,
	}

	if err := store.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	retrieved, err := store.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.Status != storage.SessionActive {
		t.Errorf("Expected status ACTIVE, got %s", retrieved.Status)
	}
	if retrieved.EndedAt != nil || retrieved.Amount != nil {
		t.Error("Expected no end timestamp or amount on an active session")
	}

	// End the session
	ended := started.Add(2 * time.Minute)
	amount := decimal.RequireFromString("0.24")
	session.EndedAt = &ended
	session.Amount = &amount
	session.Status = storage.SessionEnded
	session.Settlement = &storage.SettlementResult{
		State:  storage.SettlementSettled,
		TxHash: "ABCDEF0123456789",
	}

	if err := store.Sessions().Update(ctx, session); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retrieved, err = store.Sessions().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if retrieved.Status != storage.SessionEnded {
		t.Errorf("Expected status ENDED, got %s", retrieved.Status)
	}
	if retrieved.Amount == nil || !retrieved.Amount.Equal(amount) {
		t.Errorf("Expected amount %s, got %v", amount, retrieved.Amount)
	}
	if retrieved.Settlement == nil || retrieved.Settlement.TxHash != "ABCDEF0123456789" {
		t.Errorf("Expected settlement tx hash, got %+v", retrieved.Settlement)
	}
}

func TestSessionStore_UpdateMissing(t *testing.T) {
	store := setupTestStore(t)

	err := store.Sessions().Update(context.Background(), storage.Session{
		ID:        "ghost",
		StartedAt: time.Now(),
		Status:    storage.SessionEnded,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_ListActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	active := storage.Session{
		ID: "active-1", Wallet: "rA", SpotID: "s1", LotID: "l1",
		StartedAt: now, Status: storage.SessionActive,
	}

	endedAt := now.Add(-time.Hour)
	amount := decimal.NewFromInt(1)
	ended := storage.Session{
		ID: "ended-1", Wallet: "rB", SpotID: "s2", LotID: "l1",
		StartedAt: now.Add(-2 * time.Hour), EndedAt: &endedAt,
		Amount: &amount, Status: storage.SessionEnded,
	}

	_ = store.Sessions().Create(ctx, active)
	_ = store.Sessions().Create(ctx, ended)

	sessions, err := store.Sessions().ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}

	if len(sessions) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(sessions))
	}
	if sessions[0].ID != active.ID {
		t.Errorf("Expected active session %s, got %s", active.ID, sessions[0].ID)
	}
}

func TestSessionStore_ListByWalletWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	inWindow := storage.Session{
		ID: "recent", Wallet: "rA", SpotID: "s1", LotID: "l1",
		StartedAt: now.Add(-1 * time.Hour), Status: storage.SessionActive,
	}
	outOfWindow := storage.Session{
		ID: "old", Wallet: "rA", SpotID: "s2", LotID: "l1",
		StartedAt: now.Add(-48 * time.Hour), Status: storage.SessionActive,
	}
	otherWallet := storage.Session{
		ID: "other", Wallet: "rB", SpotID: "s3", LotID: "l1",
		StartedAt: now, Status: storage.SessionActive,
	}

	_ = store.Sessions().Create(ctx, inWindow)
	_ = store.Sessions().Create(ctx, outOfWindow)
	_ = store.Sessions().Create(ctx, otherWallet)

	sessions, err := store.Sessions().ListByWallet(ctx, "rA", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListByWallet failed: %v", err)
	}

	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session in window, got %d", len(sessions))
	}
	if sessions[0].ID != inWindow.ID {
		t.Errorf("Expected session %s, got %s", inWindow.ID, sessions[0].ID)
	}
}

func TestSessionStore_DeleteEndedBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	oldEnd := now.Add(-100 * 24 * time.Hour)
	amount := decimal.NewFromInt(2)

	oldSession := storage.Session{
		ID: "old-ended", Wallet: "rA", SpotID: "s1", LotID: "l1",
		StartedAt: oldEnd.Add(-time.Hour), EndedAt: &oldEnd,
		Amount: &amount, Status: storage.SessionEnded,
	}
	activeSession := storage.Session{
		ID: "still-active", Wallet: "rA", SpotID: "s2", LotID: "l1",
		StartedAt: now, Status: storage.SessionActive,
	}

	_ = store.Sessions().Create(ctx, oldSession)
	_ = store.Sessions().Create(ctx, activeSession)

	deleted, err := store.Sessions().DeleteEndedBefore(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteEndedBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted session, got %d", deleted)
	}

	if _, err := store.Sessions().Get(ctx, oldSession.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected old session gone, got %v", err)
	}
	if _, err := store.Sessions().Get(ctx, activeSession.ID); err != nil {
		t.Errorf("Active session must survive retention: %v", err)
	}
}

func TestAnomalyStore_AddResolve(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	anomaly := storage.Anomaly{
		ID:          "anomaly-1",
		Type:        storage.AnomalyHighFrequency,
		Wallet:      "rWalletA",
		Description: "11 sessions in 24h window",
		Severity:    storage.SeverityMedium,
		CreatedAt:   time.Now().UTC(),
	}

	if err := store.Anomalies().Add(ctx, anomaly); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	unresolved, err := store.Anomalies().ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("Expected 1 unresolved anomaly, got %d", len(unresolved))
	}

	if err := store.Anomalies().Resolve(ctx, anomaly.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	unresolved, err = store.Anomalies().ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("Expected 0 unresolved anomalies, got %d", len(unresolved))
	}

	retrieved, err := store.Anomalies().Get(ctx, anomaly.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !retrieved.Resolved || retrieved.ResolvedAt == nil {
		t.Error("Expected anomaly to be marked resolved with timestamp")
	}
}

func TestAnomalyStore_ResolveMissing(t *testing.T) {
	store := setupTestStore(t)

	err := store.Anomalies().Resolve(context.Background(), "ghost", time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestWalletStore_UpsertGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wallet := storage.Wallet{
		Address:           "rWalletA",
		TrustlineVerified: true,
		Balance:           decimal.RequireFromString("42.50"),
		UpdatedAt:         time.Now().UTC(),
	}

	if err := store.Wallets().Upsert(ctx, wallet); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	retrieved, err := store.Wallets().Get(ctx, wallet.Address)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !retrieved.TrustlineVerified {
		t.Error("Expected trustline_verified true")
	}
	if !retrieved.Balance.Equal(wallet.Balance) {
		t.Errorf("Expected balance %s, got %s", wallet.Balance, retrieved.Balance)
	}
}
