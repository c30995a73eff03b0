package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// fakeGateway simulates the external ledger: trustlines, submitted
// transactions, and asynchronous confirmation.
type fakeGateway struct {
	mu sync.Mutex

	trustlines   map[string]bool
	confirmed    map[string]bool
	memoToTx     map[string]string
	balances     map[string]decimal.Decimal
	insufficient map[string]bool

	paymentSubmissions int
	trustSubmissions   int
	nextTx             int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		trustlines:   make(map[string]bool),
		confirmed:    make(map[string]bool),
		memoToTx:     make(map[string]string),
		balances:     make(map[string]decimal.Decimal),
		insufficient: make(map[string]bool),
	}
}

func (g *fakeGateway) TrustlineExists(_ context.Context, account, _, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trustlines[account], nil
}

func (g *fakeGateway) SubmitTrustSet(_ context.Context, account, _, _ string, _ decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trustSubmissions++
	g.nextTx++
	hash := "TRUST-" + account
	g.trustlines[account] = true
	g.confirmed[hash] = true
	return hash, nil
}

func (g *fakeGateway) SubmitPayment(_ context.Context, from, _ string, _ Amount, memo string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.insufficient[from] {
		return "", ErrInsufficientFunds
	}

	g.paymentSubmissions++
	g.nextTx++
	hash := "PAY-" + memo
	g.memoToTx[memo] = hash
	return hash, nil
}

func (g *fakeGateway) FindPaymentByMemo(_ context.Context, _, memo string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memoToTx[memo], nil
}

func (g *fakeGateway) TransactionConfirmed(_ context.Context, txHash string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmed[txHash], nil
}

func (g *fakeGateway) Balance(_ context.Context, account, _, _ string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account], nil
}

func (g *fakeGateway) confirm(txHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmed[txHash] = true
}

func (g *fakeGateway) payments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paymentSubmissions
}

// memWalletStore is an in-memory storage.WalletStore.
type memWalletStore struct {
	mu      sync.Mutex
	wallets map[string]storage.Wallet
}

func newMemWalletStore() *memWalletStore {
	return &memWalletStore{wallets: make(map[string]storage.Wallet)}
}

func (m *memWalletStore) Get(_ context.Context, address string) (*storage.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &w, nil
}

func (m *memWalletStore) Upsert(_ context.Context, wallet storage.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet.Address] = wallet
	return nil
}

func newTestClient(t *testing.T, gateway Gateway) (*Client, *memWalletStore) {
	t.Helper()

	wallets := newMemWalletStore()
	client, err := NewClient(gateway, wallets, Config{
		Currency:            "PRK",
		Issuer:              "rIssuer",
		OperatorAccount:     "rOperator",
		TrustLimit:          decimal.NewFromInt(1000),
		PollInitialInterval: time.Millisecond,
		PollMaxInterval:     5 * time.Millisecond,
		PollBudget:          50 * time.Millisecond,
	}, clock.RealClock{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	return client, wallets
}

func TestEnsureTrust_AlreadyExists(t *testing.T) {
	gateway := newFakeGateway()
	gateway.trustlines["rWalletA"] = true

	client, wallets := newTestClient(t, gateway)

	ok, err := client.EnsureTrust(context.Background(), "rWalletA")
	if err != nil {
		t.Fatalf("EnsureTrust failed: %v", err)
	}
	if !ok {
		t.Error("Expected trust to be verified")
	}
	if gateway.trustSubmissions != 0 {
		t.Errorf("Expected no trust submissions, got %d", gateway.trustSubmissions)
	}

	// Flag is persisted to the wallet cache
	w, err := wallets.Get(context.Background(), "rWalletA")
	if err != nil {
		t.Fatalf("wallet cache read failed: %v", err)
	}
	if !w.TrustlineVerified {
		t.Error("Expected trustline flag cached")
	}
}

func TestEnsureTrust_Establishes(t *testing.T) {
	gateway := newFakeGateway()
	client, _ := newTestClient(t, gateway)

	ok, err := client.EnsureTrust(context.Background(), "rWalletB")
	if err != nil {
		t.Fatalf("EnsureTrust failed: %v", err)
	}
	if !ok {
		t.Error("Expected trust established")
	}
	if gateway.trustSubmissions != 1 {
		t.Errorf("Expected 1 trust submission, got %d", gateway.trustSubmissions)
	}

	// Second call hits the cache, no further gateway traffic
	ok, err = client.EnsureTrust(context.Background(), "rWalletB")
	if err != nil || !ok {
		t.Fatalf("Cached EnsureTrust failed: ok=%v err=%v", ok, err)
	}
	if gateway.trustSubmissions != 1 {
		t.Errorf("Expected still 1 trust submission, got %d", gateway.trustSubmissions)
	}
}

func TestSettle_RequiresTrust(t *testing.T) {
	gateway := newFakeGateway()
	client, _ := newTestClient(t, gateway)

	_, err := client.Settle(context.Background(), "rUntrusted", decimal.NewFromInt(1), "session-1")
	if !errors.Is(err, ErrTrustNotEstablished) {
		t.Fatalf("Expected ErrTrustNotEstablished, got %v", err)
	}
	if gateway.payments() != 0 {
		t.Errorf("Expected no payment submissions, got %d", gateway.payments())
	}
}

func TestSettle_Success(t *testing.T) {
	gateway := newFakeGateway()
	gateway.trustlines["rWalletA"] = true
	client, _ := newTestClient(t, gateway)

	// Confirm the payment as soon as it lands
	go func() {
		for i := 0; i < 100; i++ {
			gateway.confirm("PAY-session-1")
			time.Sleep(time.Millisecond)
		}
	}()

	txHash, err := client.Settle(context.Background(), "rWalletA", decimal.RequireFromString("0.24"), "session-1")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if txHash != "PAY-session-1" {
		t.Errorf("Expected tx hash PAY-session-1, got %s", txHash)
	}
	if gateway.payments() != 1 {
		t.Errorf("Expected 1 payment submission, got %d", gateway.payments())
	}
}

func TestSettle_InsufficientFunds(t *testing.T) {
	gateway := newFakeGateway()
	gateway.trustlines["rPoor"] = true
	gateway.insufficient["rPoor"] = true
	client, _ := newTestClient(t, gateway)

	_, err := client.Settle(context.Background(), "rPoor", decimal.NewFromInt(5), "session-2")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
}

// A settle whose confirmation times out must be retryable with the same
// idempotency key without a second payment: the retry polls the original
// transaction and reports the same hash.
func TestSettle_IdempotentRetryAfterTimeout(t *testing.T) {
	gateway := newFakeGateway()
	gateway.trustlines["rWalletA"] = true
	client, _ := newTestClient(t, gateway)

	txHash, err := client.Settle(context.Background(), "rWalletA", decimal.NewFromInt(1), "session-3")
	if !errors.Is(err, ErrSettlementPending) {
		t.Fatalf("Expected ErrSettlementPending, got %v", err)
	}
	if txHash == "" {
		t.Fatal("Expected the pending tx hash to be reported")
	}

	// The transaction actually succeeded after the poll budget expired
	gateway.confirm(txHash)

	retryHash, err := client.Settle(context.Background(), "rWalletA", decimal.NewFromInt(1), "session-3")
	if err != nil {
		t.Fatalf("Retry Settle failed: %v", err)
	}
	if retryHash != txHash {
		t.Errorf("Expected same tx hash on retry, got %s vs %s", retryHash, txHash)
	}
	if gateway.payments() != 1 {
		t.Errorf("Expected exactly 1 ledger payment, got %d", gateway.payments())
	}
}

// A fresh client (empty local cache) must still find the earlier payment
// via the ledger memo index before resubmitting.
func TestSettle_MemoLookupPreventsResubmission(t *testing.T) {
	gateway := newFakeGateway()
	gateway.trustlines["rWalletA"] = true
	gateway.memoToTx["session-4"] = "PAY-session-4"
	gateway.confirmed["PAY-session-4"] = true

	client, _ := newTestClient(t, gateway)

	txHash, err := client.Settle(context.Background(), "rWalletA", decimal.NewFromInt(1), "session-4")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if txHash != "PAY-session-4" {
		t.Errorf("Expected existing tx hash, got %s", txHash)
	}
	if gateway.payments() != 0 {
		t.Errorf("Expected no new payment submissions, got %d", gateway.payments())
	}
}

func TestBalance_RefreshesCache(t *testing.T) {
	gateway := newFakeGateway()
	gateway.balances["rWalletA"] = decimal.RequireFromString("12.34")

	client, wallets := newTestClient(t, gateway)

	balance, err := client.Balance(context.Background(), "rWalletA")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("12.34")) {
		t.Errorf("Expected 12.34, got %s", balance)
	}

	cached, err := wallets.Get(context.Background(), "rWalletA")
	if err != nil {
		t.Fatalf("wallet cache read failed: %v", err)
	}
	if !cached.Balance.Equal(balance) {
		t.Errorf("Expected cache refreshed to %s, got %s", balance, cached.Balance)
	}
}
