package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openlot/parkd/internal/clock"
	"github.com/openlot/parkd/internal/metrics"
	"github.com/openlot/parkd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPollInitialInterval is the starting confirmation poll delay.
	DefaultPollInitialInterval = 1 * time.Second

	// DefaultPollMaxInterval caps the backoff between polls.
	DefaultPollMaxInterval = 8 * time.Second

	// DefaultPollBudget bounds the total time spent awaiting finality.
	DefaultPollBudget = 30 * time.Second

	cacheSize = 1024
)

// errNotConfirmed drives the poll loop; never escapes the client.
var errNotConfirmed = errors.New("not yet confirmed")

// Config holds settlement parameters.
type Config struct {
	Currency        string
	Issuer          string
	OperatorAccount string
	TrustLimit      decimal.Decimal

	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollBudget          time.Duration
}

// Client reconciles locally-held balance state against the external
// ledger: trustline establishment, payment submission, and confirmation
// polling. Settlement is at-least-once with idempotency keys; the
// underlying ledger is the only source of truth.
type Client struct {
	gateway Gateway
	wallets storage.WalletStore
	cfg     Config
	clk     clock.Clock
	logger  zerolog.Logger

	// trustCache remembers confirmed trustlines; idemCache maps an
	// idempotency key to the hash of the payment already submitted for
	// it, so a retry after a confirmation timeout polls the existing
	// transaction instead of paying twice.
	trustCache *lru.Cache[string, bool]
	idemCache  *lru.Cache[string, string]
}

// NewClient creates a settlement client.
func NewClient(gateway Gateway, wallets storage.WalletStore, cfg Config, clk clock.Clock, logger zerolog.Logger) (*Client, error) {
	if cfg.Currency == "" || cfg.Issuer == "" || cfg.OperatorAccount == "" {
		return nil, fmt.Errorf("ledger config requires currency, issuer, and operator account")
	}
	if cfg.PollInitialInterval == 0 {
		cfg.PollInitialInterval = DefaultPollInitialInterval
	}
	if cfg.PollMaxInterval == 0 {
		cfg.PollMaxInterval = DefaultPollMaxInterval
	}
	if cfg.PollBudget == 0 {
		cfg.PollBudget = DefaultPollBudget
	}
	if cfg.TrustLimit.IsZero() {
		cfg.TrustLimit = decimal.NewFromInt(1_000_000)
	}

	trustCache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, err
	}
	idemCache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Client{
		gateway:    gateway,
		wallets:    wallets,
		cfg:        cfg,
		clk:        clk,
		logger:     logger.With().Str("component", "ledger-client").Logger(),
		trustCache: trustCache,
		idemCache:  idemCache,
	}, nil
}

// EnsureTrust verifies a trustline between the wallet and the settlement
// currency issuer, establishing one if absent. Idempotent. Returns true
// once a trustline is confirmed, false if establishment was attempted
// and did not confirm within the polling budget.
func (c *Client) EnsureTrust(ctx context.Context, wallet string) (bool, error) {
	if verified, ok := c.trustCache.Get(wallet); ok && verified {
		return true, nil
	}

	exists, err := c.gateway.TrustlineExists(ctx, wallet, c.cfg.Currency, c.cfg.Issuer)
	if err != nil {
		return false, err
	}
	if exists {
		c.markTrusted(ctx, wallet)
		return true, nil
	}

	txHash, err := c.gateway.SubmitTrustSet(ctx, wallet, c.cfg.Currency, c.cfg.Issuer, c.cfg.TrustLimit)
	if err != nil {
		return false, err
	}

	c.logger.Info().
		Str("wallet", wallet).
		Str("tx_hash", txHash).
		Msg("Submitted trustline establishment")

	if err := c.awaitConfirmation(ctx, txHash); err != nil {
		if errors.Is(err, ErrSettlementPending) {
			return false, nil
		}
		return false, err
	}

	metrics.TrustlinesEstablished.Inc()
	c.markTrusted(ctx, wallet)
	return true, nil
}

// Settle submits a payment of amount from the wallet to the operator's
// settlement account. The idempotency key (the session ID) guarantees
// that a retry after a confirmation timeout does not double-charge: the
// local key cache and a ledger memo lookup are both consulted before any
// resubmission.
func (c *Client) Settle(ctx context.Context, wallet string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	trusted, err := c.isTrusted(ctx, wallet)
	if err != nil {
		return "", err
	}
	if !trusted {
		return "", ErrTrustNotEstablished
	}

	txHash, err := c.findExistingPayment(ctx, wallet, idempotencyKey)
	if err != nil {
		return "", err
	}

	if txHash == "" {
		txHash, err = c.gateway.SubmitPayment(ctx, wallet, c.cfg.OperatorAccount, Amount{
			Currency: c.cfg.Currency,
			Issuer:   c.cfg.Issuer,
			Value:    amount,
		}, idempotencyKey)
		if err != nil {
			return "", err
		}

		c.logger.Info().
			Str("wallet", wallet).
			Str("amount", amount.String()).
			Str("tx_hash", txHash).
			Str("idempotency_key", idempotencyKey).
			Msg("Submitted settlement payment")
	}

	// Remember the hash before the poll so a retry after a timeout
	// resumes polling the same transaction.
	c.idemCache.Add(idempotencyKey, txHash)

	if err := c.awaitConfirmation(ctx, txHash); err != nil {
		return txHash, err
	}

	c.refreshBalance(ctx, wallet)
	return txHash, nil
}

// Balance reads the wallet's ledger balance through to the gateway and
// refreshes the local cache. The cache is a performance optimization,
// never an independent source of truth.
func (c *Client) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	balance, err := c.gateway.Balance(ctx, wallet, c.cfg.Currency, c.cfg.Issuer)
	if err != nil {
		return decimal.Zero, err
	}

	trusted, _ := c.trustCache.Get(wallet)
	if err := c.wallets.Upsert(ctx, storage.Wallet{
		Address:           wallet,
		TrustlineVerified: trusted,
		Balance:           balance,
		UpdatedAt:         c.clk.Now(),
	}); err != nil {
		c.logger.Warn().Err(err).Str("wallet", wallet).Msg("Failed to refresh wallet cache")
	}

	return balance, nil
}

// isTrusted checks the cache and re-verifies against the ledger on miss.
func (c *Client) isTrusted(ctx context.Context, wallet string) (bool, error) {
	if verified, ok := c.trustCache.Get(wallet); ok && verified {
		return true, nil
	}

	exists, err := c.gateway.TrustlineExists(ctx, wallet, c.cfg.Currency, c.cfg.Issuer)
	if err != nil {
		return false, err
	}
	if exists {
		c.markTrusted(ctx, wallet)
	}
	return exists, nil
}

// findExistingPayment returns the hash of a payment already submitted
// for the idempotency key, from the local cache or the ledger memo index.
func (c *Client) findExistingPayment(ctx context.Context, wallet, idempotencyKey string) (string, error) {
	if txHash, ok := c.idemCache.Get(idempotencyKey); ok {
		return txHash, nil
	}

	txHash, err := c.gateway.FindPaymentByMemo(ctx, wallet, idempotencyKey)
	if err != nil {
		return "", err
	}
	return txHash, nil
}

// awaitConfirmation polls transaction status with exponential backoff
// until confirmed or the budget expires. Budget expiry is reported as
// ErrSettlementPending; the submission itself is never cancelled, only
// the waiting.
func (c *Client) awaitConfirmation(ctx context.Context, txHash string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.PollInitialInterval
	bo.MaxInterval = c.cfg.PollMaxInterval
	bo.MaxElapsedTime = c.cfg.PollBudget

	err := backoff.Retry(func() error {
		confirmed, err := c.gateway.TransactionConfirmed(ctx, txHash)
		if err != nil {
			// Transport failures during polling are retried within
			// the same budget.
			return err
		}
		if !confirmed {
			return errNotConfirmed
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		c.logger.Warn().
			Str("tx_hash", txHash).
			Err(err).
			Msg("Transaction unconfirmed within polling budget")
		return fmt.Errorf("%w: tx %s", ErrSettlementPending, txHash)
	}

	return nil
}

func (c *Client) markTrusted(ctx context.Context, wallet string) {
	c.trustCache.Add(wallet, true)

	existing, err := c.wallets.Get(ctx, wallet)
	record := storage.Wallet{Address: wallet}
	if err == nil {
		record = *existing
	}
	record.TrustlineVerified = true
	record.UpdatedAt = c.clk.Now()

	if err := c.wallets.Upsert(ctx, record); err != nil {
		c.logger.Warn().Err(err).Str("wallet", wallet).Msg("Failed to persist trustline flag")
	}
}

func (c *Client) refreshBalance(ctx context.Context, wallet string) {
	balance, err := c.gateway.Balance(ctx, wallet, c.cfg.Currency, c.cfg.Issuer)
	if err != nil {
		c.logger.Debug().Err(err).Str("wallet", wallet).Msg("Balance refresh after settlement failed")
		return
	}

	if err := c.wallets.Upsert(ctx, storage.Wallet{
		Address:           wallet,
		TrustlineVerified: true,
		Balance:           balance,
		UpdatedAt:         c.clk.Now(),
	}); err != nil {
		c.logger.Debug().Err(err).Str("wallet", wallet).Msg("Failed to refresh wallet cache")
	}
}
