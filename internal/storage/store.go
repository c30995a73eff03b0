package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrSpotUnavailable is returned by ClaimSpot when the spot is already
// occupied. Backends must guarantee that of any number of concurrent
// claims on a free spot exactly one succeeds and the rest get this error.
var ErrSpotUnavailable = errors.New("storage: spot unavailable")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Spots() SpotStore
	Sessions() SessionStore
	Anomalies() AnomalyStore
	Wallets() WalletStore
}

// SpotStore manages lots and their spots. Spot availability is only ever
// mutated through ClaimSpot and ReleaseSpot.
type SpotStore interface {
	CreateLot(ctx context.Context, lot Lot, spotCount int) ([]Spot, error)
	GetLot(ctx context.Context, id string) (*Lot, error)
	ListLots(ctx context.Context) ([]Lot, error)
	GetSpot(ctx context.Context, id string) (*Spot, error)
	ListSpots(ctx context.Context, lotID string) ([]Spot, error)

	// ClaimSpot atomically flips the spot from available to occupied.
	// Returns ErrNotFound if the spot does not exist, ErrSpotUnavailable
	// if it is already occupied.
	ClaimSpot(ctx context.Context, id string) error

	// ReleaseSpot flips the spot back to available.
	ReleaseSpot(ctx context.Context, id string) error
}

// SessionStore manages session history. Records are append-only: Create
// once, Update exactly once on end, deletion only via retention sweeps.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, session Session) error
	ListActive(ctx context.Context) ([]Session, error)
	ListByWallet(ctx context.Context, wallet string, since time.Time) ([]Session, error)
	ListBySpot(ctx context.Context, spotID string) ([]Session, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AnomalyStore manages anomaly findings. Only the resolved flag is
// mutated after creation.
type AnomalyStore interface {
	Add(ctx context.Context, anomaly Anomaly) error
	Get(ctx context.Context, id string) (*Anomaly, error)
	ListUnresolved(ctx context.Context) ([]Anomaly, error)
	ListByWallet(ctx context.Context, wallet string) ([]Anomaly, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// WalletStore caches ledger account observations.
type WalletStore interface {
	Get(ctx context.Context, address string) (*Wallet, error)
	Upsert(ctx context.Context, wallet Wallet) error
}
