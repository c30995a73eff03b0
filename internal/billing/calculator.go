package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInterval is returned when the end time precedes the start time.
	ErrInvalidInterval = errors.New("billing: end time before start time")

	// ErrInvalidRate is returned when the per-minute rate is negative.
	ErrInvalidRate = errors.New("billing: negative rate")
)

// Minutes returns the number of billable minutes between start and end.
// Elapsed time is computed in whole seconds and rounded up to the next
// whole minute, so any fraction of a minute bills as a full minute.
func Minutes(start, end time.Time) (int64, error) {
	if end.Before(start) {
		return 0, ErrInvalidInterval
	}

	seconds := int64(end.Sub(start) / time.Second)
	return (seconds + 59) / 60, nil
}

// Fare computes the amount owed for an occupation from start to end at the
// given per-minute rate. Pure: no state, no I/O, deterministic. The same
// ceiling-to-minute policy applies whether end is "now" for an active
// session or the actual end time, so a session peeked and then ended at
// the same instant yields the same amount.
func Fare(start, end time.Time, ratePerMinute decimal.Decimal) (decimal.Decimal, error) {
	if ratePerMinute.IsNegative() {
		return decimal.Zero, ErrInvalidRate
	}

	minutes, err := Minutes(start, end)
	if err != nil {
		return decimal.Zero, err
	}

	return ratePerMinute.Mul(decimal.NewFromInt(minutes)), nil
}
