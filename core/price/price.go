// Package price defines the day-ahead price source consumed by the
// curtailment scheduler and its error taxonomy.
package price

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Point is a single day-ahead price for one delivery slot.
type Point struct {
	SlotStart time.Time
	// Price in the market currency per MWh.
	Price float64
}

// Source fetches day-ahead prices for a time range and market area.
// Implementations return ErrNoData when the venue has no points in range,
// and wrap retryable failures in TransientError.
type Source interface {
	Fetch(ctx context.Context, start, end time.Time, area string) ([]Point, error)
}

// ErrNoData indicates the source has no price points for the requested
// range. It is a valid empty result, not a failure.
var ErrNoData = errors.New("no price data for requested range")

// TransientError wraps a retryable failure from the price source.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient price source error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err in a TransientError. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsNoData reports whether err signals a valid empty result.
func IsNoData(err error) bool { return errors.Is(err, ErrNoData) }
