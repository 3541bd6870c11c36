// Package store persists portfolio state. Implementations include CSV
// files (the portable interchange format) and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/backtest-engine/internal/portfolio"
)

// PointLayout is the timestamp format used in persisted state,
// millisecond precision.
const PointLayout = "2006-01-02T15:04:05.000"

var (
	ErrNotFound         = errors.New("store: no saved portfolio")
	ErrPositionMismatch = errors.New("store: saved open positions do not match the replayed trade log")
)

// Store saves and restores a whole portfolio. Loading rebuilds the open
// position book by replaying the executed trade log, which restores
// partial closes exactly; the persisted position index is verified
// against the rebuilt book.
type Store interface {
	SavePortfolio(ctx context.Context, p *portfolio.Portfolio) error
	LoadPortfolio(ctx context.Context) (*portfolio.Portfolio, error)
}

// FormatPoint renders a timestamp in the persisted layout, in UTC.
func FormatPoint(t time.Time) string {
	return t.UTC().Format(PointLayout)
}

// ParsePoint parses a persisted timestamp.
func ParsePoint(s string) (time.Time, error) {
	return time.ParseInLocation(PointLayout, s, time.UTC)
}
