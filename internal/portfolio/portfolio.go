// Package portfolio composes the capital and asset ledgers, the open
// position book, and the executed and failed trade logs for one run.
package portfolio

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/ledger"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/position"
)

var ErrUnknownSide = errors.New("portfolio: trade has unknown side")

// Portfolio tracks capital, assets, open positions, and trade history.
// All ledger updates use the trade's point as the timestamp; the
// portfolio never reads the wall clock.
//
// Portfolio is not safe for concurrent use; each run owns its own.
type Portfolio struct {
	capital *ledger.TrackedLedger
	assets  *ledger.TrackedLedger
	book    *position.Book

	executed []model.ExecutedTrade
	failed   []model.FailedTrade
}

// New returns a portfolio seeded with initial capital and assets at ts.
func New(initialCapital, initialAssets decimal.Decimal, ts time.Time) *Portfolio {
	return &Portfolio{
		capital: ledger.New(initialCapital, ts),
		assets:  ledger.New(initialAssets, ts),
		book:    position.NewBook(),
	}
}

// Restore rebuilds a portfolio from persisted state. The ledgers come
// back verbatim; the book is reconstructed by replaying the executed
// trade log through the close algorithm, which restores partial closes
// exactly.
func Restore(capital, assets []ledger.Entry, executed []model.ExecutedTrade, failed []model.FailedTrade) (*Portfolio, error) {
	capitalLedger := ledger.FromEntries(capital)
	assetLedger := ledger.FromEntries(assets)
	if capitalLedger == nil || assetLedger == nil {
		return nil, errors.New("portfolio: cannot restore from empty ledger")
	}

	book := position.NewBook()
	for _, t := range executed {
		switch t.Side {
		case model.Buy:
			if err := book.Add(t); err != nil {
				return nil, err
			}
		case model.Sell:
			book.Close(t.Quantity, t.Price)
		default:
			return nil, ErrUnknownSide
		}
	}

	return &Portfolio{
		capital:  capitalLedger,
		assets:   assetLedger,
		book:     book,
		executed: append([]model.ExecutedTrade(nil), executed...),
		failed:   append([]model.FailedTrade(nil), failed...),
	}, nil
}

// ApplyTrade records an executed trade: buys spend capital, gain assets,
// and open a position; sells do the inverse and close positions by the
// profit ranking.
func (p *Portfolio) ApplyTrade(t model.ExecutedTrade) error {
	switch t.Side {
	case model.Buy:
		if err := p.book.Add(t); err != nil {
			return err
		}
		p.capital.Decrement(t.Cost, t.Point)
		p.assets.Increment(t.Quantity, t.Point)
	case model.Sell:
		p.book.Close(t.Quantity, t.Price)
		p.capital.Increment(t.Cost, t.Point)
		p.assets.Decrement(t.Quantity, t.Point)
	default:
		return ErrUnknownSide
	}
	p.executed = append(p.executed, t)
	return nil
}

// RecordFailure logs a trade that could not be executed.
func (p *Portfolio) RecordFailure(f model.FailedTrade) {
	p.failed = append(p.failed, f)
}

// AvailableCapital returns the latest capital ledger value.
func (p *Portfolio) AvailableCapital() decimal.Decimal {
	return p.capital.Last()
}

// Assets returns the latest asset ledger value.
func (p *Portfolio) Assets() decimal.Decimal {
	return p.assets.Last()
}

// Book exposes the open position book.
func (p *Portfolio) Book() *position.Book {
	return p.book
}

// ExecutedTrades returns a copy of the executed trade log.
func (p *Portfolio) ExecutedTrades() []model.ExecutedTrade {
	return append([]model.ExecutedTrade(nil), p.executed...)
}

// FailedTrades returns a copy of the failed trade log.
func (p *Portfolio) FailedTrades() []model.FailedTrade {
	return append([]model.FailedTrade(nil), p.failed...)
}

// CapitalEntries returns the capital ledger entries, oldest first.
func (p *Portfolio) CapitalEntries() []ledger.Entry {
	return p.capital.Entries()
}

// AssetEntries returns the asset ledger entries, oldest first.
func (p *Portfolio) AssetEntries() []ledger.Entry {
	return p.assets.Entries()
}
