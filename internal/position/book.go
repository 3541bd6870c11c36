// Package position tracks open positions keyed by order id and implements
// the profit-ranked close algorithm used when selling.
package position

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

var (
	ErrInvalidSide     = errors.New("position: only buy trades open positions")
	ErrInvalidQuantity = errors.New("position: quantity must be positive")
	ErrMissingOrderID  = errors.New("position: trade has no order id")
)

// OpenPosition is one open lot. The order id of the originating trade is
// its identity; entry time is data, not a key, so duplicate timestamps
// are unambiguous.
type OpenPosition struct {
	OrderID    string          `json:"order_id"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`
}

// Book holds open positions in insertion order with cached aggregates.
// Book is not safe for concurrent use; callers serialize access.
type Book struct {
	positions []OpenPosition

	totalQuantity decimal.Decimal
	totalNotional decimal.Decimal
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{}
}

// Add opens a position from an executed buy trade.
func (b *Book) Add(trade model.ExecutedTrade) error {
	if trade.Side != model.Buy {
		return ErrInvalidSide
	}
	if trade.ID == "" {
		return ErrMissingOrderID
	}
	if !trade.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	b.positions = append(b.positions, OpenPosition{
		OrderID:    trade.ID,
		EntryPrice: trade.Price,
		Quantity:   trade.Quantity,
		EntryTime:  trade.Point,
	})
	b.recompute()
	return nil
}

// closePlan describes how a requested close maps onto open positions.
type closePlan struct {
	fullIdx    []int
	fullIDs    []string
	partialIdx int // -1 when no partial close
	partialQty decimal.Decimal
	closedQty  decimal.Decimal
}

// plan ranks positions by profit at closePrice, descending, ties keeping
// insertion order, then walks the ranking allocating the requested
// quantity. Fully covered positions close whole; a trailing remainder
// reduces the next position without closing it.
func (b *Book) plan(quantity, closePrice decimal.Decimal) closePlan {
	p := closePlan{partialIdx: -1}
	if !quantity.IsPositive() || len(b.positions) == 0 {
		return p
	}

	ranked := make([]int, len(b.positions))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(x, y int) bool {
		px := closePrice.Sub(b.positions[ranked[x]].EntryPrice)
		py := closePrice.Sub(b.positions[ranked[y]].EntryPrice)
		return px.GreaterThan(py)
	})

	remaining := quantity
	for _, idx := range ranked {
		if !remaining.IsPositive() {
			break
		}
		pos := b.positions[idx]
		if remaining.GreaterThanOrEqual(pos.Quantity) {
			p.fullIdx = append(p.fullIdx, idx)
			p.fullIDs = append(p.fullIDs, pos.OrderID)
			p.closedQty = p.closedQty.Add(pos.Quantity)
			remaining = remaining.Sub(pos.Quantity)
		} else {
			p.partialIdx = idx
			p.partialQty = remaining
			p.closedQty = p.closedQty.Add(remaining)
			remaining = decimal.Zero
		}
	}
	return p
}

// PlanClose reports what Close would do without mutating the book: the
// quantity that would actually close and the order ids of positions that
// would close in full.
func (b *Book) PlanClose(quantity, closePrice decimal.Decimal) (decimal.Decimal, []string) {
	p := b.plan(quantity, closePrice)
	return p.closedQty, p.fullIDs
}

// Close reduces the book by quantity at closePrice and returns the order
// ids of positions closed in full. Requesting more than the total closes
// everything; zero or negative quantity is a no-op.
func (b *Book) Close(quantity, closePrice decimal.Decimal) []string {
	p := b.plan(quantity, closePrice)
	if p.closedQty.IsZero() {
		return nil
	}

	full := make(map[int]bool, len(p.fullIdx))
	for _, idx := range p.fullIdx {
		full[idx] = true
	}

	kept := b.positions[:0]
	for i, pos := range b.positions {
		if full[i] {
			continue
		}
		if i == p.partialIdx {
			pos.Quantity = pos.Quantity.Sub(p.partialQty)
		}
		kept = append(kept, pos)
	}
	b.positions = kept
	b.recompute()
	return p.fullIDs
}

func (b *Book) recompute() {
	b.totalQuantity = decimal.Zero
	b.totalNotional = decimal.Zero
	for _, pos := range b.positions {
		b.totalQuantity = b.totalQuantity.Add(pos.Quantity)
		b.totalNotional = b.totalNotional.Add(pos.EntryPrice.Mul(pos.Quantity))
	}
}

// TotalQuantity returns the summed open quantity.
func (b *Book) TotalQuantity() decimal.Decimal {
	return b.totalQuantity
}

// TotalNotionalValue returns the summed entry price times quantity.
func (b *Book) TotalNotionalValue() decimal.Decimal {
	return b.totalNotional
}

// AverageEntryPrice returns the quantity-weighted entry price, or zero
// when the book is empty.
func (b *Book) AverageEntryPrice() decimal.Decimal {
	if b.totalQuantity.IsZero() {
		return decimal.Zero
	}
	return b.totalNotional.Div(b.totalQuantity)
}

// Len reports the number of open positions.
func (b *Book) Len() int {
	return len(b.positions)
}

// Positions returns a copy of the open positions in insertion order.
func (b *Book) Positions() []OpenPosition {
	out := make([]OpenPosition, len(b.positions))
	copy(out, b.positions)
	return out
}
