package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

// VWAP signals momentum around the volume weighted average price of the
// trailing window: a close above it buys, below it sells.
type VWAP struct {
	window int
}

// NewVWAP returns a VWAP indicator over the last window candles.
func NewVWAP(window int) (*VWAP, error) {
	if window < 1 {
		return nil, ErrInvalidPeriod
	}
	return &VWAP{window: window}, nil
}

func (v *VWAP) Name() string {
	return "vwap"
}

// Compute averages the typical price (h+l+c)/3 weighted by volume.
// Zero cumulative volume holds.
func (v *VWAP) Compute(window []model.Candle) (model.Signal, error) {
	if len(window) == 0 {
		return model.SignalHold, nil
	}
	slice := window
	if len(slice) > v.window {
		slice = slice[len(slice)-v.window:]
	}

	three := decimal.NewFromInt(3)
	var weighted, volume decimal.Decimal
	for _, c := range slice {
		typical := c.High.Add(c.Low).Add(c.Close).Div(three)
		weighted = weighted.Add(typical.Mul(c.Volume))
		volume = volume.Add(c.Volume)
	}
	if volume.IsZero() {
		return model.SignalHold, nil
	}
	vwap := weighted.Div(volume)

	price := window[len(window)-1].Close
	switch {
	case price.GreaterThan(vwap):
		return model.SignalBuy, nil
	case price.LessThan(vwap):
		return model.SignalSell, nil
	}
	return model.SignalHold, nil
}
