package strategy

import (
	"errors"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

const (
	defaultBBandsPeriod     = 20
	defaultBBandsMultiplier = 2.0
)

var ErrInvalidPeriod = errors.New("strategy: period must be at least 2")

// BBands signals mean reversion against Bollinger bands: a close above
// the upper band sells, below the lower band buys.
type BBands struct {
	period     int
	multiplier float64
}

// NewBBands returns a Bollinger band indicator. Period must be at
// least 2.
func NewBBands(period int, multiplier float64) (*BBands, error) {
	if period < 2 {
		return nil, ErrInvalidPeriod
	}
	if multiplier <= 0 {
		multiplier = defaultBBandsMultiplier
	}
	return &BBands{period: period, multiplier: multiplier}, nil
}

// DefaultBBands returns the standard 20-period, 2-sigma configuration.
func DefaultBBands() *BBands {
	return &BBands{period: defaultBBandsPeriod, multiplier: defaultBBandsMultiplier}
}

func (b *BBands) Name() string {
	return "bbands"
}

// Compute holds until the window covers the period, then compares the
// last close to the band edges. Band math runs in float64; the signal
// comparison does not feed money values back into the portfolio.
func (b *BBands) Compute(window []model.Candle) (model.Signal, error) {
	if len(window) < b.period {
		return model.SignalHold, nil
	}

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close.InexactFloat64()
	}

	upper, _, lower := talib.BBands(closes, b.period, b.multiplier, b.multiplier, talib.SMA)

	last := len(window) - 1
	price := decimal.NewFromFloat(closes[last])
	up := decimal.NewFromFloat(upper[last])
	low := decimal.NewFromFloat(lower[last])

	switch {
	case price.GreaterThan(up):
		return model.SignalSell, nil
	case price.LessThan(low):
		return model.SignalBuy, nil
	}
	return model.SignalHold, nil
}
