// Package risk computes portfolio risk metrics over trailing candle
// windows: 95% historical value at risk, OLS beta against a market
// series, and the Sharpe ratio with the sample standard deviation.
package risk

import (
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

var ErrCandleDataNotAligned = errors.New("risk: market and asset candles are not aligned")

// BookView is the read-only view of the position book the computation
// needs.
type BookView interface {
	TotalQuantity() decimal.Decimal
	AverageEntryPrice() decimal.Decimal
	TotalNotionalValue() decimal.Decimal
}

// Calculate is a pure function of its inputs. Market and asset candles
// must have equal length and pairwise-equal timestamps. Open positions
// are marked to the last asset close.
func Calculate(book BookView, market, asset []model.Candle) (model.RiskReport, error) {
	if len(market) != len(asset) {
		return model.RiskReport{}, ErrCandleDataNotAligned
	}
	for i := range market {
		if !market[i].Time.Equal(asset[i].Time) {
			return model.RiskReport{}, ErrCandleDataNotAligned
		}
	}

	var currentPrice decimal.Decimal
	if len(asset) > 0 {
		currentPrice = asset[len(asset)-1].Close
	}

	report := model.RiskReport{
		TotalPositionValue: book.TotalQuantity().Mul(currentPrice),
		AverageEntryPrice:  book.AverageEntryPrice(),
		TotalQuantity:      book.TotalQuantity(),
	}
	report.UnrealizedPnL = report.TotalPositionValue.Sub(book.TotalNotionalValue())

	assetReturns := Returns(asset)
	marketReturns := Returns(market)

	report.VaR95 = valueAtRisk(assetReturns, report.TotalPositionValue)
	report.Beta = beta(marketReturns, assetReturns)
	report.SharpeRatio = sharpe(assetReturns)
	return report, nil
}

// Returns computes simple returns over consecutive closes. Rows with a
// zero close are skipped to avoid division by zero.
func Returns(candles []model.Candle) []decimal.Decimal {
	if len(candles) < 2 {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev.IsZero() {
			continue
		}
		out = append(out, candles[i].Close.Sub(prev).Div(prev))
	}
	return out
}

// valueAtRisk takes the 5th-percentile historical return and scales it
// by the total position value. The result is negative by convention
// when the tail return is a loss.
func valueAtRisk(returns []decimal.Decimal, totalPositionValue decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), returns...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	idx := len(sorted) * 5 / 100
	return sorted[idx].Mul(totalPositionValue)
}

// beta is the OLS slope of asset returns on market returns:
// (n*Sxy - Sx*Sy) / (n*Sxx - Sx^2), x the market series.
func beta(market, asset []decimal.Decimal) decimal.Decimal {
	n := len(market)
	if len(asset) < n {
		n = len(asset)
	}
	if n == 0 {
		return decimal.Zero
	}

	var sx, sy, sxy, sxx decimal.Decimal
	for i := 0; i < n; i++ {
		sx = sx.Add(market[i])
		sy = sy.Add(asset[i])
		sxy = sxy.Add(market[i].Mul(asset[i]))
		sxx = sxx.Add(market[i].Mul(market[i]))
	}
	nd := decimal.NewFromInt(int64(n))
	denom := nd.Mul(sxx).Sub(sx.Mul(sx))
	if denom.IsZero() {
		return decimal.Zero
	}
	return nd.Mul(sxy).Sub(sx.Mul(sy)).Div(denom)
}

// sharpe is the mean return over the sample standard deviation
// (variance over n-1). Fewer than two returns or zero deviation give 0.
func sharpe(returns []decimal.Decimal) decimal.Decimal {
	n := len(returns)
	if n < 2 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	nd := decimal.NewFromInt(int64(n))
	mean := sum.Div(nd)

	variance := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(nd.Sub(decimal.NewFromInt(1)))
	if variance.IsZero() {
		return decimal.Zero
	}

	// decimal has no square root; round-trip through float64 like the
	// rest of the transcendental math in this codebase.
	stddev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if stddev.IsZero() {
		return decimal.Zero
	}
	return mean.Div(stddev)
}
