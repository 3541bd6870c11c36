package portfolio

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/ledger"
	"github.com/atmx/backtest-engine/internal/model"
)

// PerformanceReport summarizes a completed run.
type PerformanceReport struct {
	TotalReturn decimal.Decimal `json:"total_return"`
	SharpeRatio decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"` // negative or zero
	TotalTrades int             `json:"total_trades"`
}

// Performance computes summary metrics over the trade log and the
// capital ledger. TotalReturn is relative to initial capital; Sharpe is
// the mean signed trade flow over its sample standard deviation, minus
// the risk-free rate; MaxDrawdown is the worst peak-to-trough fall of
// the capital curve.
func (p *Portfolio) Performance(riskFreeRate decimal.Decimal) PerformanceReport {
	report := PerformanceReport{TotalTrades: len(p.executed)}

	initial := p.capital.First()
	if !initial.IsZero() {
		report.TotalReturn = p.capital.Last().Sub(initial).Div(initial)
	}
	report.SharpeRatio = tradeFlowSharpe(p.executed, riskFreeRate)
	report.MaxDrawdown = maxDrawdown(p.CapitalEntries())
	return report
}

// tradeFlowSharpe treats each trade as a signed cash flow, buys negative
// and sells positive, ordered by point.
func tradeFlowSharpe(trades []model.ExecutedTrade, riskFreeRate decimal.Decimal) decimal.Decimal {
	if len(trades) < 2 {
		return decimal.Zero
	}
	sorted := append([]model.ExecutedTrade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Point.Before(sorted[j].Point)
	})

	flows := make([]decimal.Decimal, len(sorted))
	sum := decimal.Zero
	for i, t := range sorted {
		flow := t.Cost
		if t.Side == model.Buy {
			flow = flow.Neg()
		}
		flows[i] = flow
		sum = sum.Add(flow)
	}
	n := decimal.NewFromInt(int64(len(flows)))
	mean := sum.Div(n)

	variance := decimal.Zero
	for _, f := range flows {
		diff := f.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(n.Sub(decimal.NewFromInt(1)))
	if variance.IsZero() {
		return decimal.Zero
	}
	stddev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if stddev.IsZero() {
		return decimal.Zero
	}
	return mean.Sub(riskFreeRate).Div(stddev)
}

// maxDrawdown walks the equity curve tracking the running peak.
func maxDrawdown(entries []ledger.Entry) decimal.Decimal {
	worst := decimal.Zero
	if len(entries) == 0 {
		return worst
	}
	peak := entries[0].Value
	for _, e := range entries[1:] {
		if e.Value.GreaterThan(peak) {
			peak = e.Value
			continue
		}
		if peak.IsZero() {
			continue
		}
		dd := e.Value.Sub(peak).Div(peak)
		if dd.LessThan(worst) {
			worst = dd
		}
	}
	return worst
}
