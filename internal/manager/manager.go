// Package manager decides trades from strategy signals and risk reports.
// It never mutates the portfolio; execution belongs to the runner.
package manager

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

var (
	ErrInvalidConfig = errors.New("manager: invalid config")
	ErrInvalidPrice  = errors.New("manager: price must be positive")
)

// Config holds the risk limits and sizing parameters for one run.
// MaxDrawdown is accepted for completeness but no trigger consults it.
type Config struct {
	MaxPositionSize    decimal.Decimal `json:"max_position_size"`
	StopLossPct        decimal.Decimal `json:"stop_loss_percentage"`
	TakeProfitPct      decimal.Decimal `json:"take_profit_percentage"`
	MaxBeta            decimal.Decimal `json:"max_beta"`
	VaRLimit           decimal.Decimal `json:"var_limit"`
	MinSharpeRatio     decimal.Decimal `json:"min_sharpe_ratio"`
	UnrealizedPnLLimit decimal.Decimal `json:"unrealized_pnl_limit"`
	MaxDrawdown        decimal.Decimal `json:"max_drawdown,omitempty"`
}

// Validate checks the limits that every decision path depends on.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value decimal.Decimal
	}{
		{"max_position_size", c.MaxPositionSize},
		{"stop_loss_percentage", c.StopLossPct},
		{"take_profit_percentage", c.TakeProfitPct},
		{"max_beta", c.MaxBeta},
		{"var_limit", c.VaRLimit},
		{"unrealized_pnl_limit", c.UnrealizedPnLLimit},
	}
	for _, f := range required {
		if !f.value.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, f.name)
		}
	}
	if c.MinSharpeRatio.IsNegative() {
		return fmt.Errorf("%w: min_sharpe_ratio must not be negative", ErrInvalidConfig)
	}
	if c.MaxDrawdown.IsNegative() {
		return fmt.Errorf("%w: max_drawdown must not be negative", ErrInvalidConfig)
	}
	return nil
}

// PositionManager turns (signal, risk, price) into a trade decision.
type PositionManager struct {
	cfg Config
}

// New validates the config and returns a manager.
func New(cfg Config) (*PositionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PositionManager{cfg: cfg}, nil
}

// Config returns the manager's configuration.
func (m *PositionManager) Config() Config {
	return m.cfg
}

// withinRiskTolerance gates the tick. An empty book always passes: with
// nothing at risk the metrics carry no information. Otherwise all four
// limits must hold.
func (m *PositionManager) withinRiskTolerance(r model.RiskReport) bool {
	if r.TotalPositionValue.IsZero() {
		return true
	}
	if r.TotalPositionValue.GreaterThan(m.cfg.MaxPositionSize) {
		return false
	}
	if r.VaR95.Abs().GreaterThan(m.cfg.VaRLimit) {
		return false
	}
	if r.Beta.GreaterThan(m.cfg.MaxBeta) {
		return false
	}
	if r.SharpeRatio.LessThan(m.cfg.MinSharpeRatio) {
		return false
	}
	return true
}

// Decide maps a strategy signal to a trade decision. The risk gate is
// evaluated once here; a failed gate means DoNothing whatever the
// signal says.
func (m *PositionManager) Decide(p *portfolio.Portfolio, r model.RiskReport, signal model.Signal, price decimal.Decimal) (model.TradeDecision, error) {
	if !price.IsPositive() {
		return model.TradeDecision{}, ErrInvalidPrice
	}
	if !m.withinRiskTolerance(r) {
		return model.DoNothing(model.ReasonRiskTolerance), nil
	}

	switch signal {
	case model.SignalBuy:
		return m.decideBuy(p, r, price), nil
	case model.SignalSell:
		return m.decideSell(p, r, price), nil
	case model.SignalHold:
		return model.DoNothing(model.ReasonHoldSignal), nil
	}
	return model.TradeDecision{}, fmt.Errorf("manager: unknown signal %d", int(signal))
}

func (m *PositionManager) decideBuy(p *portfolio.Portfolio, r model.RiskReport, price decimal.Decimal) model.TradeDecision {
	availableCapital := p.AvailableCapital()
	if !availableCapital.IsPositive() {
		return model.DoNothing(model.ReasonNoCapital)
	}

	availableRisk := m.cfg.VaRLimit.Sub(r.VaR95.Abs())
	qty := decimal.Min(
		availableRisk.Div(price),
		availableCapital.Div(price),
		m.cfg.MaxPositionSize.Div(price),
	)
	if !qty.IsPositive() {
		return model.DoNothing(model.ReasonZeroQuantity)
	}
	return model.ExecuteBuy(qty)
}

// decideSell checks the sell triggers in strict priority order and acts
// on the first match. The gate was already evaluated in Decide and is
// not re-checked here.
func (m *PositionManager) decideSell(p *portfolio.Portfolio, r model.RiskReport, price decimal.Decimal) model.TradeDecision {
	book := p.Book()
	if book.Len() == 0 {
		return model.DoNothing(model.ReasonNoPositions)
	}
	total := book.TotalQuantity()

	// 1. Profit taking: unrealized PnL reached its limit, liquidate.
	if r.UnrealizedPnL.GreaterThanOrEqual(m.cfg.UnrealizedPnLLimit) {
		qty, ids := book.PlanClose(total, price)
		return model.ExecuteSell(qty, ids)
	}

	// 2. VaR breach: trim just enough exposure to get back under the limit.
	excess := r.VaR95.Abs().Sub(m.cfg.VaRLimit)
	if excess.IsPositive() {
		trim := decimal.Min(excess.Div(price), total)
		if trim.IsPositive() {
			qty, ids := book.PlanClose(trim, price)
			return model.ExecuteSell(qty, ids)
		}
	}

	// 3. Per-position exits: stop loss or take profit, insertion order.
	var (
		qty decimal.Decimal
		ids []string
	)
	for _, pos := range book.Positions() {
		stop := pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(m.cfg.StopLossPct))
		take := pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(m.cfg.TakeProfitPct))
		if price.LessThanOrEqual(stop) || price.GreaterThanOrEqual(take) {
			qty = qty.Add(pos.Quantity)
			ids = append(ids, pos.OrderID)
		}
	}
	if qty.IsPositive() {
		return model.ExecuteSell(qty, ids)
	}

	return model.DoNothing(model.ReasonNoSellTriggers)
}
