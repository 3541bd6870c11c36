// Package backtest drives a strategy, the risk computation, and the
// position manager over aligned asset and market candle series.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/manager"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/risk"
)

// windowSize is the trailing window handed to the strategy and the risk
// computation: the rows strictly before the current candle, at most 100.
const windowSize = 100

var (
	ErrSeriesLengthMismatch = errors.New("backtest: asset and market series differ in length")
	ErrSeriesNotAligned     = errors.New("backtest: asset and market timestamps are not aligned")
	ErrNoCandles            = errors.New("backtest: no candles to run")
)

// StageError tags a failure with the pipeline stage and the row where
// it happened.
type StageError struct {
	Stage string
	Row   int
	Time  time.Time
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("backtest: stage %s failed at row %d (%s): %v",
		e.Stage, e.Row, e.Time.Format(time.RFC3339), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Strategy produces a signal from a trailing candle window.
type Strategy interface {
	Process(window []model.Candle) (model.Signal, error)
	Name() string
}

// Report summarizes a completed run.
type Report struct {
	Strategy       string                      `json:"strategy"`
	RowsProcessed  int                         `json:"rows_processed"`
	RowsSkipped    int                         `json:"rows_skipped"`
	TradesExecuted int                         `json:"trades_executed"`
	TradesFailed   int                         `json:"trades_failed"`
	Elapsed        time.Duration               `json:"elapsed_ns"`
	RowsPerSecond  float64                     `json:"rows_per_second"`
	FinalCapital   decimal.Decimal             `json:"final_capital"`
	FinalAssets    decimal.Decimal             `json:"final_assets"`
	OpenPositions  int                         `json:"open_positions"`
	Performance    portfolio.PerformanceReport `json:"performance"`
}

// Runner executes one backtest over one portfolio.
type Runner struct {
	strategy Strategy
	manager  *manager.PositionManager
	pf       *portfolio.Portfolio
	log      *slog.Logger
	observer func(model.ExecutedTrade)
}

// NewRunner wires a runner. A nil logger falls back to slog.Default.
func NewRunner(strategy Strategy, mgr *manager.PositionManager, pf *portfolio.Portfolio, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{strategy: strategy, manager: mgr, pf: pf, log: log}
}

// OnTrade registers a callback fired for every executed trade.
func (r *Runner) OnTrade(fn func(model.ExecutedTrade)) {
	r.observer = fn
}

// Portfolio exposes the portfolio the runner mutates.
func (r *Runner) Portfolio() *portfolio.Portfolio {
	return r.pf
}

// checkAlignment verifies the two series cover the same timestamps in
// the same order before any row is processed.
func checkAlignment(asset, market []model.Candle) error {
	if len(asset) != len(market) {
		return ErrSeriesLengthMismatch
	}
	if len(asset) == 0 {
		return ErrNoCandles
	}
	for i := range asset {
		if !asset[i].Time.Equal(market[i].Time) {
			return ErrSeriesNotAligned
		}
	}
	return nil
}

// Run walks the asset series candle by candle. Rows without a trailing
// window are skipped as warm-up. Any stage failure aborts the run with
// a StageError naming the stage and row.
func (r *Runner) Run(ctx context.Context, asset, market []model.Candle) (*Report, error) {
	if err := checkAlignment(asset, market); err != nil {
		return nil, err
	}

	report := &Report{Strategy: r.strategy.Name()}
	start := time.Now()

	for i, candle := range asset {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: "run", Row: i, Time: candle.Time, Err: err}
		}
		report.RowsProcessed++

		lo := i - windowSize
		if lo < 0 {
			lo = 0
		}
		assetWindow := asset[lo:i]
		marketWindow := market[lo:i]
		if len(assetWindow) == 0 {
			report.RowsSkipped++
			continue
		}

		signal, err := r.strategy.Process(assetWindow)
		if err != nil {
			return nil, &StageError{Stage: "strategy", Row: i, Time: candle.Time, Err: err}
		}

		riskReport, err := risk.Calculate(r.pf.Book(), marketWindow, assetWindow)
		if err != nil {
			return nil, &StageError{Stage: "risk", Row: i, Time: candle.Time, Err: err}
		}

		decision, err := r.manager.Decide(r.pf, riskReport, signal, candle.Close)
		if err != nil {
			return nil, &StageError{Stage: "decision", Row: i, Time: candle.Time, Err: err}
		}
		metrics.Decisions.WithLabelValues(decision.Action.String()).Inc()

		if err := r.execute(decision, candle, report); err != nil {
			return nil, &StageError{Stage: "execute", Row: i, Time: candle.Time, Err: err}
		}
	}

	report.Elapsed = time.Since(start)
	if secs := report.Elapsed.Seconds(); secs > 0 {
		report.RowsPerSecond = float64(report.RowsProcessed) / secs
	}
	report.FinalCapital = r.pf.AvailableCapital()
	report.FinalAssets = r.pf.Assets()
	report.OpenPositions = r.pf.Book().Len()
	report.Performance = r.pf.Performance(decimal.Zero)

	metrics.RowsProcessed.Add(float64(report.RowsProcessed))
	metrics.RunDuration.Observe(report.Elapsed.Seconds())
	metrics.RowsPerSecond.Set(report.RowsPerSecond)

	r.log.Info("backtest complete",
		"strategy", report.Strategy,
		"rows", report.RowsProcessed,
		"skipped", report.RowsSkipped,
		"trades", report.TradesExecuted,
		"failed", report.TradesFailed,
		"rows_per_second", report.RowsPerSecond,
		"final_capital", report.FinalCapital,
	)
	return report, nil
}

func (r *Runner) execute(decision model.TradeDecision, candle model.Candle, report *Report) error {
	switch decision.Action {
	case model.ActionBuy:
		trade := model.NewExecutedTrade(uuid.New().String(), model.Buy, candle.Close, decision.Quantity, candle.Time)
		if trade.Cost.GreaterThan(r.pf.AvailableCapital()) {
			r.fail(model.Buy, candle, decision.Quantity, model.FailureInsufficientCapital, report)
			return nil
		}
		return r.apply(trade, report)
	case model.ActionSell:
		if !decision.Quantity.IsPositive() {
			r.fail(model.Sell, candle, decision.Quantity, model.FailureZeroQuantity, report)
			return nil
		}
		trade := model.NewExecutedTrade(uuid.New().String(), model.Sell, candle.Close, decision.Quantity, candle.Time)
		return r.apply(trade, report)
	}
	return nil
}

func (r *Runner) apply(trade model.ExecutedTrade, report *Report) error {
	if err := r.pf.ApplyTrade(trade); err != nil {
		return err
	}
	report.TradesExecuted++
	metrics.TradesExecuted.WithLabelValues(trade.Side.String()).Inc()
	if r.observer != nil {
		r.observer(trade)
	}
	return nil
}

func (r *Runner) fail(side model.Side, candle model.Candle, qty decimal.Decimal, reason model.FailureReason, report *Report) {
	r.pf.RecordFailure(model.NewFailedTrade(side, candle.Close, qty, reason, candle.Time))
	report.TradesFailed++
	metrics.TradesFailed.WithLabelValues(string(reason)).Inc()
	r.log.Debug("trade rejected", "side", side.String(), "reason", string(reason), "point", candle.Time)
}
