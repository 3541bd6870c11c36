package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/manager"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// series builds strictly increasing candles, one second apart.
func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Time:   time.Unix(int64(i), 0).UTC(),
			Open:   d(c),
			High:   d(c),
			Low:    d(c),
			Close:  d(c),
			Volume: d(1),
		}
	}
	return out
}

// scripted replays a fixed signal sequence, then holds.
type scripted struct {
	signals []model.Signal
	calls   int
	err     error
}

func (s *scripted) Process([]model.Candle) (model.Signal, error) {
	if s.err != nil {
		return model.SignalHold, s.err
	}
	if s.calls < len(s.signals) {
		sig := s.signals[s.calls]
		s.calls++
		return sig, nil
	}
	return model.SignalHold, nil
}

func (s *scripted) Name() string { return "scripted" }

func testConfig() manager.Config {
	return manager.Config{
		MaxPositionSize:    d(120),
		StopLossPct:        d(0.5),
		TakeProfitPct:      d(10),
		MaxBeta:            d(1000),
		VaRLimit:           d(10000),
		MinSharpeRatio:     d(0),
		UnrealizedPnLLimit: d(5),
	}
}

func newRunner(t *testing.T, strat Strategy, capital float64) *Runner {
	t.Helper()
	mgr, err := manager.New(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pf := portfolio.New(d(capital), d(0), time.Unix(0, 0).UTC())
	return NewRunner(strat, mgr, pf, nil)
}

func TestRun_LengthMismatch(t *testing.T) {
	r := newRunner(t, &scripted{}, 1000)
	_, err := r.Run(context.Background(), series(1, 2), series(1, 2, 3))
	if err != ErrSeriesLengthMismatch {
		t.Errorf("expected ErrSeriesLengthMismatch, got %v", err)
	}
}

func TestRun_TimestampMismatch(t *testing.T) {
	r := newRunner(t, &scripted{}, 1000)
	asset := series(1, 2, 3)
	market := series(1, 2, 3)
	market[2].Time = market[2].Time.Add(time.Hour)
	_, err := r.Run(context.Background(), asset, market)
	if err != ErrSeriesNotAligned {
		t.Errorf("expected ErrSeriesNotAligned, got %v", err)
	}
}

func TestRun_EmptySeries(t *testing.T) {
	r := newRunner(t, &scripted{}, 1000)
	_, err := r.Run(context.Background(), nil, nil)
	if err != ErrNoCandles {
		t.Errorf("expected ErrNoCandles, got %v", err)
	}
}

func TestRun_WarmupSkipsFirstRow(t *testing.T) {
	strat := &scripted{}
	r := newRunner(t, strat, 1000)

	report, err := r.Run(context.Background(), series(100, 101, 102), series(100, 101, 102))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.RowsProcessed != 3 {
		t.Errorf("expected 3 rows processed, got %d", report.RowsProcessed)
	}
	if report.RowsSkipped != 1 {
		t.Errorf("expected 1 row skipped, got %d", report.RowsSkipped)
	}
	if report.TradesExecuted != 0 || report.TradesFailed != 0 {
		t.Errorf("expected no trades, got %+v", report)
	}
}

func TestRun_BuyOpensPosition(t *testing.T) {
	strat := &scripted{signals: []model.Signal{model.SignalBuy}}
	r := newRunner(t, strat, 101)

	report, err := r.Run(context.Background(), series(100, 101, 102, 103), series(100, 101, 102, 103))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TradesExecuted != 1 {
		t.Fatalf("expected 1 trade, got %d", report.TradesExecuted)
	}
	// Capital 101 at close 101 clamps the buy to exactly 1.
	if !r.Portfolio().Book().TotalQuantity().Equal(d(1)) {
		t.Errorf("expected quantity 1, got %s", r.Portfolio().Book().TotalQuantity())
	}
	if !report.FinalCapital.IsZero() {
		t.Errorf("expected capital 0, got %s", report.FinalCapital)
	}
	if report.OpenPositions != 1 {
		t.Errorf("expected 1 open position, got %d", report.OpenPositions)
	}
}

func TestRun_SellLiquidatesOnPnLLimit(t *testing.T) {
	// Buy 1 @ 101, then a sell signal once the marked window PnL
	// reaches the limit: 106 - 101 = 5.
	strat := &scripted{signals: []model.Signal{
		model.SignalBuy,
		model.SignalHold,
		model.SignalSell,
	}}
	r := newRunner(t, strat, 101)

	report, err := r.Run(context.Background(), series(100, 101, 106, 110), series(100, 101, 106, 110))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TradesExecuted != 2 {
		t.Fatalf("expected 2 trades, got %d", report.TradesExecuted)
	}
	if report.OpenPositions != 0 {
		t.Errorf("expected empty book, got %d", report.OpenPositions)
	}
	// 101 - 101 + 110.
	if !report.FinalCapital.Equal(d(110)) {
		t.Errorf("expected capital 110, got %s", report.FinalCapital)
	}
	if !report.FinalAssets.IsZero() {
		t.Errorf("expected zero assets, got %s", report.FinalAssets)
	}
}

func TestRun_OversizedBookBlocksBuys(t *testing.T) {
	// Two buys fill the MaxPositionSize budget while the close is near
	// the entries; once the 130 close enters the window the book marks
	// well above 120 and the third buy signal does nothing, even with
	// capital and risk budget left.
	strat := &scripted{signals: []model.Signal{
		model.SignalBuy,
		model.SignalBuy,
		model.SignalBuy,
	}}
	r := newRunner(t, strat, 300)

	report, err := r.Run(context.Background(), series(100, 101, 130, 140), series(100, 101, 130, 140))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TradesExecuted != 2 {
		t.Fatalf("expected 2 trades, got %d", report.TradesExecuted)
	}
	if report.TradesFailed != 0 {
		t.Errorf("expected no failed trades, got %d", report.TradesFailed)
	}
	if report.OpenPositions != 2 {
		t.Errorf("expected 2 open positions, got %d", report.OpenPositions)
	}
}

func TestRun_StrategyErrorIsStageTagged(t *testing.T) {
	boom := errors.New("boom")
	r := newRunner(t, &scripted{err: boom}, 1000)

	_, err := r.Run(context.Background(), series(100, 101), series(100, 101))
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != "strategy" || stageErr.Row != 1 {
		t.Errorf("expected strategy stage at row 1, got %+v", stageErr)
	}
	if !errors.Is(err, boom) {
		t.Error("expected wrapped cause")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	r := newRunner(t, &scripted{}, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, series(100, 101), series(100, 101))
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != "run" {
		t.Errorf("expected run stage, got %s", stageErr.Stage)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled cause")
	}
}

func TestExecute_InsufficientCapitalRecordsFailure(t *testing.T) {
	r := newRunner(t, &scripted{}, 50)
	report := &Report{}
	candle := series(100)[0]

	if err := r.execute(model.ExecuteBuy(d(10)), candle, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TradesFailed != 1 || report.TradesExecuted != 0 {
		t.Errorf("expected 1 failed trade, got %+v", report)
	}
	failed := r.Portfolio().FailedTrades()
	if len(failed) != 1 || failed[0].Reason != model.FailureInsufficientCapital {
		t.Errorf("expected insufficient_capital failure, got %+v", failed)
	}
}

func TestRun_ObserverSeesTrades(t *testing.T) {
	strat := &scripted{signals: []model.Signal{model.SignalBuy}}
	r := newRunner(t, strat, 10000)

	var seen []model.ExecutedTrade
	r.OnTrade(func(t model.ExecutedTrade) { seen = append(seen, t) })

	if _, err := r.Run(context.Background(), series(100, 101, 102), series(100, 101, 102)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected 1 observed trade, got %d", len(seen))
	}
	if seen[0].Side != model.Buy || seen[0].ID == "" {
		t.Errorf("unexpected trade %+v", seen[0])
	}
}
