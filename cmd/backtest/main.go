// Command backtest runs a single backtest from candle CSV files and
// writes the resulting portfolio state back to disk.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/backtest"
	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/manager"
	"github.com/atmx/backtest-engine/internal/marketdata"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var (
		dataDir      = flag.String("data", "./data", "candle CSV directory")
		outDir       = flag.String("out", "./portfolio", "portfolio output directory")
		managerPath  = flag.String("config", "manager.json", "manager config JSON file")
		assetSymbol  = flag.String("asset", "", "asset symbol (required)")
		marketSymbol = flag.String("market", "", "market symbol (defaults to asset)")
		interval     = flag.String("interval", "1m", "candle interval")
		capital      = flag.String("capital", "10000", "initial capital")
		consensus    = flag.String("consensus", "unison", "consensus rule: unison or majority")
		bbandsPeriod = flag.Int("bbands", 20, "Bollinger band period, 0 disables")
		vwapWindow   = flag.Int("vwap", 0, "VWAP window, 0 disables")
	)
	flag.Parse()

	if *assetSymbol == "" {
		slog.Error("missing -asset")
		os.Exit(1)
	}
	if *marketSymbol == "" {
		*marketSymbol = *assetSymbol
	}

	initialCapital, err := decimal.NewFromString(*capital)
	if err != nil || !initialCapital.IsPositive() {
		slog.Error("invalid -capital", "value", *capital)
		os.Exit(1)
	}

	cfg, err := config.LoadManagerConfig(*managerPath)
	if err != nil {
		slog.Error("manager config load failed", "err", err)
		os.Exit(1)
	}
	mgr, err := manager.New(cfg)
	if err != nil {
		slog.Error("manager init failed", "err", err)
		os.Exit(1)
	}

	strat, err := buildStrategy(*consensus, *bbandsPeriod, *vwapWindow)
	if err != nil {
		slog.Error("strategy init failed", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	provider := marketdata.NewFileProvider(*dataDir)
	asset, err := provider.Candles(ctx, *assetSymbol, *interval)
	if err != nil {
		slog.Error("asset candles load failed", "err", err)
		os.Exit(1)
	}
	market, err := provider.Candles(ctx, *marketSymbol, *interval)
	if err != nil {
		slog.Error("market candles load failed", "err", err)
		os.Exit(1)
	}

	pf := portfolio.New(initialCapital, decimal.Zero, asset[0].Time)
	runner := backtest.NewRunner(strat, mgr, pf, logger)

	report, err := runner.Run(ctx, asset, market)
	if err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}

	st, err := store.NewFileStore(*outDir)
	if err != nil {
		slog.Error("portfolio store init failed", "err", err)
		os.Exit(1)
	}
	if err := st.SavePortfolio(ctx, pf); err != nil {
		slog.Error("portfolio save failed", "err", err)
		os.Exit(1)
	}

	slog.Info("portfolio saved",
		"dir", *outDir,
		"final_capital", report.FinalCapital,
		"total_return", report.Performance.TotalReturn,
		"max_drawdown", report.Performance.MaxDrawdown,
		"sharpe", report.Performance.SharpeRatio,
	)
}

func buildStrategy(consensus string, bbandsPeriod, vwapWindow int) (backtest.Strategy, error) {
	rule := strategy.Unison
	if consensus == "majority" {
		rule = strategy.Majority
	}

	var indicators []strategy.Indicator
	if bbandsPeriod > 0 {
		bb, err := strategy.NewBBands(bbandsPeriod, 2.0)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, bb)
	}
	if vwapWindow > 0 {
		vw, err := strategy.NewVWAP(vwapWindow)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, vw)
	}
	if len(indicators) == 0 {
		indicators = append(indicators, strategy.DefaultBBands())
	}
	return strategy.NewEnsemble(rule, indicators...)
}
