package replay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/backtest"
	"github.com/atmx/backtest-engine/internal/manager"
	"github.com/atmx/backtest-engine/internal/marketdata"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// Service runs backtests on demand and keeps completed run reports in
// memory for retrieval. A mutex serializes run execution; each run owns
// its own portfolio.
type Service struct {
	provider marketdata.Provider
	store    store.Store // optional; nil disables persistence
	wsHub    *WSHub      // optional WebSocket hub for trade streaming

	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewService creates a replay service. Pass nil for st to skip
// persistence and nil for hub to skip streaming.
func NewService(provider marketdata.Provider, st store.Store, hub *WSHub) *Service {
	return &Service{
		provider: provider,
		store:    st,
		wsHub:    hub,
		runs:     make(map[string]*RunRecord),
	}
}

// --- Request/Response types ---

// StrategyConfig selects and parameterizes the indicators for a run.
// Zero-valued indicators are left out; an empty config falls back to
// the default Bollinger band setup.
type StrategyConfig struct {
	Consensus        string  `json:"consensus"` // "unison" or "majority"
	BBandsPeriod     int     `json:"bbands_period"`
	BBandsMultiplier float64 `json:"bbands_multiplier"`
	VWAPWindow       int     `json:"vwap_window"`
}

// RunRequest is the JSON body for POST /api/v1/backtests.
type RunRequest struct {
	AssetSymbol    string          `json:"asset_symbol"`
	MarketSymbol   string          `json:"market_symbol"`
	Interval       string          `json:"interval"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Config         manager.Config  `json:"config"`
	Strategy       StrategyConfig  `json:"strategy"`
}

// RunRecord is a completed run with its identifying metadata.
type RunRecord struct {
	ID          string           `json:"id"`
	AssetSymbol string           `json:"asset_symbol"`
	Interval    string           `json:"interval"`
	StartedAt   time.Time        `json:"started_at"`
	Report      *backtest.Report `json:"report"`
}

func buildStrategy(cfg StrategyConfig) (backtest.Strategy, error) {
	consensus := strategy.Unison
	if cfg.Consensus == "majority" {
		consensus = strategy.Majority
	}

	var indicators []strategy.Indicator
	if cfg.BBandsPeriod > 0 {
		bb, err := strategy.NewBBands(cfg.BBandsPeriod, cfg.BBandsMultiplier)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, bb)
	}
	if cfg.VWAPWindow > 0 {
		vw, err := strategy.NewVWAP(cfg.VWAPWindow)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, vw)
	}
	if len(indicators) == 0 {
		indicators = append(indicators, strategy.DefaultBBands())
	}
	return strategy.NewEnsemble(consensus, indicators...)
}

// --- HTTP Handlers ---

// RunBacktest handles POST /api/v1/backtests.
func (s *Service) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.AssetSymbol == "" || req.Interval == "" {
		writeError(w, "asset_symbol and interval are required", http.StatusBadRequest)
		return
	}
	if req.MarketSymbol == "" {
		req.MarketSymbol = req.AssetSymbol
	}
	if !req.InitialCapital.IsPositive() {
		writeError(w, "initial_capital must be positive", http.StatusBadRequest)
		return
	}

	mgr, err := manager.New(req.Config)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	strat, err := buildStrategy(req.Strategy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	asset, err := s.provider.Candles(ctx, req.AssetSymbol, req.Interval)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	market, err := s.provider.Candles(ctx, req.MarketSymbol, req.Interval)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if len(asset) == 0 {
		writeError(w, "asset series is empty", http.StatusUnprocessableEntity)
		return
	}

	runID := uuid.New().String()
	pf := portfolio.New(req.InitialCapital, decimal.Zero, asset[0].Time)
	runner := backtest.NewRunner(strat, mgr, pf, slog.Default())
	if s.wsHub != nil {
		runner.OnTrade(func(t model.ExecutedTrade) {
			s.wsHub.Broadcast(tradeMessage(runID, t))
		})
	}

	record := &RunRecord{
		ID:          runID,
		AssetSymbol: req.AssetSymbol,
		Interval:    req.Interval,
		StartedAt:   time.Now().UTC(),
	}
	report, err := runner.Run(ctx, asset, market)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	record.Report = report

	if s.store != nil {
		if err := s.store.SavePortfolio(ctx, pf); err != nil {
			slog.Warn("portfolio save failed", "run_id", runID, "error", err)
		}
	}

	s.mu.Lock()
	s.runs[runID] = record
	s.mu.Unlock()

	slog.Info("backtest run stored",
		"run_id", runID,
		"asset", req.AssetSymbol,
		"interval", req.Interval,
		"trades", report.TradesExecuted,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(record)
}

// GetBacktest handles GET /api/v1/backtests/{runID}.
func (s *Service) GetBacktest(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	s.mu.RLock()
	record, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// ListBacktests handles GET /api/v1/backtests.
func (s *Service) ListBacktests(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	records := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
