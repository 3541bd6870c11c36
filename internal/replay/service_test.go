package replay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/manager"
	"github.com/atmx/backtest-engine/internal/marketdata"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/replay"
	"github.com/atmx/backtest-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	router *chi.Mux
	store  *store.FileStore
}

// newTestEnv seeds a candle fixture on disk and wires the service the
// way main does.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider := marketdata.NewFileProvider(t.TempDir())
	candles := make([]model.Candle, 30)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		price := 100.0 + float64(i%5)
		candles[i] = model.Candle{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   d(price),
			High:   d(price + 1),
			Low:    d(price - 1),
			Close:  d(price),
			Volume: d(10),
		}
	}
	if err := provider.SaveCandles("BTC", "1m", candles); err != nil {
		t.Fatalf("seed candles: %v", err)
	}

	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	svc := replay.NewService(provider, st, nil)
	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Post("/api/v1/backtests", svc.RunBacktest)
	r.Get("/api/v1/backtests", svc.ListBacktests)
	r.Get("/api/v1/backtests/{runID}", svc.GetBacktest)
	return &testEnv{router: r, store: st}
}

func validRequest() replay.RunRequest {
	return replay.RunRequest{
		AssetSymbol:    "BTC",
		Interval:       "1m",
		InitialCapital: d(10000),
		Config: manager.Config{
			MaxPositionSize:    d(1000),
			StopLossPct:        d(0.1),
			TakeProfitPct:      d(0.2),
			MaxBeta:            d(10),
			VaRLimit:           d(1000),
			MinSharpeRatio:     d(0),
			UnrealizedPnLLimit: d(100),
		},
		Strategy: replay.StrategyConfig{Consensus: "unison", VWAPWindow: 5},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRunBacktest_CompletesAndStoresRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/backtests", validRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record replay.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.ID == "" || record.Report == nil {
		t.Fatalf("incomplete record: %+v", record)
	}
	if record.Report.RowsProcessed != 30 {
		t.Errorf("expected 30 rows, got %d", record.Report.RowsProcessed)
	}
	if record.Report.RowsSkipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", record.Report.RowsSkipped)
	}

	// The run is retrievable afterwards.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/backtests/%s", record.ID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	// The portfolio was persisted and loads back.
	if _, err := env.store.LoadPortfolio(context.Background()); err != nil {
		t.Errorf("expected persisted portfolio, got %v", err)
	}
}

func TestRunBacktest_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRunBacktest_MissingSymbol(t *testing.T) {
	env := newTestEnv(t)
	body := validRequest()
	body.AssetSymbol = ""
	rec := env.do(t, http.MethodPost, "/api/v1/backtests", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRunBacktest_UnknownSeries(t *testing.T) {
	env := newTestEnv(t)
	body := validRequest()
	body.AssetSymbol = "DOGE"
	rec := env.do(t, http.MethodPost, "/api/v1/backtests", body)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRunBacktest_BadConfig(t *testing.T) {
	env := newTestEnv(t)
	body := validRequest()
	body.Config.VaRLimit = d(0)
	rec := env.do(t, http.MethodPost, "/api/v1/backtests", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetBacktest_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/backtests/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
