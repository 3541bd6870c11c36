package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func seedPortfolio(t *testing.T) *portfolio.Portfolio {
	t.Helper()
	p := portfolio.New(d(10000), d(0), ts(0))

	trades := []model.ExecutedTrade{
		model.NewExecutedTrade("a", model.Buy, d(100), d(10), ts(1)),
		model.NewExecutedTrade("b", model.Buy, d(110), d(5), ts(2)),
		model.NewExecutedTrade("c", model.Sell, d(120), d(6), ts(3)),
	}
	for _, tr := range trades {
		if err := p.ApplyTrade(tr); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	p.RecordFailure(model.NewFailedTrade(model.Buy, d(130), d(99), model.FailureInsufficientCapital, ts(4)))
	return p
}

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, dir
}

func TestFileStore_RoundTrip(t *testing.T) {
	s, _ := newStore(t)
	p := seedPortfolio(t)
	ctx := context.Background()

	if err := s.SavePortfolio(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := s.LoadPortfolio(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !loaded.AvailableCapital().Equal(p.AvailableCapital()) {
		t.Errorf("capital mismatch: %s vs %s", loaded.AvailableCapital(), p.AvailableCapital())
	}
	if !loaded.Assets().Equal(p.Assets()) {
		t.Errorf("assets mismatch: %s vs %s", loaded.Assets(), p.Assets())
	}

	wantExec := p.ExecutedTrades()
	gotExec := loaded.ExecutedTrades()
	if len(gotExec) != len(wantExec) {
		t.Fatalf("expected %d executed trades, got %d", len(wantExec), len(gotExec))
	}
	for i := range wantExec {
		w, g := wantExec[i], gotExec[i]
		if g.ID != w.ID || g.Side != w.Side || !g.Price.Equal(w.Price) ||
			!g.Quantity.Equal(w.Quantity) || !g.Cost.Equal(w.Cost) || !g.Point.Equal(w.Point) {
			t.Errorf("executed trade %d mismatch: %+v vs %+v", i, g, w)
		}
	}

	wantFailed := p.FailedTrades()
	gotFailed := loaded.FailedTrades()
	if len(gotFailed) != 1 {
		t.Fatalf("expected 1 failed trade, got %d", len(gotFailed))
	}
	if gotFailed[0].Reason != wantFailed[0].Reason || !gotFailed[0].Cost.Equal(wantFailed[0].Cost) {
		t.Errorf("failed trade mismatch: %+v vs %+v", gotFailed[0], wantFailed[0])
	}

	// The partial close of the seed sell must survive the round trip.
	wantPos := p.Book().Positions()
	gotPos := loaded.Book().Positions()
	if len(gotPos) != len(wantPos) {
		t.Fatalf("expected %d positions, got %d", len(wantPos), len(gotPos))
	}
	for i := range wantPos {
		if gotPos[i].OrderID != wantPos[i].OrderID || !gotPos[i].Quantity.Equal(wantPos[i].Quantity) {
			t.Errorf("position %d mismatch: %+v vs %+v", i, gotPos[i], wantPos[i])
		}
	}
}

func TestFileStore_ExactColumns(t *testing.T) {
	s, dir := newStore(t)
	p := seedPortfolio(t)

	if err := s.SavePortfolio(context.Background(), p); err != nil {
		t.Fatalf("save: %v", err)
	}

	headers := map[string]string{
		"capital.csv":         "timestamp,value",
		"assets.csv":          "timestamp,value",
		"executed_trades.csv": "id,side,price,quantity,cost,point",
		"failed_trades.csv":   "side,price,quantity,cost,reason,point",
		"open_positions.csv":  "timestamp",
	}
	for name, want := range headers {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if lines[0] != want {
			t.Errorf("%s: expected header %q, got %q", name, want, lines[0])
		}
	}

	// Timestamps carry millisecond precision; sides are integers.
	data, _ := os.ReadFile(filepath.Join(dir, "executed_trades.csv"))
	if !strings.Contains(string(data), "a,1,100,10,1000,1970-01-01T00:00:01.000") {
		t.Errorf("unexpected executed row encoding:\n%s", data)
	}
	if !strings.Contains(string(data), "c,-1,120,6,720,1970-01-01T00:00:03.000") {
		t.Errorf("unexpected sell row encoding:\n%s", data)
	}
}

func TestFileStore_MissingFilesIsNotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.LoadPortfolio(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_PositionMismatchDetected(t *testing.T) {
	s, dir := newStore(t)
	p := seedPortfolio(t)
	ctx := context.Background()

	if err := s.SavePortfolio(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Corrupt the position index with an extra entry.
	path := filepath.Join(dir, "open_positions.csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("2020-01-01T00:00:00.000\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if _, err := s.LoadPortfolio(ctx); !errors.Is(err, ErrPositionMismatch) {
		t.Errorf("expected ErrPositionMismatch, got %v", err)
	}
}

func TestPointLayout_RoundTrip(t *testing.T) {
	orig := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	parsed, err := ParsePoint(FormatPoint(orig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("expected %v, got %v", orig, parsed)
	}
}
