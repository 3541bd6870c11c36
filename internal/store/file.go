package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/ledger"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
)

const (
	capitalFile   = "capital.csv"
	assetsFile    = "assets.csv"
	executedFile  = "executed_trades.csv"
	failedFile    = "failed_trades.csv"
	positionsFile = "open_positions.csv"
)

// FileStore persists a portfolio as five CSV files in one directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) SavePortfolio(ctx context.Context, p *portfolio.Portfolio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeLedger(capitalFile, p.CapitalEntries()); err != nil {
		return err
	}
	if err := s.writeLedger(assetsFile, p.AssetEntries()); err != nil {
		return err
	}
	if err := s.writeExecuted(p.ExecutedTrades()); err != nil {
		return err
	}
	if err := s.writeFailed(p.FailedTrades()); err != nil {
		return err
	}
	return s.writePositions(p)
}

func (s *FileStore) LoadPortfolio(ctx context.Context) (*portfolio.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	capital, err := s.readLedger(capitalFile)
	if err != nil {
		return nil, err
	}
	assets, err := s.readLedger(assetsFile)
	if err != nil {
		return nil, err
	}
	executed, err := s.readExecuted()
	if err != nil {
		return nil, err
	}
	failed, err := s.readFailed()
	if err != nil {
		return nil, err
	}

	p, err := portfolio.Restore(capital, assets, executed, failed)
	if err != nil {
		return nil, err
	}

	saved, err := s.readPositionTimestamps()
	if err != nil {
		return nil, err
	}
	if err := verifyPositions(p, saved); err != nil {
		return nil, err
	}
	return p, nil
}

// verifyPositions checks the persisted position index against the book
// rebuilt from the trade log.
func verifyPositions(p *portfolio.Portfolio, saved []string) error {
	current := make([]string, 0, p.Book().Len())
	for _, pos := range p.Book().Positions() {
		current = append(current, FormatPoint(pos.EntryTime))
	}
	if len(saved) != len(current) {
		return ErrPositionMismatch
	}
	sort.Strings(saved)
	sort.Strings(current)
	for i := range saved {
		if saved[i] != current[i] {
			return ErrPositionMismatch
		}
	}
	return nil
}

func (s *FileStore) writeFile(name string, header []string, rows [][]string) error {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("store: write %s: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) readFile(name string, wantCols int) ([][]string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: missing %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = wantCols
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("store: read %s: missing header", name)
	}
	return records[1:], nil
}

func (s *FileStore) writeLedger(name string, entries []ledger.Entry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{FormatPoint(e.Timestamp), e.Value.String()}
	}
	return s.writeFile(name, []string{"timestamp", "value"}, rows)
}

func (s *FileStore) readLedger(name string) ([]ledger.Entry, error) {
	records, err := s.readFile(name, 2)
	if err != nil {
		return nil, err
	}
	entries := make([]ledger.Entry, 0, len(records))
	for _, rec := range records {
		ts, err := ParsePoint(rec[0])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", name, err)
		}
		value, err := decimal.NewFromString(rec[1])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", name, err)
		}
		entries = append(entries, ledger.Entry{Timestamp: ts, Value: value})
	}
	return entries, nil
}

func (s *FileStore) writeExecuted(trades []model.ExecutedTrade) error {
	rows := make([][]string, len(trades))
	for i, t := range trades {
		rows[i] = []string{
			t.ID,
			strconv.Itoa(int(t.Side)),
			t.Price.String(),
			t.Quantity.String(),
			t.Cost.String(),
			FormatPoint(t.Point),
		}
	}
	return s.writeFile(executedFile, []string{"id", "side", "price", "quantity", "cost", "point"}, rows)
}

func (s *FileStore) readExecuted() ([]model.ExecutedTrade, error) {
	records, err := s.readFile(executedFile, 6)
	if err != nil {
		return nil, err
	}
	trades := make([]model.ExecutedTrade, 0, len(records))
	for _, rec := range records {
		side, price, qty, cost, err := parseTradeFields(rec[1], rec[2], rec[3], rec[4])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", executedFile, err)
		}
		point, err := ParsePoint(rec[5])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", executedFile, err)
		}
		trades = append(trades, model.ExecutedTrade{
			ID:       rec[0],
			Side:     side,
			Price:    price,
			Quantity: qty,
			Cost:     cost,
			Point:    point,
		})
	}
	return trades, nil
}

func (s *FileStore) writeFailed(trades []model.FailedTrade) error {
	rows := make([][]string, len(trades))
	for i, t := range trades {
		rows[i] = []string{
			strconv.Itoa(int(t.Side)),
			t.Price.String(),
			t.Quantity.String(),
			t.Cost.String(),
			string(t.Reason),
			FormatPoint(t.Point),
		}
	}
	return s.writeFile(failedFile, []string{"side", "price", "quantity", "cost", "reason", "point"}, rows)
}

func (s *FileStore) readFailed() ([]model.FailedTrade, error) {
	records, err := s.readFile(failedFile, 6)
	if err != nil {
		return nil, err
	}
	trades := make([]model.FailedTrade, 0, len(records))
	for _, rec := range records {
		side, price, qty, cost, err := parseTradeFields(rec[0], rec[1], rec[2], rec[3])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", failedFile, err)
		}
		point, err := ParsePoint(rec[5])
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", failedFile, err)
		}
		trades = append(trades, model.FailedTrade{
			Side:     side,
			Price:    price,
			Quantity: qty,
			Cost:     cost,
			Reason:   model.FailureReason(rec[4]),
			Point:    point,
		})
	}
	return trades, nil
}

func (s *FileStore) writePositions(p *portfolio.Portfolio) error {
	positions := p.Book().Positions()
	rows := make([][]string, len(positions))
	for i, pos := range positions {
		rows[i] = []string{FormatPoint(pos.EntryTime)}
	}
	return s.writeFile(positionsFile, []string{"timestamp"}, rows)
}

func (s *FileStore) readPositionTimestamps() ([]string, error) {
	records, err := s.readFile(positionsFile, 1)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec[0])
	}
	return out, nil
}

func parseTradeFields(sideS, priceS, qtyS, costS string) (model.Side, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	sideV, err := strconv.Atoi(sideS)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	side, err := model.ParseSide(sideV)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	price, err := decimal.NewFromString(priceS)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	qty, err := decimal.NewFromString(qtyS)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	cost, err := decimal.NewFromString(costS)
	if err != nil {
		return 0, decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return side, price, qty, cost, nil
}
