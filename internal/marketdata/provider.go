// Package marketdata supplies candle series to the engine: CSV files on
// disk, with an optional Redis read-through cache in front.
package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

// CandleLayout is the timestamp format of candle CSV files.
const CandleLayout = "2006-01-02T15:04:05"

var ErrNoData = errors.New("marketdata: no candle data for series")

// Provider returns the full candle series for a symbol and interval.
type Provider interface {
	Candles(ctx context.Context, symbol, interval string) ([]model.Candle, error)
}

// FileProvider reads candles from <symbol>_<interval>.csv files under
// one directory.
type FileProvider struct {
	dir string
}

// NewFileProvider returns a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func seriesFile(symbol, interval string) string {
	return fmt.Sprintf("%s_%s.csv", symbol, interval)
}

func (p *FileProvider) Candles(ctx context.Context, symbol, interval string) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := seriesFile(symbol, interval)
	f, err := os.Open(filepath.Join(p.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoData, name)
		}
		return nil, fmt.Errorf("marketdata: open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("marketdata: read %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, name)
	}

	candles := make([]model.Candle, 0, len(records)-1)
	for _, rec := range records[1:] {
		c, err := parseCandle(rec)
		if err != nil {
			return nil, fmt.Errorf("marketdata: read %s: %w", name, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// SaveCandles writes a series in the same format Candles reads, for
// fixtures and downloaded data.
func (p *FileProvider) SaveCandles(symbol, interval string, candles []model.Candle) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("marketdata: create %s: %w", p.dir, err)
	}
	name := seriesFile(symbol, interval)
	f, err := os.Create(filepath.Join(p.dir, name))
	if err != nil {
		return fmt.Errorf("marketdata: write %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range candles {
		row := []string{
			c.Time.UTC().Format(CandleLayout),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("marketdata: write %s: %w", name, err)
	}
	return nil
}

func parseCandle(rec []string) (model.Candle, error) {
	var c model.Candle
	ts, err := time.ParseInLocation(CandleLayout, rec[0], time.UTC)
	if err != nil {
		return c, err
	}
	c.Time = ts

	fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		v, err := decimal.NewFromString(rec[i+1])
		if err != nil {
			return c, err
		}
		*dst = v
	}
	return c, nil
}
