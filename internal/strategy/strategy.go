// Package strategy turns candle windows into trade signals. Indicators
// each vote a signal; a consensus rule reduces the votes to one.
package strategy

import (
	"errors"

	"github.com/atmx/backtest-engine/internal/model"
)

var ErrNoIndicators = errors.New("strategy: ensemble needs at least one indicator")

// Indicator votes a signal for the last candle of a window.
type Indicator interface {
	Compute(window []model.Candle) (model.Signal, error)
	Name() string
}

// Consensus is the rule for reducing indicator votes.
type Consensus int

const (
	// Unison holds unless every indicator agrees.
	Unison Consensus = iota
	// Majority holds unless one signal has a strict plurality.
	Majority
)

func (c Consensus) String() string {
	switch c {
	case Unison:
		return "unison"
	case Majority:
		return "majority"
	}
	return "unknown"
}

// Reduce folds indicator votes into a single signal.
func (c Consensus) Reduce(signals []model.Signal) model.Signal {
	if len(signals) == 0 {
		return model.SignalHold
	}
	switch c {
	case Unison:
		first := signals[0]
		for _, s := range signals[1:] {
			if s != first {
				return model.SignalHold
			}
		}
		return first
	case Majority:
		var buy, sell, hold int
		for _, s := range signals {
			switch s {
			case model.SignalBuy:
				buy++
			case model.SignalSell:
				sell++
			default:
				hold++
			}
		}
		if buy > sell && buy > hold {
			return model.SignalBuy
		}
		if sell > buy && sell > hold {
			return model.SignalSell
		}
		return model.SignalHold
	}
	return model.SignalHold
}

// Ensemble runs a set of indicators over each window and reduces their
// votes with a consensus rule.
type Ensemble struct {
	indicators []Indicator
	consensus  Consensus
}

// NewEnsemble returns a strategy over the given indicators.
func NewEnsemble(consensus Consensus, indicators ...Indicator) (*Ensemble, error) {
	if len(indicators) == 0 {
		return nil, ErrNoIndicators
	}
	return &Ensemble{indicators: indicators, consensus: consensus}, nil
}

// Name identifies the ensemble in logs and reports.
func (e *Ensemble) Name() string {
	name := e.consensus.String()
	for _, ind := range e.indicators {
		name += "+" + ind.Name()
	}
	return name
}

// Process votes every indicator on the window and reduces the result.
func (e *Ensemble) Process(window []model.Candle) (model.Signal, error) {
	signals := make([]model.Signal, 0, len(e.indicators))
	for _, ind := range e.indicators {
		s, err := ind.Compute(window)
		if err != nil {
			return model.SignalHold, err
		}
		signals = append(signals, s)
	}
	return e.consensus.Reduce(signals), nil
}
