// Package ledger implements an append-only timestamped scalar series used
// to track portfolio capital and assets over a run.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one immutable observation in the series.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// TrackedLedger records the evolution of a single scalar value. It is
// seeded at construction and can never be empty. Timestamps are supplied
// by the caller; the ledger never reads the wall clock.
//
// TrackedLedger is not safe for concurrent use; callers serialize access.
type TrackedLedger struct {
	entries []Entry
}

// New returns a ledger seeded with an initial value at ts.
func New(initial decimal.Decimal, ts time.Time) *TrackedLedger {
	return &TrackedLedger{entries: []Entry{{Timestamp: ts, Value: initial}}}
}

// FromEntries rebuilds a ledger from previously persisted entries.
// Returns nil if entries is empty.
func FromEntries(entries []Entry) *TrackedLedger {
	if len(entries) == 0 {
		return nil
	}
	l := &TrackedLedger{entries: make([]Entry, len(entries))}
	copy(l.entries, entries)
	return l
}

// Increment appends an entry whose value is the last value plus amount.
func (l *TrackedLedger) Increment(amount decimal.Decimal, ts time.Time) {
	l.entries = append(l.entries, Entry{Timestamp: ts, Value: l.Last().Add(amount)})
}

// Decrement appends an entry whose value is the last value minus amount.
func (l *TrackedLedger) Decrement(amount decimal.Decimal, ts time.Time) {
	l.entries = append(l.entries, Entry{Timestamp: ts, Value: l.Last().Sub(amount)})
}

// Last returns the value of the entry with the greatest timestamp.
// Entries sharing a timestamp resolve to the most recently appended.
func (l *TrackedLedger) Last() decimal.Decimal {
	latest := l.entries[0]
	for _, e := range l.entries[1:] {
		if !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}
	return latest.Value
}

// First returns the value of the earliest entry.
func (l *TrackedLedger) First() decimal.Decimal {
	sorted := l.Entries()
	return sorted[0].Value
}

// Entries returns a copy of all entries sorted by timestamp ascending,
// preserving insertion order for equal timestamps.
func (l *TrackedLedger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len reports the number of entries.
func (l *TrackedLedger) Len() int {
	return len(l.entries)
}
