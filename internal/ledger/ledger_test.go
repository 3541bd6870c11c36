package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestNew_SeedsInitialEntry(t *testing.T) {
	l := New(d(100), ts(0))
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}
	if !l.Last().Equal(d(100)) {
		t.Errorf("expected last=100, got %s", l.Last())
	}
}

func TestIncrementDecrement_Round(t *testing.T) {
	l := New(d(100), ts(0))
	l.Decrement(d(30), ts(1))
	l.Increment(d(50), ts(2))
	l.Decrement(d(20), ts(3))

	if !l.Last().Equal(d(100)) {
		t.Errorf("expected last=100, got %s", l.Last())
	}
	if l.Len() != 4 {
		t.Errorf("expected 4 entries, got %d", l.Len())
	}
}

func TestLast_UsesGreatestTimestamp(t *testing.T) {
	l := New(d(100), ts(10))
	// Appended out of timestamp order; the later timestamp still wins.
	l.entries = append(l.entries, Entry{Timestamp: ts(30), Value: d(70)})
	l.entries = append(l.entries, Entry{Timestamp: ts(20), Value: d(85)})

	if !l.Last().Equal(d(70)) {
		t.Errorf("expected last=70, got %s", l.Last())
	}
}

func TestLast_EqualTimestamps_InsertionOrderWins(t *testing.T) {
	l := New(d(100), ts(5))
	l.Increment(d(10), ts(5))
	l.Increment(d(10), ts(5))

	if !l.Last().Equal(d(120)) {
		t.Errorf("expected last=120, got %s", l.Last())
	}
}

func TestEntries_SortedCopy(t *testing.T) {
	l := New(d(1), ts(2))
	l.entries = append(l.entries, Entry{Timestamp: ts(1), Value: d(2)})

	got := l.Entries()
	if !got[0].Value.Equal(d(2)) || !got[1].Value.Equal(d(1)) {
		t.Errorf("expected sorted entries, got %+v", got)
	}

	// Mutating the copy must not touch the ledger.
	got[0].Value = d(999)
	if l.Entries()[0].Value.Equal(d(999)) {
		t.Error("Entries returned a live reference")
	}
}

func TestFromEntries_RoundTrip(t *testing.T) {
	l := New(d(100), ts(0))
	l.Decrement(d(25), ts(1))

	rebuilt := FromEntries(l.Entries())
	if rebuilt == nil {
		t.Fatal("expected rebuilt ledger")
	}
	if !rebuilt.Last().Equal(l.Last()) {
		t.Errorf("expected last=%s, got %s", l.Last(), rebuilt.Last())
	}
	if FromEntries(nil) != nil {
		t.Error("expected nil ledger for empty entries")
	}
}
