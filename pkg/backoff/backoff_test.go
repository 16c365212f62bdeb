package backoff

import (
	"testing"
	"time"
)

func TestTableAt(t *testing.T) {
	table := ReconnectTable()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 16 * time.Second}, // last value repeats
		{100, 16 * time.Second},
	}

	for _, tt := range tests {
		if got := table.At(tt.attempt); got != tt.want {
			t.Errorf("At(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if got := (Table{}).At(3); got != 0 {
		t.Errorf("empty At(3) = %v, want 0", got)
	}
}

func TestBackoff(t *testing.T) {
	t.Run("Sequence", func(t *testing.T) {
		b := New(WatchdogTable())

		expected := []time.Duration{
			2 * time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			30 * time.Minute,
			60 * time.Minute,
			60 * time.Minute,
		}

		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("PeekDoesNotAdvance", func(t *testing.T) {
		b := New(Table{10 * time.Millisecond, 20 * time.Millisecond})

		if b.Peek() != 10*time.Millisecond || b.Peek() != 10*time.Millisecond {
			t.Error("Peek() should not advance")
		}
		b.Advance()
		if b.Peek() != 20*time.Millisecond {
			t.Errorf("Peek() after Advance = %v, want 20ms", b.Peek())
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := New(nil)
		for i := 0; i < 3; i++ {
			b.Next()
		}
		b.Reset()

		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
		if b.Peek() != time.Second {
			t.Errorf("Peek() = %v after reset, want 1s", b.Peek())
		}
	})

	t.Run("TableIsCopied", func(t *testing.T) {
		table := Table{time.Second}
		b := New(table)
		table[0] = time.Hour

		if b.Peek() != time.Second {
			t.Errorf("Peek() = %v, caller mutation leaked into Backoff", b.Peek())
		}
	})
}
