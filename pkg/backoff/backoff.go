package backoff

import (
	"sync"
	"time"
)

// Table is an ordered sequence of retry delays. The last entry repeats once
// the sequence is exhausted.
type Table []time.Duration

// At returns the delay for the given zero-based attempt index.
// Negative indices map to the first entry. An empty table yields zero.
func (t Table) At(attempt int) time.Duration {
	if len(t) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(t) {
		attempt = len(t) - 1
	}
	return t[attempt]
}

// Last returns the final (ceiling) delay of the table.
func (t Table) Last() time.Duration {
	return t.At(len(t) - 1)
}

// ReconnectTable returns the default broker reconnection sequence.
func ReconnectTable() Table {
	return Table{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second, // repeats
	}
}

// WatchdogTable returns the default watchdog retry gating sequence.
func WatchdogTable() Table {
	return Table{
		2 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		60 * time.Minute, // repeats
	}
}

// Backoff tracks a position within a Table.
// It is safe for concurrent use.
type Backoff struct {
	mu sync.Mutex

	table    Table
	attempts int
}

// New creates a Backoff over the given table.
// An empty table falls back to ReconnectTable.
func New(table Table) *Backoff {
	if len(table) == 0 {
		table = ReconnectTable()
	}
	cp := make(Table, len(table))
	copy(cp, table)
	return &Backoff{table: cp}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.table.At(b.attempts)
	b.attempts++
	return delay
}

// Peek returns the delay for the current attempt without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.At(b.attempts)
}

// Advance increments the attempt counter without returning a delay.
func (b *Backoff) Advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
}

// Reset returns to the first table entry.
// Call this after a successful connection or repair.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Table returns a copy of the underlying table.
func (b *Backoff) Table() Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(Table, len(b.table))
	copy(cp, b.table)
	return cp
}
