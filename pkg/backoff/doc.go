// Package backoff provides table-driven retry delays.
//
// A Table is a fixed, ordered sequence of delays. The attempt index selects
// an entry; once the index runs past the end, the last entry repeats:
//
//	table := backoff.Table{1 * time.Second, 2 * time.Second, 4 * time.Second}
//	table.At(0) // 1s
//	table.At(7) // 4s
//
// Backoff wraps a Table with an attempt counter so independent retry
// ladders (broker reconnection, watchdog repairs) can each keep their own
// position without sharing state.
package backoff
