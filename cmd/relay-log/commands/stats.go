package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/notify-relay/relay-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Topics            map[string]int
	Repairs           map[log.RepairAction]int
	FailedRepairs     int
	ConnectionLosses  int
	Reconnects        int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Topics:            make(map[string]int),
		Repairs:           make(map[log.RepairAction]int),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Message != nil:
		s.EventsByDirection[event.Direction]++
		if event.Topic != "" {
			s.Topics[event.Topic]++
		}
	case event.Control != nil:
		switch event.Control.Type {
		case log.ControlConnectionLost:
			s.ConnectionLosses++
		case log.ControlReconnect:
			s.Reconnects++
		}
	case event.Repair != nil:
		s.Repairs[event.Repair.Action]++
		if !event.Repair.Success {
			s.FailedRepairs++
		}
	case event.Error != nil:
		s.Errors++
	}
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats := newStats()
	if err := each(path, Selection{}, func(event log.Event) error {
		stats.add(event)
		return nil
	}); err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Relay Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerBroker, log.LayerLink, log.LayerService, log.LayerWatchdog} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError, log.CategoryRepair} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Messages by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Topics) > 0 {
		topics := make([]string, 0, len(stats.Topics))
		for t := range stats.Topics {
			topics = append(topics, t)
		}
		sort.Slice(topics, func(i, j int) bool {
			if stats.Topics[topics[i]] != stats.Topics[topics[j]] {
				return stats.Topics[topics[i]] > stats.Topics[topics[j]]
			}
			return topics[i] < topics[j]
		})
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Topics: %d\n", len(topics))
		for _, t := range topics {
			fmt.Fprintf(w, "  %-40s %d\n", t, stats.Topics[t])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Connection losses: %d\n", stats.ConnectionLosses)
	fmt.Fprintf(w, "Reconnects:        %d\n", stats.Reconnects)

	if len(stats.Repairs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Repairs:")
		for _, a := range []log.RepairAction{log.RepairRestart, log.RepairForcedReset, log.RepairDeepReset} {
			if count := stats.Repairs[a]; count > 0 {
				fmt.Fprintf(w, "  %-14s %d\n", a.String()+":", count)
			}
		}
		if stats.FailedRepairs > 0 {
			fmt.Fprintf(w, "  Failed:        %d\n", stats.FailedRepairs)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
