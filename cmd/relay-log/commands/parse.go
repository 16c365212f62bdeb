// Package commands implements the relay-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/notify-relay/relay-go/pkg/log"
)

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "broker":
		return log.LayerBroker, nil
	case "link":
		return log.LayerLink, nil
	case "service":
		return log.LayerService, nil
	case "watchdog":
		return log.LayerWatchdog, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be broker, link, service, or watchdog)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "repair":
		return log.CategoryRepair, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, error, or repair)", s)
	}
}

// FilterOptions are the textual filter flags shared by the commands.
type FilterOptions struct {
	Layer     string
	Direction string
	Category  string
	DeviceID  string
	Topic     string
	TimeStart string
	TimeEnd   string
}

// Selection is a parsed FilterOptions.
type Selection struct {
	Filter    log.Filter
	Direction *log.Direction
}

// Matches reports whether the event passes the selection.
func (s *Selection) Matches(e log.Event) bool {
	if s.Direction != nil && e.Direction != *s.Direction {
		return false
	}
	return s.Filter.Matches(e)
}

// Parse converts the flag values into a Selection.
func (o FilterOptions) Parse() (Selection, error) {
	sel := Selection{Filter: log.Filter{DeviceID: o.DeviceID, Topic: o.Topic}}

	if o.Layer != "" {
		l, err := ParseLayerFlag(o.Layer)
		if err != nil {
			return Selection{}, err
		}
		sel.Filter.Layer = &l
	}
	if o.Category != "" {
		c, err := ParseCategoryFlag(o.Category)
		if err != nil {
			return Selection{}, err
		}
		sel.Filter.Category = &c
	}
	if o.Direction != "" {
		d, err := ParseDirectionFlag(o.Direction)
		if err != nil {
			return Selection{}, err
		}
		sel.Direction = &d
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return Selection{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		sel.Filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return Selection{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		sel.Filter.TimeEnd = &t
	}
	return sel, nil
}

// each calls fn for every selected event in the trace file.
func each(path string, sel Selection, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, sel.Filter)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if sel.Direction != nil && event.Direction != *sel.Direction {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
