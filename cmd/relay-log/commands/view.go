package commands

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/notify-relay/relay-go/pkg/log"
)

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp DIRECTION LAYER Type [topic]
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = "Message"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Control != nil:
		typeLabel = event.Control.Type.String()
	case event.Repair != nil:
		typeLabel = event.Repair.Action.String()
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	// Use CTRL for control messages in header
	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	dir := ""
	if event.Category == log.CategoryMessage {
		dir = event.Direction.String()
	}

	fmt.Fprintf(w, "%s %-3s %s %s", ts, dir, layerStr, typeLabel)
	if event.Topic != "" {
		fmt.Fprintf(w, " %s", event.Topic)
	}
	fmt.Fprintln(w)

	if event.DeviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.DeviceID)
	}

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Control != nil:
		formatControlDetails(w, event.Control)
	case event.Repair != nil:
		formatRepairDetails(w, event.Repair)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  QoS: %d  Size: %d bytes\n", msg.QoS, msg.Size)
	if len(msg.Payload) == 0 {
		return
	}
	if utf8.Valid(msg.Payload) {
		fmt.Fprintf(w, "  Payload: %s", msg.Payload)
	} else {
		fmt.Fprintf(w, "  Payload: %x", msg.Payload)
	}
	if msg.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatControlDetails(w io.Writer, c *log.ControlEvent) {
	if c.Type != log.ControlReconnect {
		return
	}
	fmt.Fprintf(w, "  Attempt: %d  Delay: %s\n", c.Attempt, c.Delay)
}

func formatRepairDetails(w io.Writer, r *log.RepairEvent) {
	if r.Trigger != "" {
		fmt.Fprintf(w, "  Trigger: %s\n", r.Trigger)
	}
	if r.Silence > 0 {
		fmt.Fprintf(w, "  Silence: %s\n", r.Silence)
	}
	fmt.Fprintf(w, "  Success: %v\n", r.Success)
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView executes the view command.
func RunView(path string, sel Selection, output io.Writer) error {
	return each(path, sel, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
