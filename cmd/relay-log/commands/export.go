package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/notify-relay/relay-go/pkg/log"
)

// RunExport exports the selected events in the specified format.
func RunExport(path, format, output string, sel Selection) error {
	// Determine output writer
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export(path, format, w, sel)
}

func export(path, format string, w io.Writer, sel Selection) error {
	switch format {
	case "jsonl":
		encoder := json.NewEncoder(w)
		return each(path, sel, func(event log.Event) error {
			if err := encoder.Encode(event); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			return nil
		})
	case "csv":
		return exportCSV(path, w, sel)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportCSV(path string, w io.Writer, sel Selection) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "client_id", "direction", "layer", "category", "device_id", "topic", "type", "size"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return each(path, sel, func(event log.Event) error {
		eventType := "unknown"
		size := ""
		switch {
		case event.Message != nil:
			eventType = "message"
			size = strconv.Itoa(event.Message.Size)
		case event.StateChange != nil:
			eventType = "state"
		case event.Control != nil:
			eventType = event.Control.Type.String()
		case event.Repair != nil:
			eventType = event.Repair.Action.String()
		case event.Error != nil:
			eventType = "error"
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ClientID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceID,
			event.Topic,
			eventType,
			size,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}
