package commands

import (
	"fmt"
	"io"

	"github.com/notify-relay/relay-go/pkg/log"
)

// RunFilter writes the selected events to a new trace file and reports how
// many were kept.
func RunFilter(path, output string, sel Selection, w io.Writer) error {
	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output trace: %w", err)
	}
	defer logger.Close()

	count := 0
	err = each(path, sel, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
