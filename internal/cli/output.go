package cli

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/monitor"
	"github.com/rileyhilliard/gpueye/internal/ui"
)

// clearScreen homes the cursor and clears the terminal.
const clearScreen = "\033[H\033[2J"

// writeStructured writes data as a JSON envelope or a YAML document.
func writeStructured(out io.Writer, format string, data interface{}) error {
	if format == config.FormatJSON {
		return WriteJSONSuccess(out, data)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// snapshotWriter renders successive snapshots in one format.
type snapshotWriter struct {
	out    io.Writer
	format string
	// clear redraws table output in place.
	clear bool
	n     int
}

func (w *snapshotWriter) write(snap monitor.Snapshot, now time.Time) error {
	defer func() { w.n++ }()

	switch w.format {
	case config.FormatJSON:
		return WriteJSONSuccess(w.out, snap)
	case config.FormatYAML:
		if w.n > 0 {
			if _, err := io.WriteString(w.out, "---\n"); err != nil {
				return err
			}
		}
		return writeStructured(w.out, config.FormatYAML, snap)
	}

	if w.clear {
		if _, err := io.WriteString(w.out, clearScreen); err != nil {
			return err
		}
	} else if w.n > 0 {
		if _, err := io.WriteString(w.out, "\n"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.out, ui.RenderSnapshot(snap, now))
	return err
}
