package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shawkym/matrixsync/pkg/export"
	"github.com/shawkym/matrixsync/pkg/logger"
)

var exportCmd = &cobra.Command{
	Use:   "export <archive.jsonl>",
	Short: "Convert a snapshot archive to another format",
	Long: `Convert a JSON Lines archive written by 'matrixsync watch' into a Markdown
digest, or replay it on the console the way watch printed it.

Examples:
  # Markdown digest on stdout
  matrixsync export sync.jsonl --format markdown

  # Replay to the console
  matrixsync export sync.jsonl --format console

  # Digest with a custom title
  matrixsync export sync.jsonl -o digest.md --title "Weekend"
`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportFormat     string
	exportOutput     string
	exportTimestamps bool
	exportTitle      string
)

const formatConsole = "console"

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Export format (markdown, jsonl, console)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportTimestamps, "timestamps", true, "Include event timestamps")
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "Digest title")
}

func runExport(cmd *cobra.Command, args []string) error {
	writer := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close output file: %v\n", closeErr)
			}
		}()
		writer = f
	}

	count, err := convertArchive(args[0], writer, exportFormat, exportTitle, exportTimestamps)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		fmt.Fprintf(os.Stderr, "✅ Exported %d snapshots to %s\n", count, exportOutput)
	}
	return nil
}

// convertArchive rewrites the archive at path to writer and returns the
// number of snapshots converted.
func convertArchive(path string, writer io.Writer, format, title string, timestamps bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	records, err := export.ReadArchive(f)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no snapshots found in %s", path)
	}

	if format == formatConsole {
		replay, err := logger.NewSnapshotLogger("", writer)
		if err != nil {
			return 0, err
		}
		defer replay.Close()
		for _, record := range records {
			replay.LogSnapshot(record.Snapshot)
		}
		return len(records), nil
	}

	parsed, err := export.ParseFormat(format)
	if err != nil {
		return 0, fmt.Errorf("invalid format: %s (use markdown, jsonl or console)", format)
	}
	if title == "" {
		title = fmt.Sprintf("Sync archive - %s", filepath.Base(path))
	}

	exporter, err := export.NewExporter(export.ExportOptions{
		Format:            parsed,
		Title:             title,
		IncludeTimestamps: timestamps,
	}, writer)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if err := exporter.ExportAt(record.Snapshot, record.ReceivedAt); err != nil {
			return 0, fmt.Errorf("export failed: %w", err)
		}
	}
	if err := exporter.Close(); err != nil {
		return 0, err
	}
	return len(records), nil
}
