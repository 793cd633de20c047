package export_test

import (
	"fmt"
	"os"
	"time"

	"github.com/shawkym/matrixsync/pkg/export"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

func ExampleExporter() {
	exporter, err := export.NewExporter(export.ExportOptions{Format: export.FormatJSONL}, os.Stdout)
	if err != nil {
		fmt.Println(err)
		return
	}

	received := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	_ = exporter.ExportAt(&matrix.SyncResponse{NextBatch: "s1"}, received)
	_ = exporter.ExportAt(&matrix.SyncResponse{NextBatch: "s2"}, received.Add(time.Minute))

	summary := exporter.Summary()
	fmt.Printf("%d snapshots, last batch %s\n", summary.Snapshots, summary.LastBatch)
	// Output:
	// {"received_at":"2024-05-01T12:30:00Z","snapshot":{"next_batch":"s1"}}
	// {"received_at":"2024-05-01T12:31:00Z","snapshot":{"next_batch":"s2"}}
	// 2 snapshots, last batch s2
}
