// Package export writes sync snapshots to archive files.
// Supported formats are JSON Lines (one snapshot per line, lossless) and a
// Markdown digest meant for reading.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/shawkym/matrixsync/pkg/matrix"
)

// Format represents the export format type.
type Format string

const (
	// FormatJSONL writes one JSON record per snapshot
	FormatJSONL Format = "jsonl"
	// FormatMarkdown writes a human-readable digest
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatJSONL, "json":
		return FormatJSONL, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", name)
	}
}

// ExportOptions contains options for exporting snapshots.
type ExportOptions struct {
	Format Format
	// Title heads the Markdown digest
	Title string
	// IncludeTimestamps adds event times to the Markdown digest
	IncludeTimestamps bool
}

// Record is one line of a JSON Lines archive.
type Record struct {
	ReceivedAt time.Time            `json:"received_at"`
	Snapshot   *matrix.SyncResponse `json:"snapshot"`
}

// ExportSummary contains running totals for an export.
type ExportSummary struct {
	Snapshots int    `json:"snapshots"`
	Rooms     int    `json:"rooms"`
	Events    int    `json:"events"`
	LastBatch string `json:"last_batch,omitempty"`
}

// Exporter appends snapshots to a writer in the configured format.
// It is safe for concurrent use.
type Exporter struct {
	options ExportOptions
	writer  io.Writer
	now     func() time.Time

	mu          sync.Mutex
	rooms       map[string]struct{}
	summary     ExportSummary
	wroteHeader bool
}

// NewExporter creates an Exporter writing to writer.
func NewExporter(options ExportOptions, writer io.Writer) (*Exporter, error) {
	if _, err := ParseFormat(string(options.Format)); err != nil {
		return nil, err
	}
	return &Exporter{
		options: options,
		writer:  writer,
		now:     time.Now,
		rooms:   make(map[string]struct{}),
	}, nil
}

// Export appends one snapshot received now.
func (e *Exporter) Export(snapshot *matrix.SyncResponse) error {
	return e.ExportAt(snapshot, e.now())
}

// ExportAt appends one snapshot with an explicit receipt time, as when
// converting an existing archive.
func (e *Exporter) ExportAt(snapshot *matrix.SyncResponse, receivedAt time.Time) error {
	if snapshot == nil {
		return fmt.Errorf("export: nil snapshot")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch e.options.Format {
	case FormatJSONL:
		err = e.exportJSONL(snapshot, receivedAt)
	case FormatMarkdown:
		err = e.exportMarkdown(snapshot, receivedAt)
	}
	if err != nil {
		return err
	}

	e.summary.Snapshots++
	e.summary.Events += matrix.EventCount(snapshot)
	e.summary.LastBatch = snapshot.NextBatch
	for _, id := range roomIDs(snapshot) {
		e.rooms[id] = struct{}{}
	}
	e.summary.Rooms = len(e.rooms)
	return nil
}

// Summary returns the totals so far.
func (e *Exporter) Summary() ExportSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary
}

// Close writes the Markdown summary footer. It does not close the writer.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.options.Format != FormatMarkdown {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Snapshots**: %d\n", e.summary.Snapshots))
	sb.WriteString(fmt.Sprintf("- **Rooms**: %d\n", e.summary.Rooms))
	sb.WriteString(fmt.Sprintf("- **Events**: %d\n", e.summary.Events))
	if e.summary.LastBatch != "" {
		sb.WriteString(fmt.Sprintf("- **Last batch**: `%s`\n", e.summary.LastBatch))
	}
	_, err := io.WriteString(e.writer, sb.String())
	return err
}

func (e *Exporter) exportJSONL(snapshot *matrix.SyncResponse, receivedAt time.Time) error {
	encoder := json.NewEncoder(e.writer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(Record{ReceivedAt: receivedAt.UTC(), Snapshot: snapshot}); err != nil {
		return fmt.Errorf("export: failed to encode snapshot %s: %w", snapshot.NextBatch, err)
	}
	return nil
}

func (e *Exporter) exportMarkdown(snapshot *matrix.SyncResponse, receivedAt time.Time) error {
	var sb strings.Builder

	if !e.wroteHeader {
		if e.options.Title != "" {
			sb.WriteString("# ")
			sb.WriteString(e.options.Title)
			sb.WriteString("\n\n")
		}
		sb.WriteString("*Started: ")
		sb.WriteString(receivedAt.Format("2006-01-02 15:04:05"))
		sb.WriteString("*\n\n")
		e.wroteHeader = true
	}

	sb.WriteString(fmt.Sprintf("## Batch `%s` - %s\n\n", snapshot.NextBatch, receivedAt.Format("15:04:05")))

	if matrix.RoomCount(snapshot) == 0 && matrix.EventCount(snapshot) == 0 {
		sb.WriteString("*No changes.*\n\n---\n\n")
		_, err := io.WriteString(e.writer, sb.String())
		return err
	}

	if snapshot.Rooms != nil {
		for _, id := range sortedKeys(snapshot.Rooms.Join) {
			room := snapshot.Rooms.Join[id]
			sb.WriteString(fmt.Sprintf("### %s (joined)\n\n", id))
			if room.Timeline != nil {
				for _, event := range room.Timeline.Events {
					sb.WriteString(e.formatEvent(event))
				}
				if room.Timeline.Limited != nil && *room.Timeline.Limited {
					sb.WriteString("- *timeline limited; earlier events skipped*\n")
				}
			}
			sb.WriteString("\n")
		}
		for _, id := range sortedKeys(snapshot.Rooms.Invite) {
			sb.WriteString(fmt.Sprintf("### %s (invited)\n\n", id))
			if inviter := inviterOf(snapshot.Rooms.Invite[id]); inviter != "" {
				sb.WriteString(fmt.Sprintf("- invited by **%s**\n", inviter))
			}
			sb.WriteString("\n")
		}
		for _, id := range sortedKeys(snapshot.Rooms.Leave) {
			sb.WriteString(fmt.Sprintf("### %s (left)\n\n", id))
		}
	}

	if snapshot.Presence != nil && len(snapshot.Presence.Events) > 0 {
		sb.WriteString("### Presence\n\n")
		for _, event := range snapshot.Presence.Events {
			sender, _ := event.Extra["sender"].(string)
			state, _ := event.Content.String("presence")
			sb.WriteString(fmt.Sprintf("- **%s** is %s\n", sender, state))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	_, err := io.WriteString(e.writer, sb.String())
	return err
}

func (e *Exporter) formatEvent(event matrix.RoomEvent) string {
	var sb strings.Builder
	sb.WriteString("- ")
	if e.options.IncludeTimestamps {
		sb.WriteString(time.UnixMilli(event.OriginServerTS).UTC().Format("15:04:05"))
		sb.WriteString(" ")
	}
	sb.WriteString(fmt.Sprintf("**%s** `%s`", event.Sender, event.Type))
	if body, ok := event.Content.String("body"); ok {
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(body, "\n", " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

// ReadArchive reads a JSON Lines archive written by an Exporter.
func ReadArchive(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("export: line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("export: failed to read archive: %w", err)
	}
	return records, nil
}

func roomIDs(snapshot *matrix.SyncResponse) []string {
	if snapshot.Rooms == nil {
		return nil
	}
	ids := append(lo.Keys(snapshot.Rooms.Join), lo.Keys(snapshot.Rooms.Invite)...)
	return append(ids, lo.Keys(snapshot.Rooms.Leave)...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func inviterOf(room matrix.InvitedRoom) string {
	if room.InviteState == nil {
		return ""
	}
	event, ok := lo.Find(room.InviteState.Events, func(e matrix.StrippedState) bool {
		return e.Type == "m.room.member"
	})
	if !ok {
		return ""
	}
	return event.Sender
}
