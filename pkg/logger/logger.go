// Package logger renders sync snapshots for humans: a colored console view
// and an optional plain-text log file.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/shawkym/matrixsync/pkg/matrix"
)

// SnapshotLogger prints snapshots as they arrive.
type SnapshotLogger struct {
	mu         sync.Mutex
	logFile    *os.File
	console    io.Writer
	userColors map[string]lipgloss.Style
	colorIndex int
	termWidth  int
	now        func() time.Time
	// started is set once the log file header has been written.
	started bool
}

var colors = []lipgloss.Color{
	lipgloss.Color("63"),  // Blue
	lipgloss.Color("212"), // Pink
	lipgloss.Color("86"),  // Green
	lipgloss.Color("214"), // Orange
	lipgloss.Color("99"),  // Purple
	lipgloss.Color("51"),  // Cyan
	lipgloss.Color("226"), // Yellow
	lipgloss.Color("201"), // Magenta
}

var (
	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	batchBadgeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1).
			MarginRight(1)

	roomStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("236"))
)

// NewSnapshotLogger creates a logger writing to console and, when logPath
// is not empty, appending plain text to logPath.
func NewSnapshotLogger(logPath string, console io.Writer) (*SnapshotLogger, error) {
	l := &SnapshotLogger{
		console:    console,
		userColors: make(map[string]lipgloss.Style),
		termWidth:  80,
		now:        time.Now,
	}
	if logPath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.logFile = logFile
	return l, nil
}

func (l *SnapshotLogger) getUserColor(userID string) lipgloss.Style {
	if style, exists := l.userColors[userID]; exists {
		return style
	}

	color := colors[l.colorIndex%len(colors)]
	l.colorIndex++

	style := lipgloss.NewStyle().
		Foreground(color).
		Bold(true)

	l.userColors[userID] = style
	return style
}

// LogSnapshot renders one snapshot.
func (l *SnapshotLogger) LogSnapshot(snapshot *matrix.SyncResponse) {
	if snapshot == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := l.now().Format("15:04:05")
	rooms := matrix.RoomCount(snapshot)
	events := matrix.EventCount(snapshot)

	if l.logFile != nil {
		l.writeToFile(fmt.Sprintf("[%s] Next batch: %s (rooms: %d, events: %d)\n",
			timestamp, snapshot.NextBatch, rooms, events))
		for _, line := range timelineLines(snapshot) {
			l.writeToFile(fmt.Sprintf("  %s %s: %s\n", line.room, line.sender, line.text))
		}
	}

	if l.console == nil {
		return
	}

	var output strings.Builder
	output.WriteString(separatorStyle.Render(strings.Repeat("─", min(l.termWidth, 80))))
	output.WriteString("\n")
	output.WriteString(timestampStyle.Render("🕐 " + timestamp + " "))
	output.WriteString(batchBadgeStyle.Render("Next batch: " + snapshot.NextBatch))
	output.WriteString(systemStyle.Render(fmt.Sprintf("%d rooms, %d events", rooms, events)))
	output.WriteString("\n")

	currentRoom := ""
	for _, line := range timelineLines(snapshot) {
		if line.room != currentRoom {
			currentRoom = line.room
			output.WriteString("\n")
			output.WriteString(roomStyle.Render(currentRoom))
			output.WriteString("\n")
		}
		output.WriteString("  ")
		output.WriteString(l.getUserColor(line.sender).Render(matrix.Localpart(line.sender)))
		output.WriteString(" ")
		output.WriteString(strings.TrimLeft(l.wrapText(line.text, 4), " "))
		output.WriteString("\n")
	}

	fmt.Fprint(l.console, output.String())
}

// LogError reports a stream failure.
func (l *SnapshotLogger) LogError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := l.now().Format("15:04:05")
	if l.logFile != nil {
		l.writeToFile(fmt.Sprintf("[%s] ERROR: %v\n", timestamp, err))
	}
	if l.console != nil {
		fmt.Fprintf(l.console, "%s %s %v\n",
			timestampStyle.Render(fmt.Sprintf("[%s]", timestamp)),
			errorStyle.Render("ERROR"),
			err)
	}
}

// LogSystem prints an informational line.
func (l *SnapshotLogger) LogSystem(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := l.now().Format("15:04:05")
	if l.logFile != nil {
		l.writeToFile(fmt.Sprintf("[%s] %s\n", timestamp, message))
	}
	if l.console != nil {
		fmt.Fprintf(l.console, "%s %s\n", timestampStyle.Render(timestamp), systemStyle.Render(message))
	}
}

type timelineLine struct {
	room   string
	sender string
	text   string
}

// timelineLines flattens joined-room timelines and invites, rooms sorted
// by ID and events in server order.
func timelineLines(snapshot *matrix.SyncResponse) []timelineLine {
	if snapshot.Rooms == nil {
		return nil
	}
	var lines []timelineLine

	joined := lo.Keys(snapshot.Rooms.Join)
	sort.Strings(joined)
	for _, roomID := range joined {
		timeline := snapshot.Rooms.Join[roomID].Timeline
		if timeline == nil {
			continue
		}
		for _, event := range timeline.Events {
			lines = append(lines, timelineLine{room: roomID, sender: event.Sender, text: DescribeEvent(event)})
		}
	}

	invited := lo.Keys(snapshot.Rooms.Invite)
	sort.Strings(invited)
	for _, roomID := range invited {
		inviter := ""
		if state := snapshot.Rooms.Invite[roomID].InviteState; state != nil && len(state.Events) > 0 {
			inviter = state.Events[0].Sender
		}
		lines = append(lines, timelineLine{room: roomID, sender: inviter, text: "invited you"})
	}
	return lines
}

// DescribeEvent returns a one-line human summary of a timeline event.
func DescribeEvent(event matrix.RoomEvent) string {
	if body, ok := event.Content.String("body"); ok {
		return strings.ReplaceAll(body, "\n", " ")
	}
	if membership, ok := event.Content.String("membership"); ok {
		return fmt.Sprintf("[%s: %s]", event.Type, membership)
	}
	if name, ok := event.Content.String("name"); ok {
		return fmt.Sprintf("[%s: %s]", event.Type, name)
	}
	return "[" + event.Type + "]"
}

func (l *SnapshotLogger) wrapText(text string, indent int) string {
	if l.termWidth <= 0 {
		return text
	}

	maxWidth := l.termWidth - indent - 2
	if maxWidth <= 20 {
		maxWidth = 20
	}

	indentStr := strings.Repeat(" ", indent)
	if len(text) <= maxWidth {
		return indentStr + text
	}

	var wrapped []string
	current := indentStr
	for _, word := range strings.Fields(text) {
		for len(word) > maxWidth {
			if len(current) > indent {
				wrapped = append(wrapped, current)
			}
			wrapped = append(wrapped, indentStr+word[:maxWidth])
			current = indentStr
			word = word[maxWidth:]
		}
		if len(current)+len(word)+1 > l.termWidth && len(current) > indent {
			wrapped = append(wrapped, current)
			current = indentStr
		}
		if len(current) > indent {
			current += " "
		}
		current += word
	}
	if len(current) > indent {
		wrapped = append(wrapped, current)
	}
	return strings.Join(wrapped, "\n")
}

// writeToFile appends content, preceded by the header on the first write.
func (l *SnapshotLogger) writeToFile(content string) {
	if l.logFile == nil {
		return
	}
	if !l.started {
		l.started = true
		content = "=== matrixsync log ===\nStarted: " + l.now().Format("2006-01-02 15:04:05") + "\n\n" + content
	}
	if _, err := l.logFile.WriteString(content); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to log file: %v\n", err)
	}
}

// Close ends the log file. The console writer is left open.
func (l *SnapshotLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	l.writeToFile("\nEnded: " + l.now().Format("2006-01-02 15:04:05") + "\n")
	err := l.logFile.Close()
	l.logFile = nil
	return err
}
