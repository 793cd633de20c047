// Package tui is an interactive terminal viewer for a running sync stream.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/shawkym/matrixsync/pkg/logger"
	"github.com/shawkym/matrixsync/pkg/matrix"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	roomHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	systemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("244"))

	messageStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	searchStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

var senderColors = []lipgloss.Color{
	lipgloss.Color("63"),  // Blue
	lipgloss.Color("212"), // Pink
	lipgloss.Color("86"),  // Green
	lipgloss.Color("214"), // Orange
	lipgloss.Color("99"),  // Purple
	lipgloss.Color("51"),  // Cyan
	lipgloss.Color("226"), // Yellow
	lipgloss.Color("201"), // Magenta
}

const roomsPanelWidth = 34

// Source is the part of a sync stream the viewer consumes.
// *matrix.Stream implements it.
type Source interface {
	ID() uuid.UUID
	Updates() <-chan matrix.Update
	Cursor() string
	Cancel()
}

type entry struct {
	batch  string
	room   string
	sender string
	text   string
	at     time.Time
}

type roomStats struct {
	membership string
	events     int
}

// Model is the bubbletea model of the viewer.
type Model struct {
	source             Source
	homeserver         string
	entries            []entry
	rooms              map[string]*roomStats
	senderColors       map[string]lipgloss.Color
	snapshots          int
	events             int
	lastBatch          string
	viewport           viewport.Model
	searchInput        textinput.Model
	commandInput       textinput.Model
	searchMode         bool
	commandMode        bool
	showHelp           bool
	searchResults      []int
	currentSearchIndex int
	filterRoom         string
	width              int
	height             int
	ready              bool
	finished           bool
	err                error
	statusMessage      string
	now                func() time.Time
}

type snapshotMsg struct {
	snapshot *matrix.SyncResponse
}

type streamDone struct{}

type errMsg struct {
	err error
}

// NewModel creates a viewer for source.
func NewModel(source Source, homeserver string) Model {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search timeline..."
	searchInput.CharLimit = 100

	commandInput := textinput.New()
	commandInput.Placeholder = "Enter command (filter <room> | clear)..."
	commandInput.CharLimit = 100

	return Model{
		source:             source,
		homeserver:         homeserver,
		rooms:              make(map[string]*roomStats),
		senderColors:       make(map[string]lipgloss.Color),
		searchInput:        searchInput,
		commandInput:       commandInput,
		searchResults:      make([]int, 0),
		currentSearchIndex: -1,
		now:                time.Now,
	}
}

// Run shows the viewer until the user quits. Quitting cancels the stream.
func Run(source Source, homeserver string) error {
	p := tea.NewProgram(NewModel(source, homeserver), tea.WithAltScreen())
	_, err := p.Run()
	source.Cancel()
	return err
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.source)
}

// waitForUpdate reads one update from the stream.
func waitForUpdate(source Source) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-source.Updates()
		if !ok {
			return streamDone{}
		}
		if update.Err != nil {
			return errMsg{err: update.Err}
		}
		return snapshotMsg{snapshot: update.Snapshot}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.commandMode {
			switch msg.Type {
			case tea.KeyEsc:
				m.commandMode = false
				m.commandInput.SetValue("")
				return m, nil
			case tea.KeyEnter:
				m.executeCommand()
				m.commandMode = false
				m.commandInput.SetValue("")
				return m, nil
			default:
				var cmd tea.Cmd
				m.commandInput, cmd = m.commandInput.Update(msg)
				return m, cmd
			}
		}

		if m.searchMode {
			switch msg.Type {
			case tea.KeyEsc:
				m.searchMode = false
				m.searchInput.SetValue("")
				m.searchResults = make([]int, 0)
				m.currentSearchIndex = -1
				return m, nil
			case tea.KeyEnter:
				m.performSearch()
				return m, nil
			}
			switch msg.String() {
			case "n":
				if len(m.searchResults) > 0 {
					m.currentSearchIndex = (m.currentSearchIndex + 1) % len(m.searchResults)
					m.scrollToSearchResult()
				}
				return m, nil
			case "N":
				if len(m.searchResults) > 0 {
					m.currentSearchIndex--
					if m.currentSearchIndex < 0 {
						m.currentSearchIndex = len(m.searchResults) - 1
					}
					m.scrollToSearchResult()
				}
				return m, nil
			}
			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "/":
			if m.ready && !m.showHelp {
				m.commandMode = true
				return m, nil
			}
		case "?":
			if m.ready {
				m.showHelp = !m.showHelp
				return m, nil
			}
		case "q":
			m.source.Cancel()
			return m, tea.Quit
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			m.source.Cancel()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.showHelp {
				m.showHelp = false
				return m, nil
			}
			m.source.Cancel()
			return m, tea.Quit
		case tea.KeyCtrlF:
			if m.ready {
				m.searchMode = true
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		width, height := m.timelineSize()
		if !m.ready {
			m.viewport = viewport.New(width, height)
			m.viewport.SetContent(m.renderTimeline())
			m.searchInput, _ = m.searchInput.Update(nil)
			m.commandInput, _ = m.commandInput.Update(nil)
			m.ready = true
		} else {
			m.viewport.Width = width
			m.viewport.Height = height
		}

	case snapshotMsg:
		m.addSnapshot(msg.snapshot)
		if m.ready {
			m.viewport.SetContent(m.renderTimeline())
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, waitForUpdate(m.source))

	case streamDone:
		m.finished = true

	case errMsg:
		m.err = msg.err
		cmds = append(cmds, waitForUpdate(m.source))
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) timelineSize() (int, int) {
	width := m.width - roomsPanelWidth - 8
	if width < 20 {
		width = 20
	}
	height := m.height - 8
	if height < 3 {
		height = 3
	}
	return width, height
}

func (m *Model) addSnapshot(snapshot *matrix.SyncResponse) {
	if snapshot == nil {
		return
	}
	at := m.now()
	m.snapshots++
	m.events += matrix.EventCount(snapshot)
	m.lastBatch = snapshot.NextBatch
	if snapshot.Rooms == nil {
		return
	}

	for _, roomID := range sortedKeys(snapshot.Rooms.Join) {
		stats := m.room(roomID, "join")
		timeline := snapshot.Rooms.Join[roomID].Timeline
		if timeline == nil {
			continue
		}
		for _, event := range timeline.Events {
			stats.events++
			m.entries = append(m.entries, entry{
				batch:  snapshot.NextBatch,
				room:   roomID,
				sender: event.Sender,
				text:   logger.DescribeEvent(event),
				at:     at,
			})
		}
	}
	for _, roomID := range sortedKeys(snapshot.Rooms.Invite) {
		m.room(roomID, "invite")
		inviter := ""
		if state := snapshot.Rooms.Invite[roomID].InviteState; state != nil && len(state.Events) > 0 {
			inviter = state.Events[0].Sender
		}
		m.entries = append(m.entries, entry{
			batch:  snapshot.NextBatch,
			room:   roomID,
			sender: inviter,
			text:   "invited you",
			at:     at,
		})
	}
	for _, roomID := range sortedKeys(snapshot.Rooms.Leave) {
		m.room(roomID, "leave")
	}
}

func (m *Model) room(roomID, membership string) *roomStats {
	stats, ok := m.rooms[roomID]
	if !ok {
		stats = &roomStats{}
		m.rooms[roomID] = stats
	}
	stats.membership = membership
	return stats
}

func (m *Model) senderStyle(sender string) lipgloss.Style {
	color, ok := m.senderColors[sender]
	if !ok {
		color = senderColors[len(m.senderColors)%len(senderColors)]
		m.senderColors[sender] = color
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("matrixsync - " + m.homeserver))
	b.WriteString("\n")

	width, height := m.timelineSize()
	timeline := panelStyle.Width(width).Height(height).Render(m.viewport.View())
	rooms := panelStyle.Width(roomsPanelWidth).Height(height).Render(m.renderRooms())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, timeline, rooms))
	b.WriteString("\n")

	b.WriteString(statusStyle.Render(m.statusLine()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("?: Help | q/Ctrl+C: Quit | Ctrl+F: Search | /: Command | ↑↓: Scroll"))

	if m.filterRoom != "" {
		b.WriteString("\n")
		b.WriteString(searchStyle.Render("Filter: " + m.filterRoom))
	}
	if m.statusMessage != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Render(m.statusMessage))
	}
	if m.commandMode {
		b.WriteString("\n")
		b.WriteString(searchStyle.Render("/") + m.commandInput.View())
	}
	if m.searchMode {
		b.WriteString("\n")
		searchBar := searchStyle.Render("Search: ") + m.searchInput.View()
		if len(m.searchResults) > 0 {
			searchBar += fmt.Sprintf(" (%d/%d matches, n/N to navigate)", m.currentSearchIndex+1, len(m.searchResults))
		} else if m.searchInput.Value() != "" {
			searchBar += " (no matches)"
		}
		b.WriteString(searchBar)
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}

func (m Model) statusLine() string {
	status := fmt.Sprintf("Stream %s | Snapshots: %d | Events: %d | ", shortID(m.source.ID().String()), m.snapshots, m.events)
	if m.lastBatch != "" {
		status += "Next batch: " + m.lastBatch + " | "
	}
	switch {
	case m.err != nil:
		status += "Status: 🔴 Failed"
	case m.finished:
		status += "Status: ⚪ Stopped"
	default:
		status += "Status: 🟢 Syncing"
	}
	return status
}

func (m Model) renderTimeline() string {
	if len(m.entries) == 0 {
		return systemStyle.Render("Waiting for the first sync...")
	}

	var b strings.Builder
	currentRoom := ""
	for _, e := range m.entries {
		if m.filterRoom != "" && e.room != m.filterRoom {
			continue
		}
		if e.room != currentRoom {
			currentRoom = e.room
			b.WriteString(roomHeaderStyle.Render(currentRoom))
			b.WriteString("\n")
		}
		prefix := fmt.Sprintf("[%s] ", e.at.Format("15:04:05"))
		b.WriteString(systemStyle.Render(prefix))
		b.WriteString(m.senderStyle(e.sender).Render(matrix.Localpart(e.sender)))
		b.WriteString("\n")
		b.WriteString(messageStyle.Render(e.text))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRooms() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Rooms"))
	b.WriteString("\n\n")

	if len(m.rooms) == 0 {
		b.WriteString(systemStyle.Render("none yet"))
		return b.String()
	}

	for _, roomID := range sortedKeys(m.rooms) {
		stats := m.rooms[roomID]
		marker := "●"
		switch stats.membership {
		case "invite":
			marker = "✉"
		case "leave":
			marker = "○"
		}
		name := roomID
		if len(name) > roomsPanelWidth-10 {
			name = name[:roomsPanelWidth-11] + "…"
		}
		line := fmt.Sprintf("%s %s %d", marker, name, stats.events)
		if roomID == m.filterRoom {
			line = searchStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// executeCommand parses and executes slash commands
func (m *Model) executeCommand() {
	parts := strings.Fields(strings.TrimSpace(m.commandInput.Value()))
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "filter":
		if len(parts) < 2 {
			m.statusMessage = "Usage: filter <room-id>"
			return
		}
		roomID := parts[1]
		if _, ok := m.rooms[roomID]; !ok {
			m.statusMessage = fmt.Sprintf("Room '%s' not found", roomID)
			return
		}
		m.filterRoom = roomID
		m.statusMessage = fmt.Sprintf("Filtering by room: %s", roomID)
		m.viewport.SetContent(m.renderTimeline())

	case "clear":
		if m.filterRoom == "" {
			m.statusMessage = "No filter active"
			return
		}
		m.filterRoom = ""
		m.statusMessage = "Filter cleared"
		m.viewport.SetContent(m.renderTimeline())

	default:
		m.statusMessage = fmt.Sprintf("Unknown command: %s", parts[0])
	}
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("matrixsync - Keyboard Shortcuts"))
	b.WriteString("\n\n")

	sections := []struct {
		title string
		items [][2]string
	}{
		{"General", [][2]string{
			{"q, Ctrl+C", "Stop syncing and quit"},
			{"Esc", "Quit (or close this screen)"},
			{"?", "Toggle this help screen"},
			{"↑↓", "Scroll the timeline"},
		}},
		{"Search", [][2]string{
			{"Ctrl+F", "Enter search mode"},
			{"Enter", "Perform search"},
			{"n / N", "Next / previous result"},
			{"Esc", "Exit search mode"},
		}},
		{"Commands", [][2]string{
			{"/", "Enter command mode"},
			{"filter <room>", "Show one room only"},
			{"clear", "Clear the room filter"},
		}},
	}

	for _, section := range sections {
		b.WriteString(roomHeaderStyle.Render(section.title + ":"))
		b.WriteString("\n")
		for _, item := range section.items {
			b.WriteString(searchStyle.Render(fmt.Sprintf("  %-15s", item[0])))
			b.WriteString("  ")
			b.WriteString(item[1])
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("Press ? or Esc to close this help screen"))
	return b.String()
}

// performSearch finds timeline entries whose text, sender or room match.
func (m *Model) performSearch() {
	term := strings.ToLower(m.searchInput.Value())
	m.searchResults = make([]int, 0)
	m.currentSearchIndex = -1
	if term == "" {
		return
	}

	for i, e := range m.entries {
		if strings.Contains(strings.ToLower(e.text), term) ||
			strings.Contains(strings.ToLower(e.sender), term) ||
			strings.Contains(strings.ToLower(e.room), term) {
			m.searchResults = append(m.searchResults, i)
		}
	}
	if len(m.searchResults) > 0 {
		m.currentSearchIndex = 0
		m.scrollToSearchResult()
	}
}

func (m *Model) scrollToSearchResult() {
	if m.currentSearchIndex < 0 || m.currentSearchIndex >= len(m.searchResults) {
		return
	}
	// Entries take two lines each, plus room headers.
	target := m.searchResults[m.currentSearchIndex]*2 - m.viewport.Height/2
	if target < 0 {
		target = 0
	}
	m.viewport.SetYOffset(target)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
