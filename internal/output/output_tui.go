package output

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tkjaer/tcplat/internal/ptr"
	"github.com/tkjaer/tcplat/internal/shared"
)

// TUIOutput is a live latency table using Bubble Tea
type TUIOutput struct {
	mu       sync.Mutex
	program  *tea.Program
	model    *tuiModel
	updateCh chan shared.CycleReport
	quitCh   chan struct{}
	doneCh   chan struct{}
}

// reportMsg carries a cycle report into the Bubble Tea loop
type reportMsg shared.CycleReport

// tickMsg is sent periodically to refresh the display
type tickMsg time.Time

// addressStats accumulates the measurements of one address since start
type addressStats struct {
	Address      string
	Last         int64
	LastSentinel bool
	Min          int64
	Max          int64
	Sum          int64
	Count        uint64 // cycles with a measurement
	Misses       uint64 // cycles without a measurement
}

func (s *addressStats) add(e shared.Entry) {
	s.Last = e.Value
	s.LastSentinel = e.Sentinel
	if e.Sentinel {
		s.Misses++
		return
	}
	if s.Count == 0 || e.Value < s.Min {
		s.Min = e.Value
	}
	if e.Value > s.Max {
		s.Max = e.Value
	}
	s.Sum += e.Value
	s.Count++
}

func (s *addressStats) avg() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / int64(s.Count)
}

func (s *addressStats) missPct() float64 {
	total := s.Count + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Misses) / float64(total) * 100
}

// tuiModel holds the Bubble Tea model state
type tuiModel struct {
	// Data
	stats      map[string]*addressStats
	order      []string // addresses of the last report, in report order
	cycle      uint64
	nonce      uint32
	intervalMs uint32
	startTime  time.Time
	names      *ptr.PtrManager

	// UI state
	width  int
	height int
	scroll int
	help   help.Model
	keys   keyMap

	updateCh chan shared.CycleReport
	quitCh   chan struct{}
}

// keyMap defines keyboard shortcuts
type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
	Help key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Help}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Quit, k.Help},
	}
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FBBF24"))

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	statsGoodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399"))

	statsWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FBBF24"))

	statsBadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type cellAlignment int

const (
	alignLeft cellAlignment = iota
	alignRight
)

func formatCell(value string, width int, alignment cellAlignment) string {
	if alignment == alignRight {
		return fmt.Sprintf("%*s", width, value)
	}
	return fmt.Sprintf("%-*s", width, value)
}

func truncateToWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(value) <= width {
		return value
	}
	return lipgloss.NewStyle().Width(width).Render(value)
}

func NewTUIOutput() *TUIOutput {
	return newTUIOutput(ptr.NewPtrManager())
}

func newTUIOutput(names *ptr.PtrManager) *TUIOutput {
	updateCh := make(chan shared.CycleReport, 16)
	quitCh := make(chan struct{}, 1)

	model := &tuiModel{
		stats:     make(map[string]*addressStats),
		startTime: time.Now(),
		names:     names,
		help:      help.New(),
		keys:      keys,
		updateCh:  updateCh,
		quitCh:    quitCh,
	}

	return &TUIOutput{
		model:    model,
		updateCh: updateCh,
		quitCh:   quitCh,
	}
}

func (t *TUIOutput) Start() {
	doneCh := make(chan struct{})
	program := tea.NewProgram(t.model, tea.WithAltScreen())

	t.mu.Lock()
	t.doneCh = doneCh
	t.program = program
	t.mu.Unlock()

	go func() {
		defer func() {
			close(doneCh)
			if r := recover(); r != nil {
				slog.Error("TUI panic", "panic", r)
				program.Kill()
			}
		}()

		if _, err := program.Run(); err != nil {
			slog.Error("Error running TUI", "err", err)
		}
	}()
}

// QuitChan returns the channel that signals when the user quits the TUI
func (t *TUIOutput) QuitChan() <-chan struct{} {
	return t.quitCh
}

func (t *TUIOutput) Report(report shared.CycleReport) {
	select {
	case t.updateCh <- report:
	default:
		// Display is behind, skip this cycle
	}
}

func (t *TUIOutput) Close() error {
	t.mu.Lock()
	program := t.program
	doneCh := t.doneCh
	t.program = nil
	t.doneCh = nil
	t.mu.Unlock()

	if program != nil {
		program.Quit()
		select {
		case <-doneCh:
		case <-time.After(500 * time.Millisecond):
			program.Kill()
			<-doneCh
		}
	}
	return nil
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForReport(m.updateCh),
	)
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			// Signal quit to the main program
			select {
			case m.quitCh <- struct{}{}:
			default:
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Up):
			m.scroll = max(m.scroll-1, 0)
		case key.Matches(msg, m.keys.Down):
			m.scroll = min(m.scroll+1, max(len(m.order)-1, 0))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case reportMsg:
		m.apply(shared.CycleReport(msg))
		return m, waitForReport(m.updateCh)

	case tickMsg:
		return m, tickCmd()
	}

	return m, nil
}

// apply folds a report into the per-address stats. Addresses no longer
// configured are dropped.
func (m *tuiModel) apply(report shared.CycleReport) {
	m.cycle = report.Cycle
	m.nonce = report.Nonce
	m.intervalMs = report.IntervalMs

	order := make([]string, 0, len(report.Entries))
	stats := make(map[string]*addressStats, len(report.Entries))
	for _, e := range report.Entries {
		s, ok := m.stats[e.Address]
		if !ok {
			s = &addressStats{Address: e.Address}
			if ip, isIP := ptr.HostIP(e.Address); isIP {
				go m.names.RequestPTR(ip)
			}
		}
		s.add(e)
		stats[e.Address] = s
		order = append(order, e.Address)
	}
	m.stats = stats
	m.order = order
	m.scroll = min(m.scroll, max(len(order)-1, 0))
}

func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder

	elapsed := time.Since(m.startTime)
	title := fmt.Sprintf(" TCP connect latency | Interval: %dms | Cycle: %d | Config: #%d | Elapsed: %s ",
		m.intervalMs, m.cycle, m.nonce, elapsed.Round(time.Second))
	b.WriteString(titleStyle.Width(m.width).Render(title))
	b.WriteString("\n")

	helpHeight := lipgloss.Height(m.help.View(m.keys))
	tableHeight := m.height - 4 - helpHeight // title + border + help
	b.WriteString(m.renderTable(tableHeight))

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))

	return b.String()
}

// renderTable renders one row per address with its latency stats in ms
func (m *tuiModel) renderTable(maxHeight int) string {
	var b strings.Builder
	contentWidth := max(m.width-4, 0)

	header := fmt.Sprintf("%-32s %9s %9s %9s %9s %7s",
		"Address", "Last(ms)", "Min(ms)", "Avg(ms)", "Max(ms)", "Miss%")
	b.WriteString(headerStyle.Render(truncateToWidth(header, contentWidth)))
	b.WriteString("\n")

	if len(m.order) == 0 {
		b.WriteString(rowStyle.Render("Waiting for the first cycle..."))
		return borderStyle.Width(max(m.width-2, 0)).Render(b.String())
	}

	visibleRows := max(maxHeight-1, 1)
	start := min(m.scroll, len(m.order)-1)
	end := min(start+visibleRows, len(m.order))

	for _, addr := range m.order[start:end] {
		s := m.stats[addr]

		last := shared.FormatMillis(s.Last)
		lastStyle := statsGoodStyle
		if s.LastSentinel {
			last = "no data"
			lastStyle = statsBadStyle
		}

		minCell, avgCell, maxCell := "-", "-", "-"
		if s.Count > 0 {
			minCell = shared.FormatMillis(s.Min)
			avgCell = shared.FormatMillis(s.avg())
			maxCell = shared.FormatMillis(s.Max)
		}

		missStyle := statsGoodStyle
		if s.missPct() > 10 {
			missStyle = statsWarningStyle
		}
		if s.missPct() > 25 {
			missStyle = statsBadStyle
		}

		label := addr
		if name := m.names.Label(addr); name != "" {
			label = addr + " (" + name + ")"
		}

		cells := []string{
			formatCell(label, 32, alignLeft),
			lastStyle.Render(formatCell(last, 9, alignRight)),
			formatCell(minCell, 9, alignRight),
			formatCell(avgCell, 9, alignRight),
			formatCell(maxCell, 9, alignRight),
			missStyle.Render(formatCell(fmt.Sprintf("%.1f%%", s.missPct()), 7, alignRight)),
		}
		line := truncateToWidth(strings.Join(cells, " "), contentWidth)
		b.WriteString(rowStyle.Render(line))
		b.WriteString("\n")
	}

	return borderStyle.Width(max(m.width-2, 0)).Render(b.String())
}

func waitForReport(updateCh chan shared.CycleReport) tea.Cmd {
	return func() tea.Msg {
		return reportMsg(<-updateCh)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
