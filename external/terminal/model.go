package terminal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/foxseedlab/tsuyaku/internal/pipeline"
)

const minPanelWidth = 20

type statusMsg pipeline.Status

type interimMsg string

type resultMsg pipeline.Result

type errorMsg string

type speechMsg struct{}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	interimStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model renders the latest original/translated pair side by side. Quitting is
// reported through quit so the caller can stop the pipeline.
type Model struct {
	from        string
	to          string
	width       int
	status      string
	original    string
	translated  string
	failed      bool
	interim     string
	lastError   string
	speechCount int
}

func NewModel(from, to string) Model {
	return Model{from: from, to: to, status: "connecting", width: 80}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case statusMsg:
		m.status = string(msg)
		if pipeline.Status(msg) == pipeline.StatusStarted {
			m.lastError = ""
		}
	case interimMsg:
		m.interim = string(msg)
	case resultMsg:
		m.original = msg.Transcription
		m.translated = msg.Translation
		m.failed = msg.TranslationError != ""
		m.interim = ""
	case errorMsg:
		m.lastError = string(msg)
	case speechMsg:
		m.speechCount++
	}
	return m, nil
}

func (m Model) View() string {
	panelWidth := max(minPanelWidth, (m.width-4)/2)
	style := panelStyle.Width(panelWidth)

	translated := m.translated
	if m.failed {
		translated = failedStyle.Render(translated)
	}
	left := style.Render(titleStyle.Render("Original") + "\n" + m.original)
	right := style.Render(titleStyle.Render(fmt.Sprintf("Translated (%s)", m.to)) + "\n" + translated)

	var b strings.Builder
	header := fmt.Sprintf("%s -> %s  %s", m.from, m.to, m.status)
	if m.speechCount > 0 {
		header += fmt.Sprintf("  (%d spoken)", m.speechCount)
	}
	b.WriteString(statusStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	b.WriteString("\n")
	if m.interim != "" {
		b.WriteString(interimStyle.Render("… " + m.interim))
		b.WriteString("\n")
	}
	if m.lastError != "" {
		b.WriteString(errorStyle.Render("error: " + m.lastError))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q to quit"))
	return b.String()
}
