package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-toolkit/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserModel struct {
	err      error
	filename string
	rows     []sectionRow
	filtered []sectionRow
	filter   textinput.Model
	selected int
	valid    bool
	verdict  string
}

type loadedMsg struct {
	err     error
	rows    []sectionRow
	valid   bool
	verdict string
}

func newBrowserModel(filename string) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "filter sections"
	ti.Prompt = "/ "
	ti.Width = 30
	return &browserModel{filename: filename, filter: ti}
}

func (m *browserModel) Init() tea.Cmd {
	return m.load
}

func (m *browserModel) load() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	rows, err := collectSections(data)
	if err != nil {
		return loadedMsg{err: err}
	}

	msg := loadedMsg{rows: rows}
	if isComponent(data) {
		msg.valid = true
		msg.verdict = "component (run without -i to validate)"
	} else if _, err := wasm.Validate(data); err != nil {
		msg.verdict = err.Error()
	} else {
		msg.valid = true
		msg.verdict = "valid module"
	}
	return msg
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.filter.Focused() || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

		case "up", "k":
			if !m.filter.Focused() && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if !m.filter.Focused() && m.selected < len(m.filtered)-1 {
				m.selected++
			}

		case "/":
			if !m.filter.Focused() {
				m.filter.Focus()
				return m, textinput.Blink
			}

		case "esc", "enter":
			if m.filter.Focused() {
				m.filter.Blur()
			}
		}

	case loadedMsg:
		m.err = msg.err
		m.rows = msg.rows
		m.valid = msg.valid
		m.verdict = msg.verdict
		m.applyFilter()
	}

	if m.filter.Focused() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	return m, nil
}

func (m *browserModel) applyFilter() {
	query := strings.ToLower(m.filter.Value())
	if query == "" {
		m.filtered = m.rows
	} else {
		m.filtered = nil
		for _, row := range m.rows {
			if strings.Contains(strings.ToLower(row.name), query) ||
				strings.Contains(strings.ToLower(row.detail), query) {
				m.filtered = append(m.filtered, row)
			}
		}
	}
	if m.selected >= len(m.filtered) {
		m.selected = 0
	}
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if len(m.rows) == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmcheck"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n")
	if m.valid {
		b.WriteString(okStyle.Render(m.verdict))
	} else {
		b.WriteString(errStyle.Render(m.verdict))
	}
	b.WriteString("\n\n")

	for i, row := range m.filtered {
		line := fmt.Sprintf("%-16s %s", row.name, row.detail)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • / filter • q quit"))
	return b.String()
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newBrowserModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
