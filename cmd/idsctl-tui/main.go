// Command idsctl-tui is a terminal dashboard client of the query API (C9):
// it polls /api/v1/dashboard and /api/v1/verdicts and renders a live
// severity breakdown and recent verdict list, per §6.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardSummary struct {
	TotalVerdicts int            `json:"total_verdicts"`
	BySeverity    map[string]int `json:"by_severity"`
	GeneratedAt   float64        `json:"generated_at"`
}

type verdict struct {
	Timestamp float64 `json:"Timestamp"`
	SrcIP     string  `json:"SrcIP"`
	Combined  float64 `json:"Combined"`
	Severity  string  `json:"Severity"`
}

var severityOrder = []string{"critical", "high", "medium", "low", "info"}

type tickMsg time.Time

type fetchedMsg struct {
	summary  dashboardSummary
	verdicts []verdict
	err      error
}

type model struct {
	apiURL   string
	client   *http.Client
	summary  dashboardSummary
	verdicts []verdict
	lastErr  error
}

func newModel(apiURL string) model {
	return model{apiURL: apiURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Msg {
	var out fetchedMsg
	if err := getJSON(m.client, m.apiURL+"/api/v1/dashboard", &out.summary); err != nil {
		out.err = err
		return out
	}
	if err := getJSON(m.client, m.apiURL+"/api/v1/verdicts?limit=10", &out.verdicts); err != nil {
		out.err = err
		return out
	}
	return out
}

func getJSON(client *http.Client, url string, dest interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.fetch)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(tick(), m.fetch)
	case fetchedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.summary = msg.summary
		m.verdicts = msg.verdicts
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().PaddingLeft(2)
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))
)

func (m model) View() string {
	s := titleStyle.Render("Noctis IDS - Live Dashboard") + "\n\n"

	if m.lastErr != nil {
		s += errStyle.Render(fmt.Sprintf("api error: %v", m.lastErr)) + "\n\n"
	}

	s += rowStyle.Render(fmt.Sprintf("total verdicts: %d", m.summary.TotalVerdicts)) + "\n"
	for _, sev := range severityOrder {
		s += rowStyle.Render(fmt.Sprintf("%-10s : %d", sev, m.summary.BySeverity[sev])) + "\n"
	}

	s += "\nrecent verdicts:\n"
	for _, v := range m.verdicts {
		s += rowStyle.Render(fmt.Sprintf("%-16s %-8s combined=%.2f", v.SrcIP, v.Severity, v.Combined)) + "\n"
	}

	s += "\nPress 'q' to quit.\n"
	return s
}

func main() {
	apiURL := flag.String("api", "http://localhost:8090", "base URL of the idsd-queryapi server")
	flag.Parse()

	p := tea.NewProgram(newModel(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Printf("tui error: %v\n", err)
		os.Exit(1)
	}
}
