package tui

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"glucosense/internal/domain"
)

// Predictor is the TUI-facing subset of the pipeline.
type Predictor interface {
	PredictMap(ctx context.Context, fields map[string]any, k int) (domain.Result, error)
	DisplayFields() []string
	DefaultK() int
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  Predictor
	input    textinput.Model
	viewport viewport.Model
	result   *domain.Result
	summary  string
	status   string
	cursor   int
	ready    bool
}

// New creates a new TUI model instance. summary is shown under the header.
func New(service Predictor, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "age=52 glucose=155 bmi=28.6 ... and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, summary: summary, status: "Ready. Enter patient fields as key=value pairs."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.submit(line)
			m.viewport.SetContent(m.renderResult())
			return m, nil
		case "down":
			if m.result != nil && len(m.result.SimilarCases) > 0 {
				m.cursor = (m.cursor + 1) % len(m.result.SimilarCases)
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		case "up":
			if m.result != nil && len(m.result.SimilarCases) > 0 {
				n := len(m.result.SimilarCases)
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(line string) {
	fields, k, err := ParseInput(line)
	if err != nil {
		m.status = "Error: " + err.Error()
		return
	}
	if k == 0 {
		k = m.service.DefaultK()
	}
	res, err := m.service.PredictMap(context.Background(), fields, k)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.result = nil
		return
	}
	m.result = &res
	m.cursor = 0
	m.status = fmt.Sprintf("%s (p=%.3f), %d similar cases via %s", domain.LabelName(res.Label), res.Probability, len(res.SimilarCases), res.Tier)
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Glucosense")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderResult() string {
	if m.result == nil {
		return "No prediction yet."
	}
	r := m.result
	var b strings.Builder
	label := labelStyle(r.Label).Render(domain.LabelName(r.Label))
	fmt.Fprintf(&b, "Prediction: %s  probability=%.3f\n", label, r.Probability)
	if len(r.SimilarCases) == 0 {
		b.WriteString("\nNo similar cases.")
		return b.String()
	}
	c := r.SimilarCases[m.cursor]
	fmt.Fprintf(&b, "\nSimilar case %d/%d  row=%d  distance=%.3f  tier=%s\n\n",
		m.cursor+1, len(r.SimilarCases), c.Row, c.Distance, r.Tier)
	for _, f := range m.service.DisplayFields() {
		v, ok := c.DisplayValue(f)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%-18s %s", f, strconv.FormatFloat(v, 'f', -1, 64))
		if f == "diabetic" || f == "neigh_pred_label" {
			line = labelStyle(int(v)).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	positiveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	negativeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	pairRe         = regexp.MustCompile(`([A-Za-z_]+)\s*=\s*([^\s,;]+)`)
)

func labelStyle(label int) lipgloss.Style {
	if label == 1 {
		return positiveStyle
	}
	return negativeStyle
}

// ParseInput reads key=value pairs separated by spaces, commas or
// semicolons. Numeric values become float64, anything else stays a string.
// The reserved key k sets the number of similar cases.
func ParseInput(line string) (map[string]any, int, error) {
	matches := pairRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil, 0, fmt.Errorf("no key=value pairs in %q", line)
	}
	fields := make(map[string]any, len(matches))
	k := 0
	for _, mt := range matches {
		key, raw := strings.ToLower(mt[1]), mt[2]
		if key == "k" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, 0, fmt.Errorf("k must be a positive integer, got %q", raw)
			}
			k = n
			continue
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			fields[key] = f
		} else {
			fields[key] = raw
		}
	}
	return fields, k, nil
}
