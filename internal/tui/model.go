// Package tui is the terminal chat front end for a chat.Session.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/chat"
)

const helpText = "enter send • ctrl+l clear • ctrl+e evaluations • pgup/pgdn scroll • esc quit"

type initDoneMsg struct{ err error }

type answerMsg struct {
	turn chat.Turn
	err  error
}

type evalMsg struct {
	report json.RawMessage
	err    error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	session  *chat.Session
	source   string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	summary    string
	evaluation string
	status     string
	busy       bool
	initErr    error
	ready      bool
	width      int
	height     int
}

// New creates a model over session. The session is initialized by the
// model's Init command unless that already happened.
func New(ctx context.Context, session *chat.Session, source string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))
	m := Model{
		ctx:      ctx,
		session:  session,
		source:   source,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		busy:     true,
		status:   "Building the pipeline over " + source + "...",
	}
	switch session.State() {
	case chat.StateReady:
		m.onInit(nil)
	case chat.StateFailed:
		m.onInit(session.Err())
	}
	return m
}

// Busy reports whether a pipeline call is in flight.
func (m Model) Busy() bool { return m.busy }

// Status returns the status line text.
func (m Model) Status() string { return m.status }

// Input returns the text in the input line.
func (m Model) Input() string { return m.input.Value() }

// Err returns the initialization error, if any.
func (m Model) Err() error { return m.initErr }

// Init starts the cursor blink, the spinner and the pipeline build.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, initPipeline(m.ctx, m.session))
}

func initPipeline(ctx context.Context, s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		return initDoneMsg{err: s.Init(ctx)}
	}
}

func submit(ctx context.Context, s *chat.Session, question string) tea.Cmd {
	return func() tea.Msg {
		turn, err := s.Submit(ctx, question)
		return answerMsg{turn: turn, err: err}
	}
}

func evaluate(ctx context.Context, s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		report, err := s.Evaluations(ctx)
		return evalMsg{report: report, err: err}
	}
}

// Update handles key, window and pipeline events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case initDoneMsg:
		m.onInit(msg.err)
		m.layout()
		return m, nil
	case answerMsg:
		m.busy = false
		switch {
		case errors.Is(msg.err, chat.ErrEmptyQuestion):
			m.status = "Ready."
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		default:
			// Only a recorded turn clears the input; a failed question stays for resending.
			m.input.Reset()
			m.status = "Ready."
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	case evalMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.evaluation = indent(msg.report)
		m.status = "Evaluation of the last exchange."
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if m.initErr != nil {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			q := m.input.Value()
			if strings.TrimSpace(q) == "" {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			return m, tea.Batch(m.spinner.Tick, submit(m.ctx, m.session, q))
		case "ctrl+l":
			if m.busy {
				return m, nil
			}
			if err := m.session.Clear(); err != nil {
				m.status = "Error: " + err.Error()
				return m, nil
			}
			m.evaluation = ""
			m.status = "History cleared."
			m.refresh()
			return m, nil
		case "ctrl+e":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Evaluating the last exchange..."
			return m, tea.Batch(m.spinner.Tick, evaluate(m.ctx, m.session))
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) onInit(err error) {
	m.busy = false
	if err != nil {
		m.initErr = err
		m.status = err.Error()
		m.input.Blur()
		return
	}
	m.summary = m.session.Summary()
	m.status = "Pipeline ready. Ask a question."
	m.refresh()
}

// layout sizes the transcript to whatever the header and footer leave.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	rw, rh := transcriptBoxStyle.GetFrameSize()
	_, qh := inputBoxStyle.GetFrameSize()
	reserved := lipgloss.Height(m.headerView()) + qh + 1 + 2 // input line, status, help
	m.viewport.Width = max(20, m.width-rw)
	m.viewport.Height = max(3, m.height-reserved-rh)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcriptView())
}

func (m Model) transcriptView() string {
	body := m.session.Transcript()
	if body == "" {
		body = hintStyle.Render("No messages yet.")
	}
	if m.evaluation != "" {
		body += "\n\n" + evalTitleStyle.Render("Evaluations") + "\n" + m.evaluation
	}
	if m.viewport.Width > 0 {
		return lipgloss.NewStyle().Width(m.viewport.Width).Render(body)
	}
	return body
}

func (m Model) headerView() string {
	header := titleStyle.Render("RAG Chat") + " " + hintStyle.Render(m.source)
	if m.summary == "" {
		return header
	}
	w := max(20, m.width)
	return header + "\n" + summaryStyle.Width(w).Render(m.summary)
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.initErr != nil {
		return titleStyle.Render("RAG Chat") + "\n\n" +
			errorStyle.Render(m.initErr.Error()) + "\n\n" +
			hintStyle.Render("Press esc to quit.")
	}
	status := statusStyle.Render(m.status)
	if strings.HasPrefix(m.status, "Error:") {
		status = errorStyle.Render(m.status)
	}
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return m.headerView() + "\n" +
		transcriptBoxStyle.Render(m.viewport.View()) + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		status + "\n" +
		hintStyle.Render(helpText)
}

func indent(report json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, report, "", "  "); err != nil {
		return string(report)
	}
	return buf.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle         = lipgloss.NewStyle().Bold(true)
	summaryStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	evalTitleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	spinnerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
