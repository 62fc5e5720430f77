// Package tui is a terminal viewer for a running node. It follows the
// node's websocket, draws the thermal grid as coloured cells and sends the
// recalibrate and alarm reset commands.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/render"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

// maxCells bounds the drawn grid edge; larger display grids are sampled.
const maxCells = 16

const sendTimeout = 3 * time.Second

// Sender delivers a command to the node.
type Sender interface {
	Send(ctx context.Context, m processor.Message) error
}

// FrameMsg carries a frame record.
type FrameMsg struct{ Record processor.Record }

// EventMsg carries any other message from the node.
type EventMsg struct{ Message processor.Message }

// DisconnectedMsg reports the end of the connection.
type DisconnectedMsg struct{ Err error }

// ErrMsg reports a failed command.
type ErrMsg struct{ Err error }

// Model is the root Bubble Tea model of the viewer.
type Model struct {
	width  int
	height int

	addr   string
	sender Sender
	ramp   render.Ramp

	frame     *processor.Record
	mode      string
	alarm     bool
	maskCells int
	lastErr   string
	closed    bool
}

// New creates a Model for the node at addr. Commands go through sender.
func New(addr string, sender Sender) Model {
	return Model{addr: addr, sender: sender, ramp: render.DefaultRamp()}
}

func (m Model) Init() tea.Cmd {
	return m.send(processor.Message{processor.KeyCommand: processor.CommandUpdateUI})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case FrameMsg:
		rec := msg.Record
		m.frame = &rec
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Message)
		return m, nil

	case ErrMsg:
		m.lastErr = msg.Err.Error()
		return m, nil

	case DisconnectedMsg:
		m.closed = true
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(e processor.Message) {
	if v, ok := e[processor.KeyAlarm].(string); ok {
		m.alarm = v == processor.ValueSet
	}
	if v, ok := e[processor.KeyMode].(string); ok {
		m.mode = v
	}
	if v, ok := e[processor.KeyCell].(string); ok {
		if v == processor.ValueSet {
			m.maskCells++
		} else if m.maskCells > 0 {
			m.maskCells--
		}
	}
	if v, ok := e[processor.KeyError].(string); ok {
		m.lastErr = v
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit
	case "b", "B":
		return m, m.send(processor.Message{processor.KeyBackground: 1})
	case "r", "R":
		return m, m.send(processor.Message{processor.KeyAlarm: processor.ValueReset})
	}
	return m, nil
}

func (m Model) send(cmd processor.Message) tea.Cmd {
	if m.sender == nil {
		return nil
	}
	s := m.sender
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.Send(ctx, cmd); err != nil {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

func (m Model) View() string {
	title := styleTitle.Render("GridEye " + m.addr)
	if m.closed {
		return lipgloss.JoinVertical(lipgloss.Left, title,
			styleError.Render("disconnected: "+m.lastErr), styleHelp.Render("q quit"))
	}
	if m.frame == nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, styleHelp.Render("waiting for frames..."))
	}

	parts := []string{title, styleGrid.Render(m.renderGrid()), m.renderStatus()}
	if m.alarm {
		parts = append(parts, styleAlarm.Render("ALARM"))
	}
	if m.lastErr != "" {
		parts = append(parts, styleError.Render(m.lastErr))
	}
	parts = append(parts, styleHelp.Render("b recalibrate  r reset alarm  q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderGrid draws each sampled cell as two coloured spaces.
func (m Model) renderGrid() string {
	f := m.frame
	rows, cols := f.Rows, f.Cols
	if rows*cols != len(f.Grid) || rows == 0 {
		return "(malformed frame)"
	}
	rowStep := (rows + maxCells - 1) / maxCells
	colStep := (cols + maxCells - 1) / maxCells

	var b strings.Builder
	for r := 0; r < rows; r += rowStep {
		if r > 0 {
			b.WriteByte('\n')
		}
		for c := 0; c < cols; c += colStep {
			i := r*cols + c
			hex := m.ramp.Hex(f.Grid[i])
			if i < len(f.Colours) {
				hex = f.Colours[i]
			}
			b.WriteString(lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render("  "))
		}
	}
	return b.String()
}

func (m Model) renderStatus() string {
	f := m.frame
	phase := styleCalibrating.Render(f.Phase)
	if f.Phase == "STEADY" {
		phase = styleSteady.Render(f.Phase)
	}
	mode := m.mode
	if mode == "" {
		mode = "?"
	}
	stats := fmt.Sprintf("Max: %.2f℃  Min: %.2f℃  Avg: %.2f℃  %s  mode %s  zone %d cells",
		f.Max, f.Min, f.Mean, f.Time, mode, m.maskCells)
	return lipgloss.JoinHorizontal(lipgloss.Top, phase, " ", styleStats.Render(stats))
}
