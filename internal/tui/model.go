// Package tui provides the Bubble Tea capture monitor.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/heartica/internal/model"
)

// Session is the part of the pipeline controller the monitor drives.
type Session interface {
	Record(model.Sample)
	Abort() error
	ProcessSession(ctx context.Context, keepDataset bool) (float64, error)
	LastResult() (model.Decomposition, bool)
}

type phase int

const (
	phaseCapturing phase = iota
	phaseProcessing
	phaseDone
	phaseAborted
)

type sampleMsg model.Sample

type sourceDoneMsg struct {
	err error
}

type resultMsg struct {
	heartRate float64
	err       error
}

// Model implements the Bubble Tea capture monitor.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cancelling   bool
	session      Session
	samples      <-chan model.Sample
	sourceErr    <-chan error
	stopSource   context.CancelFunc
	datasetPath  string
	keepDataset  bool
	sourceLabel  string
	spinner      spinner.Model
	width        int
	phase        phase
	count        int
	last         model.Sample
	heartRate    float64
	result       model.Decomposition
	hasResult    bool
	err          error
	sourceFailed error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	rateStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF4D4F"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	contentStyle = lipgloss.NewStyle().Padding(1, 2)
)

// NewModel constructs a monitor for an already begun session. stopSource
// cancels the goroutine feeding samples. Processing runs under a child of
// ctx that Ctrl+C cancels.
func NewModel(ctx context.Context, session Session, samples <-chan model.Sample, sourceErr <-chan error, stopSource context.CancelFunc, datasetPath, sourceLabel string, keepDataset bool) *Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:         ctx,
		cancel:      cancel,
		session:     session,
		samples:     samples,
		sourceErr:   sourceErr,
		stopSource:  stopSource,
		datasetPath: datasetPath,
		sourceLabel: sourceLabel,
		keepDataset: keepDataset,
		spinner:     sp,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.waitForSample()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case sampleMsg:
		if m.phase != phaseCapturing {
			return m, nil
		}
		s := model.Sample(msg)
		m.session.Record(s)
		m.count++
		m.last = s
		return m, m.waitForSample()
	case sourceDoneMsg:
		if m.phase != phaseCapturing {
			return m, nil
		}
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.sourceFailed = msg.err
		}
		return m, m.startProcessing()
	case resultMsg:
		m.cancel()
		m.phase = phaseDone
		m.heartRate = msg.heartRate
		m.err = msg.err
		m.result, m.hasResult = m.session.LastResult()
		if !m.cancelling {
			return m, nil
		}
		// A failed run never deletes the dataset.
		if msg.err != nil {
			m.phase = phaseAborted
		}
		return m, tea.Quit
	case spinner.TickMsg:
		if m.phase != phaseProcessing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.phase {
	case phaseCapturing:
		switch key {
		case "ctrl+c", "q", "esc":
			m.stopSource()
			m.cancel()
			if err := m.session.Abort(); err != nil {
				m.err = err
			}
			m.phase = phaseAborted
			return m, tea.Quit
		case "s", "enter":
			return m, m.startProcessing()
		}
	case phaseProcessing:
		// Quit only once the engine has returned so the outcome is known.
		if key == "ctrl+c" && !m.cancelling {
			m.cancelling = true
			m.cancel()
		}
	default:
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) waitForSample() tea.Cmd {
	samples, errc := m.samples, m.sourceErr
	return func() tea.Msg {
		s, ok := <-samples
		if !ok {
			return sourceDoneMsg{err: <-errc}
		}
		return sampleMsg(s)
	}
}

func (m *Model) startProcessing() tea.Cmd {
	m.stopSource()
	m.phase = phaseProcessing
	ctx, session, keep := m.ctx, m.session, m.keepDataset
	process := func() tea.Msg {
		hr, err := session.ProcessSession(ctx, keep)
		return resultMsg{heartRate: hr, err: err}
	}
	return tea.Batch(m.spinner.Tick, process)
}

// Outcome reports the final state once the program has exited. For a run
// cancelled during processing, aborted is set and err holds the engine's
// error. A run that completed despite the cancel reports its heart rate.
func (m *Model) Outcome() (heartRate float64, aborted bool, err error) {
	return m.heartRate, m.phase == phaseAborted, m.err
}

// View implements tea.Model.
func (m *Model) View() string {
	lines := []string{titleStyle.Render("heartica"), ""}
	lines = append(lines,
		field("Source", m.sourceLabel),
		field("Dataset", m.datasetPath),
		field("Samples", fmt.Sprintf("%d", m.count)),
		field("Elapsed", fmt.Sprintf("%.1fs", float64(m.last.ElapsedMs)/1000)),
	)
	if m.count > 0 {
		lines = append(lines, field("Last", fmt.Sprintf("R %.3f  G %.3f  B %.3f  IR %.3f", m.last.Red, m.last.Green, m.last.Blue, m.last.IR)))
	}
	lines = append(lines, "")

	switch m.phase {
	case phaseCapturing:
		lines = append(lines, footerStyle.Render("capturing · s/enter: stop and analyze · q: abort"))
	case phaseProcessing:
		if m.cancelling {
			lines = append(lines, m.spinner.View()+" cancelling...")
		} else {
			lines = append(lines, m.spinner.View()+" decomposing signal...")
		}
	case phaseDone:
		if m.err != nil {
			lines = append(lines, errorStyle.Render("analysis failed: "+m.err.Error()))
		} else {
			lines = append(lines, labelStyle.Render("Heart rate ")+rateStyle.Render(fmt.Sprintf("%.1f bpm", m.heartRate)))
			if m.hasResult {
				lines = append(lines, footerStyle.Render(fmt.Sprintf("hr1 %.1f · hr2 %.1f · hr3 %.1f · hr4 %.1f",
					m.result.HR1, m.result.HR2, m.result.HR3, m.result.HR4)))
			}
		}
		lines = append(lines, "", footerStyle.Render("press any key to exit"))
	case phaseAborted:
		lines = append(lines, footerStyle.Render("session aborted, dataset kept"))
	}
	if m.sourceFailed != nil {
		lines = append(lines, errorStyle.Render("source stopped early: "+m.sourceFailed.Error()))
	}

	content := strings.Join(lines, "\n")
	if m.width > 0 {
		return contentStyle.Width(m.width).Render(content)
	}
	return contentStyle.Render(content)
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-8s", label)) + " " + valueStyle.Render(value)
}
