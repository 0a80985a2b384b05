package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/partitions"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

// maxRecentResults is the number of finished partitions listed in the view
const maxRecentResults = 5

type progressModel struct {
	group           string
	total           int
	completed       int
	failed          int
	documents       int
	started         bool
	done            bool
	width           int
	results         []PartitionResult
	overallProgress progress.Model
	spinner         spinner.Model
	startTime       time.Time
	cancel          context.CancelFunc
}

type poolStartedMsg struct {
	total int
}

type partitionCompleteMsg struct {
	result PartitionResult
}

type allCompleteMsg struct{}

func newProgressModel(group string, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	overallProg := progress.New(
		progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
		progress.WithWidth(60),
	)

	return progressModel{
		group:           group,
		overallProgress: overallProg,
		spinner:         s,
		startTime:       time.Now(),
		cancel:          cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overallProgress.Width = msg.Width - 10
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		model, cmd := m.overallProgress.Update(msg)
		if pm, ok := model.(progress.Model); ok {
			m.overallProgress = pm
		}
		return m, cmd
	case poolStartedMsg:
		m.started = true
		m.total = msg.total
		return m, nil
	case partitionCompleteMsg:
		return m.handlePartitionCompleteMsg(msg)
	case allCompleteMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		if m.cancel != nil {
			m.cancel()
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) handlePartitionCompleteMsg(msg partitionCompleteMsg) (tea.Model, tea.Cmd) {
	m.completed++
	if msg.result.Error != nil {
		m.failed++
	} else {
		m.documents += msg.result.Documents
	}

	m.results = append(m.results, msg.result)
	if len(m.results) > maxRecentResults {
		m.results = m.results[len(m.results)-maxRecentResults:]
	}

	if m.total > 0 {
		return m, m.overallProgress.SetPercent(m.percent())
	}
	return m, nil
}

func (m progressModel) percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, "")
	sections = append(sections, tableHeaderStyle.Render(fmt.Sprintf("   Exporting collection group %s", m.group)))
	sections = append(sections, "")

	if !m.started {
		sections = append(sections, stageStyle.Render("   "+m.spinner.View()+" Listing partitions..."))
	} else {
		overallInfo := fmt.Sprintf("   Overall: %d/%d partitions, %d documents, %s elapsed",
			m.completed, m.total, m.documents, time.Since(m.startTime).Round(time.Second))
		sections = append(sections, progressInfoStyle.Render(overallInfo))
		sections = append(sections, "   "+m.overallProgress.ViewAs(m.percent()))
		if m.completed < m.total {
			sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %d partitions in flight or queued", m.spinner.View(), m.total-m.completed)))
		}
		sections = append(sections, "")
		sections = append(sections, m.renderRecentResults()...)
	}

	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderRecentResults renders the last finished partitions
func (m progressModel) renderRecentResults() []string {
	if len(m.results) == 0 {
		return nil
	}

	sections := []string{tableHeaderStyle.Render("   Recent Results"), ""}
	for _, r := range m.results {
		num := r.Descriptor.PartitionNum
		var line string
		switch {
		case r.Error != nil:
			line = fmt.Sprintf("   ❌ partition %d - Error: %v", num, r.Error)
		case r.Empty:
			line = fmt.Sprintf("   ⏭  partition %d - empty", num)
		default:
			line = fmt.Sprintf("   ✅ partition %d - %d documents to %s", num, r.Documents, r.Object)
		}
		sections = append(sections, line)
	}
	return append(sections, "")
}

// runPoolWithProgress runs the pool behind the interactive progress view.
// Quitting the view cancels the run; finished partitions stay finished.
func runPoolWithProgress(ctx context.Context, pool *Pool, group string) (PoolResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newProgressModel(group, cancel), tea.WithOutput(os.Stderr))

	onStart, onResult := pool.OnStart, pool.OnResult
	pool.OnStart = func(remaining []partitions.Descriptor) {
		if onStart != nil {
			onStart(remaining)
		}
		program.Send(poolStartedMsg{total: len(remaining)})
	}
	pool.OnResult = func(r PartitionResult) {
		if onResult != nil {
			onResult(r)
		}
		program.Send(partitionCompleteMsg{result: r})
	}

	type outcome struct {
		result PoolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := pool.Run(ctx, group)
		done <- outcome{result: result, err: err}
		program.Send(allCompleteMsg{})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		o := <-done
		return o.result, fmt.Errorf("progress view failed: %w", err)
	}

	o := <-done
	return o.result, o.err
}
