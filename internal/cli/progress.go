package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/intake/internal/client"
	"github.com/raphaelgruber/intake/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Stage   lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Stage:   lipgloss.Color("#D7AF5F"), // amber
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) stageStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Stage)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobUpdateMsg carries a snapshot pushed by the server.
type jobUpdateMsg struct {
	job *models.UploadJob
}

// watchDoneMsg reports that the watch stream ended.
type watchDoneMsg struct {
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	job      *models.UploadJob
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobUpdateMsg:
		m.job = msg.job
		if m.job.IsDone() {
			m.done = true
			if m.job.Status == models.JobStatusFailed {
				m.err = jobError(m.job)
			}
			return m, tea.Quit
		}
		return m, nil

	case watchDoneMsg:
		if m.done {
			return m, nil
		}
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("watch job: %w", msg.err)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job == nil {
		return "Waiting for job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	stage := m.theme.stageStyle().Render(string(m.job.CurrentStage))
	bar := m.progress.ViewAs(jobPercent(m.job))

	msg := ""
	if sp := m.job.StageProgress; sp != nil && sp.Message != "" {
		msg = truncate(sp.Message, 60)
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, bar, stage, msg, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'intake status %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.job != nil {
		out += fmt.Sprintf("\n  Session: %s\n", m.job.SessionID)
		if sp := m.job.StageProgress; sp != nil {
			for _, k := range []string{"items", "input_tokens", "output_tokens"} {
				if v, ok := sp.Details[k]; ok {
					out += fmt.Sprintf("  %-14s %v\n", k+":", v)
				}
			}
		}
	}
	return out
}

func jobError(job *models.UploadJob) error {
	if job.Error != "" {
		return errors.New(job.Error)
	}
	return errors.New("job failed with unknown error")
}

// RunJobProgress follows a job over the watch stream in an interactive
// progress view. Ctrl+C leaves the job running and returns nil; a failed job
// returns its error.
func RunJobProgress(ctx context.Context, c *client.Client, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(jobID))
	go func() {
		err := c.Watch(ctx, jobID, func(job *models.UploadJob) error {
			p.Send(jobUpdateMsg{job: job})
			return nil
		})
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.Send(watchDoneMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// watchPlain follows a job printing one line per snapshot to w.
func watchPlain(ctx context.Context, c *client.Client, jobID string, w io.Writer) error {
	var last *models.UploadJob
	err := c.Watch(ctx, jobID, func(job *models.UploadJob) error {
		last = job
		_, err := fmt.Fprintln(w, progressLine(job))
		return err
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}
	if last != nil && last.Status == models.JobStatusFailed {
		return jobError(last)
	}
	return nil
}

// follow picks the interactive or plain view.
func follow(ctx context.Context, jobID string, w io.Writer) error {
	if interactive() {
		return RunJobProgress(ctx, apiClient, jobID)
	}
	return watchPlain(ctx, apiClient, jobID, w)
}
