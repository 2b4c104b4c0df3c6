package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/jkoenig/syncwell/internal/client"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/service"
	"golang.org/x/term"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
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

// tickMsg triggers polling the batch status
type tickMsg time.Time

// batchUpdateMsg carries the updated batch view
type batchUpdateMsg struct {
	view *service.BatchView
	err  error
}

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	client   *client.Client
	batchID  string
	drive    bool
	view     *service.BatchView
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, batchID string, drive bool) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		batchID:  batchID,
		drive:    drive,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchBatch(),
		m.progress.Init(),
	)
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

	case tickMsg:
		// Fetch batch status
		return m, m.fetchBatch()

	case batchUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch batch status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.view = msg.view

		// Stop on terminal states
		if m.view.State != models.BatchActive {
			m.done = true
			if m.view.State == models.BatchFailed {
				m.err = batchFailure(m.view)
			}
			return m, tea.Quit
		}

		// Continue polling for active batches
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
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

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.view == nil {
		return "Loading batch status...\n"
	}

	out := m.theme.statusStyle().Render(fmt.Sprintf("Batch %s [%s]", m.view.BatchID, m.view.State)) + "\n"
	for _, j := range m.view.Jobs {
		out += m.renderStage(j) + "\n"
	}
	out += m.theme.hintStyle().Render("Press Ctrl+C to continue in background") + "\n"
	return out
}

// renderStage draws one pipeline stage as a progress bar line.
func (m progressModel) renderStage(j service.JobView) string {
	var pct float64
	if j.Percent != nil {
		pct = float64(*j.Percent) / 100
	} else if j.Status == models.JobCompleted {
		pct = 1
	}

	counts := fmt.Sprintf("%d", j.ProcessedItems)
	if j.TotalItems != nil {
		counts = fmt.Sprintf("%d/%d", j.ProcessedItems, *j.TotalItems)
	}
	if j.ErroredItems > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d errors)", j.ErroredItems))
	}

	return fmt.Sprintf("  %-10s %s %s", j.Kind, m.progress.ViewAs(pct), counts)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nBatch %s continues in background.\nUse 'syncwell batches' or 'syncwell status' to check on it.\n",
			m.batchID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Sync failed: %s\n", m.err))
	}

	if m.view != nil {
		var output string
		if m.view.State == models.BatchCompletedWithErrors {
			output += m.theme.completedStyle().Render("✓ Completed") +
				m.theme.errorStyle().Render(" (with errors)") + "\n\n"
		} else {
			output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		}
		for _, j := range m.view.Jobs {
			line := fmt.Sprintf("  %-10s %d items", j.Kind, j.ProcessedItems)
			if j.ErroredItems > 0 {
				line += fmt.Sprintf(", %d errored", j.ErroredItems)
			}
			output += line + "\n"
		}
		if m.view.State == models.BatchCompletedWithErrors {
			output += m.theme.hintStyle().Render(
				fmt.Sprintf("\nUse 'syncwell errors %s' for details and 'syncwell retry %s' to retry.\n",
					m.batchID, m.batchID))
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchBatch fetches the current batch status from the server, optionally
// driving one runner pass first so progress advances even without the
// server-side ticker.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchBatch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if m.drive {
			if _, err := m.client.Run(ctx); err != nil {
				return batchUpdateMsg{err: err}
			}
		}

		view, err := m.client.GetBatch(ctx, m.batchID)
		return batchUpdateMsg{view: view, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// batchFailure extracts the import failure message from a failed batch.
func batchFailure(view *service.BatchView) error {
	for _, j := range view.Jobs {
		if j.Status == models.JobError && j.ErrorMessage != nil {
			return fmt.Errorf("%s stage: %s", j.Kind, *j.ErrorMessage)
		}
	}
	return fmt.Errorf("batch failed")
}

// RunBatchProgress watches a batch until it reaches a terminal state.
// On a TTY it runs the interactive progress UI; otherwise it falls back to
// plain line output. Returns nil on success or Ctrl+C (background), error
// on batch failure.
func RunBatchProgress(c *client.Client, batchID string, drive bool) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchBatchPlain(c, batchID, drive)
	}

	model := newProgressModel(c, batchID, drive)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, the batch continues in background - not an error
		if m.quitting {
			return nil
		}
		// If the batch failed, return the error
		if m.err != nil {
			return m.err
		}
	}

	return nil
}

// watchBatchPlain polls the batch and prints one line per stage change.
func watchBatchPlain(c *client.Client, batchID string, drive bool) error {
	ctx := context.Background()
	last := make(map[models.JobKind]string)

	for {
		if drive {
			if _, err := c.Run(ctx); err != nil {
				return fmt.Errorf("run pending jobs: %w", err)
			}
		}

		view, err := c.GetBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("fetch batch status: %w", err)
		}

		for _, j := range view.Jobs {
			line := fmt.Sprintf("%s: %s %d items", j.Kind, j.Status, j.ProcessedItems)
			if j.ErroredItems > 0 {
				line += fmt.Sprintf(" (%d errors)", j.ErroredItems)
			}
			if last[j.Kind] != line {
				last[j.Kind] = line
				fmt.Println(line)
			}
		}

		if view.State != models.BatchActive {
			fmt.Printf("Batch %s: %s\n", batchID, view.State)
			if view.State == models.BatchFailed {
				return batchFailure(view)
			}
			return nil
		}

		time.Sleep(pollInterval)
	}
}
