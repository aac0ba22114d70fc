package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/shopworker/internal/events"
)

// pulse lights up on each event and fades out over ten seconds.
type pulse struct {
	last time.Time
}

func (p *pulse) hit(now time.Time) { p.last = now }

func (p pulse) level(now time.Time) int {
	if p.last.IsZero() {
		return 0
	}
	return max(0, 5-int(now.Sub(p.last)/(2*time.Second)))
}

func (p pulse) render(theme Theme, now time.Time) string {
	var b strings.Builder
	lit := p.level(now)
	for i := 0; i < 5; i++ {
		if i < lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(s *PoolState, connected bool, p pulse, theme Theme, width int) string {
	status := theme.Succeeded.Render("RUNNING")
	switch {
	case !connected:
		status = theme.Failed.Render("CONNECTING")
	case s.ShuttingDown:
		status = theme.Running.Render("SHUTTING DOWN")
	}

	now := time.Now()
	title := fmt.Sprintf(" SHOPWORKER WATCH %s", p.render(theme, now))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, width-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock

	h := s.Health
	stats := fmt.Sprintf(" %s  up %s  queue %d  pending %d  started %d  %s %d  %s %d",
		status,
		formatDuration(time.Duration(h.UptimeSeconds)*time.Second),
		h.QueueDepth, h.Pending, h.Started,
		theme.Succeeded.Render("ok"), h.Succeeded,
		theme.Failed.Render("failed"), h.Failed,
	)

	lines := []string{titleLine, stats}
	if len(h.Kinds) > 0 {
		lines = append(lines, theme.Dim.Render(" kinds: "+strings.Join(h.Kinds, ", ")))
	}
	return theme.Border.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderWorkers(s *PoolState, theme Theme, width int) string {
	ids := s.WorkerIDs()
	if len(ids) == 0 {
		return theme.Border.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			theme.Dim.Render("  waiting for pool..."),
		))
	}

	cells := make([]string, 0, len(ids))
	for _, id := range ids {
		st := s.Workers[id]
		cells = append(cells, fmt.Sprintf("#%d %s", id, theme.statusStyle(st).Render(st)))
	}
	return theme.Border.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("WORKERS"),
		" "+strings.Join(cells, "   "),
	))
}

func taskColumns(width int) []table.Column {
	idW := 10
	kindW := 14
	statusW := 10
	workerW := 6
	durW := 9
	errW := max(10, width-idW-kindW-statusW-workerW-durW-12)
	return []table.Column{
		{Title: "Task", Width: idW},
		{Title: "Kind", Width: kindW},
		{Title: "Status", Width: statusW},
		{Title: "Worker", Width: workerW},
		{Title: "Duration", Width: durW},
		{Title: "Error", Width: errW},
	}
}

func taskRows(tasks []*TaskState) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		worker := ""
		if t.Worker > 0 {
			worker = fmt.Sprintf("%d", t.Worker)
		}
		dur := ""
		switch {
		case t.Duration > 0:
			dur = t.Duration.Round(time.Millisecond).String()
		case t.Status == "running" && !t.Started.IsZero():
			dur = time.Since(t.Started).Round(time.Second).String()
		}
		rows = append(rows, table.Row{shortID(t.ID), t.Kind, t.Status, worker, dur, t.Error})
	}
	return rows
}

func renderEventLines(evs []events.Event, theme Theme) string {
	if len(evs) == 0 {
		return theme.Dim.Render("  waiting for events...")
	}
	lines := make([]string, 0, len(evs))
	for _, e := range evs {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var style lipgloss.Style
	switch e.Type {
	case events.TaskSucceeded:
		style = theme.Succeeded
	case events.TaskFailed, events.WorkerAbandoned:
		style = theme.Failed
	case events.TaskStarted, events.ShutdownStarted:
		style = theme.Running
	case events.PoolStarted, events.ShutdownCompleted:
		style = theme.Accent
	default:
		style = theme.Dim
	}
	return fmt.Sprintf(" %s %s %s", ts, style.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

func describeEvent(e events.Event) string {
	var d eventData
	_ = json.Unmarshal(e.Data, &d)

	var parts []string
	if d.TaskID != "" {
		parts = append(parts, "["+shortID(d.TaskID)+"]")
	}
	if d.Kind != "" {
		parts = append(parts, d.Kind)
	}
	if d.Worker > 0 {
		parts = append(parts, fmt.Sprintf("worker %d", d.Worker))
	}
	if d.Error != "" {
		parts = append(parts, d.Error)
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
