// Package output provides styled terminal output helpers (success, error,
// warning, scoreboard and sync formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/rally/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	serveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)

	matchStyles = map[models.MatchStatus]lipgloss.Style{
		models.MatchUpcoming:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.MatchLive:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.MatchCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
	syncStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncNeverSynced: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.SyncSyncing:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncSynced:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatMatchStatus formats a match status with color
func FormatMatchStatus(s models.MatchStatus) string {
	style, ok := matchStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// Names resolves team and player ids to display names. Unknown ids render as-is.
type Names map[string]string

// Name returns the display name of id.
func (n Names) Name(id string) string {
	if name, ok := n[id]; ok && name != "" {
		return name
	}
	return id
}

// FormatScoreboard renders the match header, sets won and the live set.
func FormatScoreboard(m models.Match, set *models.Set, names Names) string {
	home, away := names.Name(m.HomeTeamID), names.Name(m.AwayTeamID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s vs %s  %s\n", titleStyle.Render(home), titleStyle.Render(away), FormatMatchStatus(m.Status))
	fmt.Fprintf(&sb, "Sets  %d - %d", m.HomeScore, m.AwayScore)

	if set != nil {
		homeMark, awayMark := " ", " "
		if set.ServerTeamID == m.HomeTeamID {
			homeMark = serveStyle.Render("•")
		} else if set.ServerTeamID == m.AwayTeamID {
			awayMark = serveStyle.Render("•")
		}
		fmt.Fprintf(&sb, "\nSet %d  %s%2d - %-2d%s  %s",
			set.SetNumber, homeMark, set.HomeScore, set.AwayScore, awayMark, subtleStyle.Render(string(set.Status)))
		if set.LineupTeamID != "" {
			fmt.Fprintf(&sb, "\n%s\n%s", subtleStyle.Render("Rotation ("+names.Name(set.LineupTeamID)+")"), FormatLineup(set.CurrentLineup, set.PlayerRoles, names))
		}
	}
	return boardStyle.Render(sb.String())
}

// FormatLineup lays out court positions in their on-court order:
// 4 3 2 at the net, 5 6 1 at the back.
func FormatLineup(l models.Lineup, roles map[string]models.Role, names Names) string {
	cell := func(pos int) string {
		id := l[pos-1]
		if id == "" {
			return fmt.Sprintf("%d:-", pos)
		}
		label := names.Name(id)
		if r, ok := roles[id]; ok && r != "" {
			label += " (" + shortRole(r) + ")"
		}
		return fmt.Sprintf("%d:%s", pos, label)
	}
	front := []string{cell(4), cell(3), cell(2)}
	back := []string{cell(5), cell(6), cell(1)}
	return "  " + strings.Join(front, "  ") + "\n  " + strings.Join(back, "  ")
}

func shortRole(r models.Role) string {
	switch r {
	case models.RoleSetter:
		return "S"
	case models.RoleOutside:
		return "OH"
	case models.RoleOpposite:
		return "OPP"
	case models.RoleMiddle:
		return "MB"
	case models.RoleLibero:
		return "L"
	case models.RoleDefensiveSub:
		return "DS"
	}
	return string(r)
}

// FormatEventDetails renders a match event in one line.
func FormatEventDetails(d models.EventDetails, names Names) string {
	switch d := d.(type) {
	case models.TimeoutDetails:
		return fmt.Sprintf("timeout: %s", names.Name(d.TeamID))
	case models.CardDetails:
		s := fmt.Sprintf("%s card: %s", d.Color, names.Name(d.TeamID))
		if d.PlayerID != "" {
			s += " / " + names.Name(d.PlayerID)
		}
		if d.Color == models.CardRed {
			return errorStyle.Render(s)
		}
		return warningStyle.Render(s)
	case models.InjuryDetails:
		if d.Description != "" {
			return fmt.Sprintf("injury: %s (%s)", names.Name(d.PlayerID), d.Description)
		}
		return fmt.Sprintf("injury: %s", names.Name(d.PlayerID))
	case models.NoteDetails:
		return "note: " + d.Text
	}
	return "unknown event"
}

// FormatSyncState renders a scope's status and per-collection checkpoints.
func FormatSyncState(s models.SyncState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %s", titleStyle.Render(s.ScopeID), FormatSyncStatus(s.Status))
	if s.LastError != "" {
		when := ""
		if s.LastErrorAt != nil {
			when = " " + subtleStyle.Render(FormatTimeAgo(*s.LastErrorAt))
		}
		fmt.Fprintf(&sb, "\n  %s%s", errorStyle.Render(s.LastError), when)
	}

	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := s.Collections[name]
		mark := subtleStyle.Render("…")
		if c.HasSynced {
			mark = successStyle.Render("✓")
		}
		checkpoint := "never"
		if !c.LastUpdatedAt.IsZero() {
			checkpoint = FormatTimeAgo(c.LastUpdatedAt)
		}
		fmt.Fprintf(&sb, "\n  %s %-16s %s", mark, name, subtleStyle.Render(checkpoint))
	}
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nHISTORY:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// BulletList formats items as a bulleted list with optional indentation
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
