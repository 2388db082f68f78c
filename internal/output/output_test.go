package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/rally/internal/models"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{30 * time.Minute, "30m ago"},
		{2 * time.Hour, "2h ago"},
		{3 * 24 * time.Hour, "3d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}

	old := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := FormatTimeAgo(old); got != "2024-05-01" {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
}

func TestFormatLineupOrder(t *testing.T) {
	l := models.Lineup{"p1", "p2", "p3", "p4", "p5", "p6"}
	got := FormatLineup(l, map[string]models.Role{"p1": models.RoleSetter}, Names{"p4": "Ana"})

	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lineup = %q; want two rows", got)
	}
	if !strings.Contains(lines[0], "4:Ana") || strings.Index(lines[0], "4:") > strings.Index(lines[0], "2:") {
		t.Errorf("front row = %q; want 4 3 2 with names", lines[0])
	}
	if !strings.Contains(lines[1], "1:p1 (S)") {
		t.Errorf("back row = %q; want setter role on 1", lines[1])
	}
}

func TestFormatScoreboard(t *testing.T) {
	m := models.Match{ID: "m1", HomeTeamID: "h", AwayTeamID: "a", HomeScore: 1, Status: models.MatchLive}
	set := &models.Set{SetNumber: 2, HomeScore: 12, AwayScore: 10, Status: models.SetLive, ServerTeamID: "h", LineupTeamID: "h"}

	got := FormatScoreboard(m, set, Names{"h": "Lions", "a": "Tigers"})
	for _, want := range []string{"Lions", "Tigers", "Sets  1 - 0", "Set 2", "12 - 10", "Rotation (Lions)"} {
		if !strings.Contains(got, want) {
			t.Errorf("scoreboard missing %q:\n%s", want, got)
		}
	}

	noSet := FormatScoreboard(m, nil, nil)
	if strings.Contains(noSet, "Set 2") || !strings.Contains(noSet, "h vs a") {
		t.Errorf("scoreboard without set:\n%s", noSet)
	}
}

func TestFormatEventDetails(t *testing.T) {
	names := Names{"h": "Lions", "p9": "Bo"}
	tests := []struct {
		details models.EventDetails
		want    string
	}{
		{models.TimeoutDetails{TeamID: "h"}, "timeout: Lions"},
		{models.CardDetails{TeamID: "h", PlayerID: "p9", Color: models.CardYellow}, "yellow card: Lions / Bo"},
		{models.InjuryDetails{PlayerID: "p9", Description: "ankle"}, "injury: Bo (ankle)"},
		{models.InjuryDetails{PlayerID: "p9"}, "injury: Bo"},
		{models.NoteDetails{Text: "net fixed"}, "note: net fixed"},
	}
	for _, tc := range tests {
		if got := FormatEventDetails(tc.details, names); !strings.Contains(got, tc.want) {
			t.Errorf("FormatEventDetails(%T) = %q, want %q", tc.details, got, tc.want)
		}
	}
}

func TestFormatSyncState(t *testing.T) {
	errAt := time.Now().Add(-5 * time.Minute)
	s := models.SyncState{
		ScopeID:     "m1",
		Status:      models.SyncError,
		LastError:   "remote unavailable",
		LastErrorAt: &errAt,
		Collections: map[string]models.CollectionSync{
			"sets":    {HasSynced: true, LastUpdatedAt: time.Now()},
			"matches": {},
		},
	}
	got := FormatSyncState(s)
	for _, want := range []string{"m1", "error", "remote unavailable", "5m ago", "matches", "never", "✓"} {
		if !strings.Contains(got, want) {
			t.Errorf("sync state missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "matches") > strings.Index(got, "sets") {
		t.Errorf("collections not sorted:\n%s", got)
	}
}

func TestBulletListAndHeader(t *testing.T) {
	got := BulletList([]string{"a", "b"}, 2)
	if got[0] != "  - a" || got[1] != "  - b" {
		t.Errorf("BulletList = %q", got)
	}
	if SectionHeader("history") != "\nHISTORY:\n" {
		t.Errorf("SectionHeader = %q", SectionHeader("history"))
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	t.Setenv("COLUMNS", "")
	if w := TerminalWidth(0); w <= 0 {
		t.Errorf("TerminalWidth(0) = %d", w)
	}
	t.Setenv("COLUMNS", "132")
	if w := TerminalWidth(40); w != 132 && w <= 0 {
		t.Errorf("TerminalWidth with COLUMNS = %d", w)
	}
}
