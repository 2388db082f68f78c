// Package match holds the volleyball scoring rules and the reversible
// commands that mutate a live match.
package match

import "github.com/marcus/rally/internal/models"

const (
	// SetsToWin is the number of sets that wins a best-of-five match.
	SetsToWin = 3
	// DecidingSet is the set number played to the lower target.
	DecidingSet = 5

	regularTarget  = 25
	decidingTarget = 15
	winMargin      = 2
)

// SetTarget returns the points needed to win set setNumber.
func SetTarget(setNumber int) int {
	if setNumber == DecidingSet {
		return decidingTarget
	}
	return regularTarget
}

// IsSetComplete reports whether a set with this score is over: the leader
// reached the target and leads by at least two.
func IsSetComplete(setNumber, home, away int) bool {
	diff := home - away
	if diff < 0 {
		diff = -diff
	}
	return max(home, away) >= SetTarget(setNumber) && diff >= winMargin
}

// Rotate advances a lineup one position: the player at position 1 moves to
// 6 and everyone else moves up, so [A,B,C,D,E,F] becomes [F,A,B,C,D,E].
func Rotate(l models.Lineup) models.Lineup {
	var next models.Lineup
	for i := range l {
		next[i] = l[(i+len(l)-1)%len(l)]
	}
	return next
}

// PointOutcome describes what a point did to a set.
type PointOutcome struct {
	ServiceChange bool
	Rotated       bool
	SetCompleted  bool
	// WinnerTeamID is set when SetCompleted.
	WinnerTeamID string
}

// ApplyPoint returns set after scoringTeamID won a rally. The lineup
// rotates only when the tracked team wins the serve back.
func ApplyPoint(set models.Set, scoringTeamID, homeTeamID string) (models.Set, PointOutcome) {
	next := set.Clone()
	var out PointOutcome

	if scoringTeamID == homeTeamID {
		next.HomeScore++
	} else {
		next.AwayScore++
	}

	if scoringTeamID != set.ServerTeamID {
		out.ServiceChange = true
		next.ServerTeamID = scoringTeamID
		if scoringTeamID == set.LineupTeamID {
			next.CurrentLineup = Rotate(set.CurrentLineup)
			out.Rotated = true
		}
	}

	if IsSetComplete(next.SetNumber, next.HomeScore, next.AwayScore) {
		next.Status = models.SetCompleted
		out.SetCompleted = true
		out.WinnerTeamID = scoringTeamID
	}
	return next, out
}

// IsMatchComplete reports whether either side has won enough sets.
func IsMatchComplete(homeSets, awaySets int) bool {
	return homeSets >= SetsToWin || awaySets >= SetsToWin
}
