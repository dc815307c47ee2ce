// Package funnel computes the acquisition and engagement funnel over a cohort:
// Learner Reached through Game Completed, grouped or ungrouped, with the derived
// percentages and progress averages the dashboard charts bind to.
package funnel

import (
	"fmt"
	"strings"

	"github.com/curiouslearning/cl-dashboard/internal/cohort"
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

type Stage string

const (
	LR Stage = "LR"
	DC Stage = "DC"
	TS Stage = "TS"
	SL Stage = "SL"
	PC Stage = "PC"
	LA Stage = "LA"
	RA Stage = "RA"
	GC Stage = "GC"
)

// Stages is the fixed funnel order.
var Stages = []Stage{LR, DC, TS, SL, PC, LA, RA, GC}

var titles = map[Stage]string{
	LR: "Learner Reached",
	DC: "Download Completed",
	TS: "Tapped Start",
	SL: "Selected Level",
	PC: "Puzzle Completed",
	LA: "Learners Acquired",
	RA: "Readers Acquired",
	GC: "Game Completed",
}

const (
	// ReaderLevel is the max user level at which a learner counts as a reader.
	ReaderLevel = 25
	// CompletionPct is the game progress percent treated as completing the game.
	CompletionPct = 90.0
)

func (s Stage) Title() string { return titles[s] }

func (s Stage) index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage accepts a stage code case-insensitively.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if st.index() < 0 {
		return "", fmt.Errorf("unknown funnel stage %q", s)
	}
	return st, nil
}

func passes(u models.UserProgress, s Stage) bool {
	rank := cohort.EventRank(u.FurthestEvent)
	switch s {
	case LR:
		return true
	case DC:
		return rank >= cohort.EventRank(cohort.EventDownloadCompleted)
	case TS:
		return rank >= cohort.EventRank(cohort.EventTappedStart)
	case SL:
		return rank >= cohort.EventRank(cohort.EventSelectedLevel)
	case PC:
		return rank >= cohort.EventRank(cohort.EventPuzzleCompleted)
	case LA:
		return rank >= cohort.EventRank(cohort.EventLevelCompleted) && u.MaxUserLevel >= 1
	case RA:
		return u.MaxUserLevel >= ReaderLevel
	case GC:
		return u.GPC >= CompletionPct
	}
	return false
}

// Reached reports whether u is present at stage s. Every earlier stage's
// condition must also hold, so presence at a stage implies all earlier ones.
func Reached(u models.UserProgress, s Stage) bool {
	idx := s.index()
	if idx < 0 {
		return false
	}
	for _, st := range Stages[:idx+1] {
		if !passes(u, st) {
			return false
		}
	}
	return true
}

// Count returns the number of distinct users at stage s. Learner Reached counts
// users in either the launch table or the progress table.
func Count(c cohort.Cohort, s Stage) int {
	return Counts(c)[s]
}

// Counts returns the count for every stage in one pass.
func Counts(c cohort.Cohort) map[Stage]int {
	out := make(map[Stage]int, len(Stages))
	reached := make(map[string]struct{}, len(c.Launches)+len(c.Progress))
	for _, l := range c.Launches {
		reached[l.UserID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Progress))
	for _, p := range c.Progress {
		reached[p.UserID] = struct{}{}
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		for _, st := range Stages[1:] {
			if !Reached(p, st) {
				break
			}
			out[st]++
		}
	}
	out[LR] = len(reached)
	for _, st := range Stages {
		if _, ok := out[st]; !ok {
			out[st] = 0
		}
	}
	return out
}
