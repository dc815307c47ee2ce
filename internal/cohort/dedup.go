package cohort

import (
	"github.com/curiouslearning/cl-dashboard/internal/models"
)

// better reports whether a shows more funnel progress than b:
// (reached level_completed, max level, event rank) compared descending.
func better(a, b models.UserProgress) bool {
	ac := EventRank(a.FurthestEvent) == eventRank[EventLevelCompleted]
	bc := EventRank(b.FurthestEvent) == eventRank[EventLevelCompleted]
	if ac != bc {
		return ac
	}
	if a.MaxUserLevel != b.MaxUserLevel {
		return a.MaxUserLevel > b.MaxUserLevel
	}
	return EventRank(a.FurthestEvent) > EventRank(b.FurthestEvent)
}

// Dedup reduces both tables to one row per user.
//
// Progress: the row with the most funnel progress wins; ties keep the first seen.
// Launches: a user's launch row is aligned with the canonical progress row so the
// Learner Reached join sees the same (language, country). When none of the user's
// launch rows carries the canonical combination the first row is kept, its
// language/country overwritten, and the case is counted in Unmatched.
func Dedup(progress []models.UserProgress, launches []models.AppLaunch) ([]models.UserProgress, []models.AppLaunch, models.DedupReport) {
	rep := models.DedupReport{ProgressIn: len(progress), LaunchIn: len(launches)}

	best := make(map[string]models.UserProgress, len(progress))
	order := make([]string, 0, len(progress))
	for _, p := range progress {
		cur, ok := best[p.UserID]
		if !ok {
			order = append(order, p.UserID)
			best[p.UserID] = p
			continue
		}
		if better(p, cur) {
			best[p.UserID] = p
		}
	}
	outP := make([]models.UserProgress, 0, len(order))
	for _, id := range order {
		outP = append(outP, best[id])
	}

	byUser := make(map[string][]models.AppLaunch, len(launches))
	lorder := make([]string, 0, len(launches))
	for _, l := range launches {
		if _, ok := byUser[l.UserID]; !ok {
			lorder = append(lorder, l.UserID)
		}
		byUser[l.UserID] = append(byUser[l.UserID], l)
	}
	outL := make([]models.AppLaunch, 0, len(lorder))
	for _, id := range lorder {
		rows := byUser[id]
		canon, ok := best[id]
		if !ok {
			outL = append(outL, rows[0])
			continue
		}
		idx := -1
		for i, r := range rows {
			if r.Language == canon.Language && r.Country == canon.Country {
				idx = i
				break
			}
		}
		switch {
		case idx == 0:
			outL = append(outL, rows[0])
		case idx > 0:
			rep.Reassigned++
			outL = append(outL, rows[idx])
		default:
			rep.Unmatched++
			kept := rows[0]
			kept.Language = canon.Language
			kept.Country = canon.Country
			outL = append(outL, kept)
		}
	}

	rep.ProgressOut = len(outP)
	rep.LaunchOut = len(outL)
	return outP, outL, rep
}
