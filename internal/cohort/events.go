package cohort

import "strings"

const (
	EventAppLaunch         = "app_launch"
	EventDownloadCompleted = "download_completed"
	EventTappedStart       = "tapped_start"
	EventSelectedLevel     = "selected_level"
	EventPuzzleCompleted   = "puzzle_completed"
	EventLevelCompleted    = "level_completed"
)

var eventRank = map[string]int{
	EventAppLaunch:         0,
	EventDownloadCompleted: 1,
	EventTappedStart:       2,
	EventSelectedLevel:     3,
	EventPuzzleCompleted:   4,
	EventLevelCompleted:    5,
}

// EventRank orders furthest_event values by funnel progress. Unknown events rank -1.
func EventRank(event string) int {
	r, ok := eventRank[strings.ToLower(strings.TrimSpace(event))]
	if !ok {
		return -1
	}
	return r
}
