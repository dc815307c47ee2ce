package metrics

// Definition documents one metric shown on the dashboard.
type Definition struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
	Formula    string `json:"formula"`
}

func (Definition) Header() []string { return []string{"code", "name", "definition", "formula"} }

func (d Definition) Record() []string { return []string{d.Code, d.Name, d.Definition, d.Formula} }

var definitions = []Definition{
	{"LR", "Learner Reached", "Users who launched the app at least once.", "Count of distinct user_pseudo_id in app_launch or progress"},
	{"DC", "Download Completed", "Users whose furthest event is download_completed or later.", "Count of users with furthest_event >= download_completed"},
	{"TS", "Tapped Start", "Users who tapped the start button.", "Count of users with furthest_event >= tapped_start"},
	{"SL", "Selected Level", "Users who picked a level.", "Count of users with furthest_event >= selected_level"},
	{"PC", "Puzzle Completed", "Users who finished at least one puzzle.", "Count of users with furthest_event >= puzzle_completed"},
	{"LA", "Learners Acquired", "Users who completed at least one level.", "Count of users with furthest_event = level_completed and max_user_level >= 1"},
	{"RA", "Readers Acquired", "Learners who reached level 25.", "Count of LA users with max_user_level >= 25"},
	{"GC", "Game Completed", "Readers who completed the game.", "Count of RA users with gpc >= 90"},
	{"GPP", "Game Progress Percent", "Average share of the game a user has completed.", "mean(gpc) over the progress rows"},
	{"GCA", "Game Completion Average", "Share of acquired learners who completed the game.", "100 * (LA users with gpc >= 90) / LA"},
	{"LRC", "Learner Reached Cost", "Ad spend per learner reached.", "cost / LR"},
	{"LAC", "Learner Acquisition Cost", "Ad spend per learner acquired.", "cost / LA"},
	{"GCC", "Game Completion Cost", "Ad spend per completed game.", "cost / GC"},
}

// Definitions returns the metric glossary in display order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}
