package tracker

// Report card colors, matching the usual win/loss palette.
const (
	ColorTied    = 0x808080
	ColorWinning = 0x00FF48
	ColorLosing  = 0xFF1919
)

// Report is the renderable snapshot of a live match, handed to the report
// renderer on every create/update transition.
type Report struct {
	PlayerID     string
	GameName     string
	TagLine      string
	QueueID      string
	MapName      string
	AllyScore    int
	EnemyScore   int
	AccountLevel int
	RankName     string
	CardIconURL  string
	MapImageURL  string
	Ended        bool
}

// Status returns the human-readable match status for the current score.
// While the match is live the score reads as a trend (Winning/Losing); once
// ended the same comparison becomes a result (Won/Lost).
func (r *Report) Status() string {
	switch {
	case r.AllyScore == r.EnemyScore:
		return "Tied"
	case r.AllyScore > r.EnemyScore:
		if r.Ended {
			return "Won"
		}
		return "Winning"
	default:
		if r.Ended {
			return "Lost"
		}
		return "Losing"
	}
}

// Color returns the embed accent color for the current score.
func (r *Report) Color() int {
	switch {
	case r.AllyScore == r.EnemyScore:
		return ColorTied
	case r.AllyScore > r.EnemyScore:
		return ColorWinning
	default:
		return ColorLosing
	}
}
