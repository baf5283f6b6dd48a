package enrich

import (
	"fmt"
	"time"

	"jobscout/core-service/internal/model"
)

// Ghost-score heuristics. Source-specific and tunable; the weights below
// keep the score in [0, 100].
const (
	staleDays     = 21
	veryStaleDays = 45

	stalePoints       = 25.0
	veryStalePoints   = 20.0
	missingDatePoints = 10.0
	repostPoints      = 15.0
	repostPointsCap   = 45.0
)

// GhostScore computes a deterministic ghost-likelihood score in [0, 100]
// from posting age and repost history, plus the structured signals behind
// it.
func GhostScore(postedDate *time.Time, repostCount int, now time.Time) (float64, model.GhostSignals) {
	signals := model.GhostSignals{RepostCount: repostCount}
	score := 0.0

	if postedDate == nil {
		signals.MissingDate = true
		signals.Reasons = append(signals.Reasons, "no posted date")
		score += missingDatePoints
	} else {
		days := int(now.Sub(*postedDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		signals.DaysSincePosted = &days
		if days >= staleDays {
			signals.Stale = true
			signals.Reasons = append(signals.Reasons, fmt.Sprintf("posted %d days ago", days))
			score += stalePoints
		}
		if days >= veryStaleDays {
			score += veryStalePoints
		}
	}

	if repostCount > 0 {
		repostScore := repostPoints * float64(repostCount)
		if repostScore > repostPointsCap {
			repostScore = repostPointsCap
		}
		signals.Reasons = append(signals.Reasons, fmt.Sprintf("reposted %d times", repostCount))
		score += repostScore
	}

	if score > 100 {
		score = 100
	}
	return score, signals
}
