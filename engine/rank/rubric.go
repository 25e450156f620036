// Package rank scores retrieved postings against a candidate profile in
// fixed-size chunks and applies the posting-age multiplier.
package rank

import (
	"math"
	"time"
)

// Rubric holds the dimension weights the scorer is told to use. Weights sum
// to 100; Recency is the share of the base score reserved for posting age
// before the multiplier is applied.
type Rubric struct {
	Technical     int `json:"technical_skills"`
	Experience    int `json:"experience"`
	IndustryRole  int `json:"industry_role"`
	Location      int `json:"location_remote"`
	Certification int `json:"certification"`
	Education     int `json:"education"`
	Recency       int `json:"recency"`
}

// DefaultRubric is the fixed weighting used for every matching run.
var DefaultRubric = Rubric{
	Technical:     30,
	Experience:    25,
	IndustryRole:  10,
	Location:      5,
	Certification: 5,
	Education:     10,
	Recency:       15,
}

// Total returns the sum of the weights.
func (r Rubric) Total() int {
	return r.Technical + r.Experience + r.IndustryRole + r.Location + r.Certification + r.Education + r.Recency
}

type ageBand struct {
	maxDays    int
	multiplier float64
}

var ageBands = []ageBand{
	{3, 1.5},
	{7, 1.3},
	{14, 1.1},
	{21, 1.0},
	{30, 0.9},
}

const staleMultiplier = 0.7

// AgeMultiplier returns the score multiplier for a posting that is days old.
// Negative ages (posted "in the future" through clock skew) count as fresh.
func AgeMultiplier(days int) float64 {
	for _, b := range ageBands {
		if days <= b.maxDays {
			return b.multiplier
		}
	}
	return staleMultiplier
}

// AgeDays returns the whole days between posted and now, using calendar
// dates in UTC. ok is false when posted is unknown.
func AgeDays(posted *time.Time, now time.Time) (days int, ok bool) {
	if posted == nil || posted.IsZero() {
		return 0, false
	}
	p := truncateDay(posted.UTC())
	n := truncateDay(now.UTC())
	return int(math.Round(n.Sub(p).Hours() / 24)), true
}

// MultiplierFor is AgeMultiplier for a possibly unknown date; unknown dates
// are neither boosted nor penalised.
func MultiplierFor(posted *time.Time, now time.Time) float64 {
	days, ok := AgeDays(posted, now)
	if !ok {
		return 1.0
	}
	return AgeMultiplier(days)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
