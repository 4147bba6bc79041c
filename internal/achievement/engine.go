// Package achievement evaluates milestone rules against a user's count history.
//
// Everything here is pure: callers load the records, compute Stats and pass
// in the set of already earned achievement ids. Granting is the caller's job.
package achievement

import (
	"sort"
	"time"

	"github.com/sethshoultes/flock-control/internal/model"
)

// Stats are the aggregate figures achievements are measured against.
type Stats struct {
	TotalCounts     int
	UniqueBreeds    int
	MaxCount        int
	UniqueDays      int
	ConsecutiveDays int
}

// Record is the subset of a count the statistics need.
type Record struct {
	Count     int
	Breed     *string
	Timestamp time.Time
}

// ComputeStats aggregates records. Days are UTC calendar days; the
// consecutive figure is the longest run of adjacent days with a record.
func ComputeStats(records []Record) Stats {
	stats := Stats{TotalCounts: len(records)}
	breeds := make(map[string]struct{})
	days := make(map[int64]struct{})

	for _, r := range records {
		if r.Count > stats.MaxCount {
			stats.MaxCount = r.Count
		}
		if r.Breed != nil && *r.Breed != "" {
			breeds[*r.Breed] = struct{}{}
		}
		if !r.Timestamp.IsZero() {
			days[dayNumber(r.Timestamp)] = struct{}{}
		}
	}
	stats.UniqueBreeds = len(breeds)
	stats.UniqueDays = len(days)
	stats.ConsecutiveDays = longestRun(days)
	return stats
}

func dayNumber(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

func longestRun(days map[int64]struct{}) int {
	if len(days) == 0 {
		return 0
	}
	sorted := make([]int64, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	best, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// Value returns the statistic an achievement type measures.
func (s Stats) Value(t model.AchievementType) int {
	switch t {
	case model.AchievementTotalCounts:
		return s.TotalCounts
	case model.AchievementUniqueBreeds:
		return s.UniqueBreeds
	case model.AchievementMaxCount:
		return s.MaxCount
	case model.AchievementUniqueDays:
		return s.UniqueDays
	case model.AchievementConsecutiveDays:
		return s.ConsecutiveDays
	default:
		return 0
	}
}

// Evaluate returns the definitions whose statistic meets the requirement and
// that are not in earned. Running it again with the newly granted ids added
// to earned yields nothing.
func Evaluate(defs []model.Achievement, stats Stats, earned map[int64]bool) []model.Achievement {
	var granted []model.Achievement
	for _, def := range defs {
		if earned[def.ID] {
			continue
		}
		if stats.Value(def.Type) >= def.Requirement {
			granted = append(granted, def)
		}
	}
	return granted
}
