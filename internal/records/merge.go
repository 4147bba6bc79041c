package records

import (
	"sort"
	"time"

	"github.com/sethshoultes/flock-control/internal/model"
)

// Merge combines local and server records into one list with each id once.
// The server copy of an id wins. The result is ordered newest first; a
// record without a timestamp sorts as the Unix epoch, and equal timestamps
// fall back to descending id text so the order is stable across calls.
func Merge(local, server []model.Count) []model.Count {
	byID := make(map[model.CountID]int, len(local)+len(server))
	out := make([]model.Count, 0, len(local)+len(server))

	add := func(c model.Count, overwrite bool) {
		if i, ok := byID[c.ID]; ok {
			if overwrite {
				out[i] = cloneCount(c)
			}
			return
		}
		byID[c.ID] = len(out)
		out = append(out, cloneCount(c))
	}
	for _, c := range server {
		add(c, true)
	}
	for _, c := range local {
		add(c, false)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := sortTime(out[i]), sortTime(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func sortTime(c model.Count) time.Time {
	if c.Timestamp == nil {
		return time.Unix(0, 0)
	}
	return *c.Timestamp
}
