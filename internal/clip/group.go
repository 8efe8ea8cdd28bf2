package clip

import (
	"sort"
	"time"
)

// GroupClips partitions clips into viral groups.
//
// Clips are ordered by creation time (stable on ties). Each unused clip is
// tried as an anchor: the following clips join while they were created no
// more than windowSec after the anchor and are not already grouped; the scan
// stops at the first clip breaking either rule. The window is measured from
// the anchor, not from the last member. The candidate is emitted when it has
// at least min.Evaluate(anchor.ViewerCount) members, and only then are its
// clips marked used. A rejected anchor stays available as a member of a later
// window.
func GroupClips(clips []Clip, windowSec int, min Minimum) []Group {
	if len(clips) == 0 {
		return nil
	}

	sorted := make([]Clip, len(clips))
	copy(sorted, clips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	window := time.Duration(windowSec) * time.Second
	used := make(map[string]bool, len(sorted))
	var groups []Group

	for i, anchor := range sorted {
		if used[anchor.ID] {
			continue
		}

		candidate := []Clip{anchor}
		for _, next := range sorted[i+1:] {
			if next.CreatedAt.Sub(anchor.CreatedAt) > window || used[next.ID] {
				break
			}
			candidate = append(candidate, next)
		}

		if len(candidate) < min.Evaluate(anchor.ViewerCount) {
			continue
		}

		for _, c := range candidate {
			used[c.ID] = true
		}
		groups = append(groups, Group{
			Start:   anchor.CreatedAt,
			End:     candidate[len(candidate)-1].CreatedAt,
			Members: candidate,
		})
	}

	return groups
}
