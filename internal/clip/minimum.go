package clip

import (
	"fmt"
	"strconv"
	"strings"
)

// Minimum decides how many clips a candidate group needs, given the viewer
// count observed on its anchor clip.
type Minimum interface {
	Evaluate(viewerCount int) int
	String() string
}

// Fixed is a constant minimum.
type Fixed int

// Evaluate returns the constant regardless of audience size.
func (f Fixed) Evaluate(int) int { return int(f) }

func (f Fixed) String() string { return strconv.Itoa(int(f)) }

// viewerTier maps an exclusive viewer-count ceiling to a minimum.
type viewerTier struct {
	below   int
	minimum int
}

// ViewerScaled raises the minimum as the audience grows, so large channels
// need a bigger burst before it counts as viral.
type ViewerScaled struct {
	tiers   []viewerTier
	ceiling int
}

// DefaultViewerScaled is the reference audience policy:
// <1000 → 2, <5000 → 3, <15000 → 4, otherwise 5.
func DefaultViewerScaled() ViewerScaled {
	return ViewerScaled{
		tiers: []viewerTier{
			{below: 1000, minimum: 2},
			{below: 5000, minimum: 3},
			{below: 15000, minimum: 4},
		},
		ceiling: 5,
	}
}

// Evaluate returns the minimum for the given audience size.
func (v ViewerScaled) Evaluate(viewerCount int) int {
	for _, t := range v.tiers {
		if viewerCount < t.below {
			return t.minimum
		}
	}
	return v.ceiling
}

// Stricter returns a copy with every tier raised by delta.
func (v ViewerScaled) Stricter(delta int) ViewerScaled {
	out := ViewerScaled{tiers: make([]viewerTier, len(v.tiers)), ceiling: v.ceiling + delta}
	for i, t := range v.tiers {
		out.tiers[i] = viewerTier{below: t.below, minimum: t.minimum + delta}
	}
	return out
}

func (v ViewerScaled) String() string {
	parts := make([]string, 0, len(v.tiers)+1)
	for _, t := range v.tiers {
		parts = append(parts, fmt.Sprintf("<%d:%d", t.below, t.minimum))
	}
	parts = append(parts, fmt.Sprintf("else:%d", v.ceiling))
	return "viewers(" + strings.Join(parts, ",") + ")"
}

// ParseMinimum accepts "auto" for the viewer-scaled policy or a positive integer.
func ParseMinimum(s string) (Minimum, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "auto" || s == "dynamic" {
		return DefaultViewerScaled(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parse minimum %q: %w", s, err)
	}
	if n < 1 {
		return nil, fmt.Errorf("minimum must be at least 1, got %d", n)
	}
	return Fixed(n), nil
}
