package clip

import "fmt"

// Mode selects how a tenant's detection window and minimum are chosen.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeLow    Mode = "low"
	ModeMedium Mode = "medium"
	ModeHigh   Mode = "high"
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeLow, ModeMedium, ModeHigh, ModeManual:
		return true
	}
	return false
}

// Policy is the window and minimum used for one grouping pass.
type Policy struct {
	WindowSec int
	Minimum   Minimum
}

func (p Policy) String() string {
	return fmt.Sprintf("window=%ds min=%s", p.WindowSec, p.Minimum)
}

type preset struct {
	windowSec int
	minimum   int
}

// Presets trade sensitivity against noise: low needs a large burst, high
// fires on a pair of clips.
var presets = map[Mode]preset{
	ModeLow:    {windowSec: 60, minimum: 5},
	ModeMedium: {windowSec: 30, minimum: 3},
	ModeHigh:   {windowSec: 15, minimum: 2},
}

const (
	autoWindowSec = 30
	// vodPenalty is added to the live minimum when the streamer is offline.
	vodPenalty = 1
	// vodFloor is the lowest minimum accepted for recordings.
	vodFloor = 3
)

// PolicyFor resolves the grouping policy for a tenant's mode. Manual values
// that cannot form a group fall back to the medium preset. Offline sessions
// (clips cut from a recording) get a stricter minimum.
func PolicyFor(mode Mode, manualWindowSec, manualMinimum int, vod bool) Policy {
	switch mode {
	case ModeAuto:
		scaled := DefaultViewerScaled()
		if vod {
			return Policy{WindowSec: autoWindowSec, Minimum: scaled.Stricter(vodPenalty)}
		}
		return Policy{WindowSec: autoWindowSec, Minimum: scaled}
	case ModeManual:
		if manualWindowSec > 0 && manualMinimum > 0 {
			return fixedPolicy(manualWindowSec, manualMinimum, vod)
		}
	case ModeLow, ModeHigh:
		p := presets[mode]
		return fixedPolicy(p.windowSec, p.minimum, vod)
	}
	p := presets[ModeMedium]
	return fixedPolicy(p.windowSec, p.minimum, vod)
}

func fixedPolicy(windowSec, minimum int, vod bool) Policy {
	if vod {
		minimum += vodPenalty
		if minimum < vodFloor {
			minimum = vodFloor
		}
	}
	return Policy{WindowSec: windowSec, Minimum: Fixed(minimum)}
}
