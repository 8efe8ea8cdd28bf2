// Package clip holds the clip model and the proximity grouping that turns a
// batch of clips into viral groups.
package clip

import "time"

// Clip is a single user-made highlight cut from a channel.
type Clip struct {
	ID          string    `json:"id"`
	CreatorName string    `json:"creator_name"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
	// VideoID is the broadcast or recording the clip was cut from. Empty when unknown.
	VideoID     string `json:"video_id,omitempty"`
	ViewerCount int    `json:"viewer_count"`
	Title       string `json:"title,omitempty"`
}

// Group is a set of clips judged to capture the same moment.
type Group struct {
	Start   time.Time
	End     time.Time
	Members []Clip
}

// Anchor returns the clip that opened the group.
func (g Group) Anchor() Clip {
	return g.Members[0]
}

// Size returns the number of member clips.
func (g Group) Size() int {
	return len(g.Members)
}

// Origin tells whether a clip was cut from the broadcast in progress or from
// a recording.
type Origin string

const (
	OriginLive Origin = "live"
	OriginVOD  Origin = "vod"
)
