package dispatch

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/xpadev-net/clipwatch/internal/clip"
)

// maxListedClips bounds how many links a group message lists.
const maxListedClips = 5

func originLabel(o clip.Origin) string {
	if o == clip.OriginLive {
		return "live"
	}
	return "VOD"
}

// FormatGroup announces a burst of clips.
func FormatGroup(tenantID int64, streamer string, g clip.Group, origin clip.Origin) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 <b>%s</b>: %d clips within %ds (%s)\n",
		html.EscapeString(streamer), g.Size(), int(g.End.Sub(g.Start).Seconds()), originLabel(origin))
	for i, c := range g.Members {
		if i == maxListedClips {
			fmt.Fprintf(&b, "…and %d more\n", g.Size()-maxListedClips)
			break
		}
		fmt.Fprintf(&b, "• %s by %s\n", clipLink(c), html.EscapeString(c.CreatorName))
	}
	return Message{
		Kind:     KindGroup,
		TenantID: tenantID,
		Streamer: streamer,
		Origin:   origin,
		Clips:    g.Members,
		Text:     strings.TrimRight(b.String(), "\n"),
	}
}

// FormatPrivilegedClip forwards a clip made by the tenant's own account.
func FormatPrivilegedClip(tenantID int64, streamer string, c clip.Clip, origin clip.Origin) Message {
	return Message{
		Kind:     KindPrivilegedClip,
		TenantID: tenantID,
		Streamer: streamer,
		Origin:   origin,
		Clips:    []clip.Clip{c},
		Text: fmt.Sprintf("🎬 New clip on <b>%s</b> by %s (%s)\n%s",
			html.EscapeString(streamer), html.EscapeString(c.CreatorName), originLabel(origin), clipLink(c)),
	}
}

// FormatOnline announces that a streamer went live.
func FormatOnline(tenantID int64, streamer, title, game string) Message {
	text := fmt.Sprintf("🟢 <b>%s</b> is live", html.EscapeString(streamer))
	if game != "" {
		text += " playing " + html.EscapeString(game)
	}
	if title != "" {
		text += "\n" + html.EscapeString(title)
	}
	return Message{Kind: KindOnline, TenantID: tenantID, Streamer: streamer, Text: text}
}

// FormatCredentialWarning tells the tenant their API credentials stopped working.
func FormatCredentialWarning(tenantID int64) Message {
	return Message{
		Kind:     KindCredentialWarning,
		TenantID: tenantID,
		Text:     "⚠️ Your Twitch application credentials were rejected. Monitoring is paused until they are updated.",
	}
}

// FormatExpiry reminds the tenant that their subscription is ending. A
// negative daysLeft means it already ended.
func FormatExpiry(tenantID int64, daysLeft int, expiresAt time.Time) Message {
	var text string
	switch {
	case daysLeft < 0:
		text = "⏰ Your subscription has expired. Renew it to keep receiving clips."
	case daysLeft == 0:
		text = fmt.Sprintf("⏰ Your subscription expires today (%s).", expiresAt.UTC().Format("15:04 MST"))
	case daysLeft == 1:
		text = fmt.Sprintf("⏰ Your subscription expires tomorrow (%s).", expiresAt.UTC().Format("2006-01-02 15:04 MST"))
	default:
		text = fmt.Sprintf("⏰ Your subscription expires in %d days (%s).", daysLeft, expiresAt.UTC().Format("2006-01-02"))
	}
	return Message{Kind: KindExpiry, TenantID: tenantID, Text: text}
}

func clipLink(c clip.Clip) string {
	label := c.Title
	if label == "" {
		label = c.ID
	}
	if c.URL == "" {
		return html.EscapeString(label)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(c.URL), html.EscapeString(label))
}
