// Package dispatch delivers notifications to tenant destinations.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/log"
)

// Kind identifies what a message announces.
type Kind string

const (
	KindGroup             Kind = "clip.group"
	KindPrivilegedClip    Kind = "clip.privileged"
	KindOnline            Kind = "streamer.online"
	KindCredentialWarning Kind = "tenant.credentials_invalid"
	KindExpiry            Kind = "tenant.expiring"
)

// ErrNoWebhookSender is returned when a webhook destination is configured
// but no webhook dispatcher is available.
var ErrNoWebhookSender = errors.New("dispatch: webhook destinations are not enabled")

// Message is one outgoing notification. Text is rendered for chat
// destinations; the structured fields are forwarded to webhooks.
type Message struct {
	Kind     Kind        `json:"kind"`
	TenantID int64       `json:"tenant_id"`
	Streamer string      `json:"streamer,omitempty"`
	Origin   clip.Origin `json:"origin,omitempty"`
	Clips    []clip.Clip `json:"clips,omitempty"`
	Text     string      `json:"text"`
}

// Dispatcher sends a message to a destination. Implementations must be safe
// for concurrent use.
type Dispatcher interface {
	Send(ctx context.Context, destination string, msg Message) error
}

// IsWebhookDestination reports whether the destination is an HTTP endpoint
// rather than a chat id.
func IsWebhookDestination(destination string) bool {
	return strings.HasPrefix(destination, "http://") || strings.HasPrefix(destination, "https://")
}

// Router picks a dispatcher by destination kind.
type Router struct {
	Chat    Dispatcher
	Webhook Dispatcher
}

// Send forwards the message to the chat or webhook dispatcher.
func (r *Router) Send(ctx context.Context, destination string, msg Message) error {
	if IsWebhookDestination(destination) {
		if r.Webhook == nil {
			return ErrNoWebhookSender
		}
		return r.Webhook.Send(ctx, destination, msg)
	}
	return r.Chat.Send(ctx, destination, msg)
}

// LogDispatcher writes messages to the log instead of delivering them.
type LogDispatcher struct{}

// Send logs the message and always succeeds.
func (LogDispatcher) Send(_ context.Context, destination string, msg Message) error {
	log.Info("dispatch (dry run)",
		zap.String("destination", destination),
		zap.String("kind", string(msg.Kind)),
		zap.Int64("tenant_id", msg.TenantID),
		zap.Int("clips", len(msg.Clips)),
		zap.String("text", msg.Text),
	)
	return nil
}
