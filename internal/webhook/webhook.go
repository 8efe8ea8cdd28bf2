// Package webhook delivers notifications as HMAC-signed HTTP callbacks.
//
// Every request carries two headers: X-Timestamp (unix seconds) and
// X-Signature-256 ("sha256=" + hex HMAC-SHA256 over "{timestamp}.{body}").
// Receivers check them with Verify.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/dispatch"
	"github.com/xpadev-net/clipwatch/internal/log"
)

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature-256"

	signaturePrefix = "sha256="
	// MaxClockSkew is how far a timestamp may drift before Verify rejects it.
	MaxClockSkew = 5 * time.Minute
)

// Payload is the JSON body posted to a webhook destination.
type Payload struct {
	EventType dispatch.Kind `json:"event_type"`
	TenantID  int64         `json:"tenant_id"`
	Streamer  string        `json:"streamer,omitempty"`
	Origin    clip.Origin   `json:"origin,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Clips     []clip.Clip   `json:"clips,omitempty"`
	Text      string        `json:"text"`
}

// NewPayload builds the webhook body for a dispatch message.
func NewPayload(msg dispatch.Message, now time.Time) *Payload {
	return &Payload{
		EventType: msg.Kind,
		TenantID:  msg.TenantID,
		Streamer:  msg.Streamer,
		Origin:    msg.Origin,
		Timestamp: now.UTC(),
		Clips:     msg.Clips,
		Text:      msg.Text,
	}
}

// Options tunes a Sender. Zero values fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	// MaxAttempts counts the first request.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Sender posts signed payloads, retrying transport errors, 5xx and 429.
type Sender struct {
	signingKey  string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	now         func() time.Time
}

// NewSender creates a webhook sender signing with signingKey.
func NewSender(signingKey string, opts Options) *Sender {
	s := &Sender{
		signingKey:  signingKey,
		httpClient:  opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		now:         time.Now,
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: 10 * time.Second, CheckRedirect: checkRedirect}
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	if s.baseDelay <= 0 {
		s.baseDelay = time.Second
	}
	if s.maxDelay <= 0 {
		s.maxDelay = 10 * time.Second
	}
	return s
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return errors.New("too many redirects")
	}
	if err := validateURL(req.URL.String()); err != nil {
		return fmt.Errorf("redirect not allowed: %w", err)
	}
	return nil
}

// DeliveryError reports a payload that could not be delivered.
type DeliveryError struct {
	Attempts   int
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook: HTTP %d after %d attempts", e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("webhook: %v after %d attempts", e.Err, e.Attempts)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Send implements dispatch.Dispatcher.
func (s *Sender) Send(ctx context.Context, webhookURL string, msg dispatch.Message) error {
	return s.Deliver(ctx, webhookURL, NewPayload(msg, s.now()))
}

// Deliver posts payload to webhookURL. The body is encoded once so every
// attempt signs identical bytes; each attempt gets a fresh timestamp.
func (s *Sender) Deliver(ctx context.Context, webhookURL string, payload *Payload) error {
	if err := validateURL(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	logger := log.With(
		zap.String("url", redact(webhookURL)),
		zap.String("event_type", string(payload.EventType)),
		zap.Int64("tenant_id", payload.TenantID),
	)

	failure := &DeliveryError{}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		failure.Attempts = attempt
		if attempt > 1 {
			select {
			case <-ctx.Done():
				failure.Err = ctx.Err()
				return failure
			case <-time.After(s.backoff(attempt)):
			}
		}

		status, err := s.post(ctx, webhookURL, body)
		if err == nil && status >= 200 && status < 300 {
			logger.Debug("webhook delivered", zap.Int("attempt", attempt))
			return nil
		}
		failure.StatusCode, failure.Err = status, err
		logger.Warn("webhook attempt failed", zap.Int("attempt", attempt), zap.Int("status", status), zap.Error(err))

		if !retryable(status, err) {
			break
		}
	}
	return failure
}

// retryable reports whether another attempt could succeed.
func retryable(status int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// backoff doubles the base delay per retry, capped at maxDelay.
func (s *Sender) backoff(attempt int) time.Duration {
	shift := attempt - 2
	if shift >= 32 {
		return s.maxDelay
	}
	delay := s.baseDelay << shift
	if delay <= 0 || delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

func (s *Sender) post(ctx context.Context, webhookURL string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	timestamp := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderSignature, Sign(s.signingKey, timestamp, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// redact drops credentials and query from a URL before it is logged.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Sign returns the X-Signature-256 header value for body.
func Sign(key string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the headers of a received webhook against its body.
func Verify(key string, header http.Header, body []byte, now time.Time) error {
	timestamp, err := strconv.ParseInt(header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("bad %s header", HeaderTimestamp)
	}
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("timestamp outside allowed skew of %s", MaxClockSkew)
	}
	got := header.Get(HeaderSignature)
	if !strings.HasPrefix(got, signaturePrefix) {
		return fmt.Errorf("bad %s header", HeaderSignature)
	}
	if !hmac.Equal([]byte(got), []byte(Sign(key, timestamp, body))) {
		return errors.New("signature mismatch")
	}
	return nil
}
