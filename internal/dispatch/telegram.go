package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	defaultTelegramAPIBase = "https://api.telegram.org"
	maxRetryAfter          = 30 * time.Second
)

// TelegramOptions tunes a Telegram sender. Zero values fall back to defaults.
type TelegramOptions struct {
	APIBase    string
	RatePerSec float64
	HTTPClient *http.Client
}

// Telegram delivers messages through the Bot API sendMessage method.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTelegram creates a Telegram sender for the bot token. No request is made
// until the first Send.
func NewTelegram(token string, opts TelegramOptions) *Telegram {
	if opts.APIBase == "" {
		opts.APIBase = defaultTelegramAPIBase
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 25
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	// Built by hand: the library constructor calls getMe.
	bot := &tgbotapi.BotAPI{Token: token, Client: opts.HTTPClient, Buffer: 100}
	bot.SetAPIEndpoint(strings.TrimRight(opts.APIBase, "/") + "/bot%s/%s")

	return &Telegram{
		bot:        bot,
		token:      token,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

// Send posts the message text to the chat. A flood-control reply is waited
// out and retried once.
func (t *Telegram) Send(ctx context.Context, chatID string, msg Message) error {
	cfg := newMessageConfig(chatID, msg.Text)

	err := t.sendOnce(ctx, cfg)
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait > maxRetryAfter {
			return fmt.Errorf("telegram: flood control for %s", wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		err = t.sendOnce(ctx, cfg)
	}
	return err
}

func newMessageConfig(chatID, text string) tgbotapi.MessageConfig {
	var cfg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		cfg = tgbotapi.NewMessage(id, text)
	} else {
		cfg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML
	return cfg
}

func (t *Telegram) sendOnce(ctx context.Context, cfg tgbotapi.MessageConfig) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	// The library builds requests without a context; bind it per call.
	bot := *t.bot
	bot.Client = contextClient{ctx: ctx, client: t.httpClient}

	if _, err := bot.Request(cfg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("telegram: %d: %w", apiErr.Code, err)
		}
		// The URL carries the bot token; keep it out of the error.
		return fmt.Errorf("telegram: send request: %w", t.redact(err))
	}
	return nil
}

func (t *Telegram) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if t.token != "" && strings.Contains(err.Error(), t.token) {
		return errors.New(strings.ReplaceAll(err.Error(), t.token, "<redacted>"))
	}
	return err
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}
