// Package twitch is the clip source: a Helix API client covering user lookup,
// live status, latest archived broadcast and recent clips.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/xpadev-net/clipwatch/internal/clip"
	"github.com/xpadev-net/clipwatch/internal/log"
)

var (
	// ErrUnauthorized means the tenant's credentials were rejected, either by
	// the token endpoint or by the API after one refresh.
	ErrUnauthorized = errors.New("twitch: unauthorized")
	// ErrNotFound means the requested streamer does not exist.
	ErrNotFound = errors.New("twitch: not found")
)

const (
	defaultAPIBase  = helix.DefaultAPIBaseURL
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	maxClipPages    = 5
	clipPageSize    = 100
)

// Streamer is a resolved channel.
type Streamer struct {
	ID          string
	Login       string
	DisplayName string
}

// LiveStatus describes a broadcast in progress.
type LiveStatus struct {
	ViewerCount int
	Title       string
	Game        string
	StartedAt   time.Time
}

// Recording is an archived (or still recording) broadcast.
type Recording struct {
	ID        string
	StartedAt time.Time
}

// Options tunes a Client. Zero values fall back to production defaults.
type Options struct {
	APIBase    string
	TokenURL   string
	RatePerSec float64
	HTTPClient *http.Client
}

// Client talks to the Helix API with one tenant's credentials.
type Client struct {
	apiBase    string
	clientID   string
	creds      *clientcredentials.Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient creates a Helix client for the given application credentials.
func NewClient(clientID, clientSecret string, opts Options) *Client {
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	if opts.TokenURL == "" {
		opts.TokenURL = defaultTokenURL
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		apiBase:  strings.TrimRight(opts.APIBase, "/"),
		clientID: clientID,
		creds: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     opts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
	}
}

// ResolveStreamer looks up a channel by login name.
func (c *Client) ResolveStreamer(ctx context.Context, login string) (*Streamer, error) {
	var users []helix.User
	err := c.do(ctx, "/users", func(hc *helix.Client) (*helix.ResponseCommon, error) {
		resp, err := hc.GetUsers(&helix.UsersParams{
			Logins: []string{strings.ToLower(strings.TrimPrefix(login, "@"))},
		})
		if err != nil {
			return nil, err
		}
		users = resp.Data.Users
		return &resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	u := users[0]
	return &Streamer{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
}

// GetLiveStatus returns the current broadcast, or nil when offline.
func (c *Client) GetLiveStatus(ctx context.Context, streamerID string) (*LiveStatus, error) {
	var streams []helix.Stream
	err := c.do(ctx, "/streams", func(hc *helix.Client) (*helix.ResponseCommon, error) {
		resp, err := hc.GetStreams(&helix.StreamsParams{UserIDs: []string{streamerID}})
		if err != nil {
			return nil, err
		}
		streams = resp.Data.Streams
		return &resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		if s.Type == "live" {
			return &LiveStatus{
				ViewerCount: s.ViewerCount,
				Title:       s.Title,
				Game:        s.GameName,
				StartedAt:   s.StartedAt,
			}, nil
		}
	}
	return nil, nil
}

// GetLatestRecording returns the most recent archived broadcast, or nil.
func (c *Client) GetLatestRecording(ctx context.Context, streamerID string) (*Recording, error) {
	var videos []helix.Video
	err := c.do(ctx, "/videos", func(hc *helix.Client) (*helix.ResponseCommon, error) {
		resp, err := hc.GetVideos(&helix.VideosParams{UserID: streamerID, Type: "archive", First: 1})
		if err != nil {
			return nil, err
		}
		videos = resp.Data.Videos
		return &resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	v := videos[0]
	startedAt, err := time.Parse(time.RFC3339, v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("/videos: parse created_at %q: %w", v.CreatedAt, err)
	}
	return &Recording{ID: v.ID, StartedAt: startedAt}, nil
}

// GetRecentClips returns clips created since the given instant. Records with
// a missing id or unparseable timestamp are dropped.
func (c *Client) GetRecentClips(ctx context.Context, streamerID string, since time.Time) ([]clip.Clip, error) {
	var clips []clip.Clip
	cursor := ""

	for page := 0; page < maxClipPages; page++ {
		var data helix.ManyClips
		err := c.do(ctx, "/clips", func(hc *helix.Client) (*helix.ResponseCommon, error) {
			resp, err := hc.GetClips(&helix.ClipsParams{
				BroadcasterID: streamerID,
				StartedAt:     helix.Time{Time: since.UTC()},
				First:         clipPageSize,
				After:         cursor,
			})
			if err != nil {
				return nil, err
			}
			data = resp.Data
			return &resp.ResponseCommon, nil
		})
		if err != nil {
			return nil, err
		}

		for _, rec := range data.Clips {
			parsed, ok := toClip(rec)
			if !ok {
				log.Warn("dropping malformed clip record",
					zap.String("streamer_id", streamerID),
					zap.String("clip_id", rec.ID),
					zap.String("created_at", rec.CreatedAt),
				)
				continue
			}
			clips = append(clips, parsed)
		}

		cursor = data.Pagination.Cursor
		if cursor == "" || len(data.Clips) == 0 {
			break
		}
	}

	return clips, nil
}

func toClip(rec helix.Clip) (clip.Clip, bool) {
	if rec.ID == "" {
		return clip.Clip{}, false
	}
	createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		return clip.Clip{}, false
	}
	return clip.Clip{
		ID:          rec.ID,
		CreatorName: rec.CreatorName,
		CreatedAt:   createdAt,
		URL:         rec.URL,
		VideoID:     rec.VideoID,
		Title:       rec.Title,
	}, true
}

// call issues one Helix request through hc and reports its status.
type call func(hc *helix.Client) (*helix.ResponseCommon, error)

// do runs an authenticated request. A 401 invalidates the cached token and
// the request is retried exactly once with a fresh one.
func (c *Client) do(ctx context.Context, path string, fn call) error {
	rc, err := c.doOnce(ctx, path, fn)
	if err != nil {
		return err
	}
	if rc.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		if rc, err = c.doOnce(ctx, path, fn); err != nil {
			return err
		}
	}

	switch status := rc.StatusCode; {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w (HTTP %d)", path, ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case status < 200 || status >= 300:
		if rc.ErrorMessage != "" {
			return fmt.Errorf("%s: unexpected HTTP %d: %s", path, status, rc.ErrorMessage)
		}
		return fmt.Errorf("%s: unexpected HTTP %d", path, status)
	}
	return nil
}

// doOnce sends one logical request. Transport errors and 5xx responses are
// retried once inside the call.
func (c *Client) doOnce(ctx context.Context, path string, fn call) (*helix.ResponseCommon, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		hc, err := helix.NewClientWithContext(ctx, &helix.Options{
			ClientID:       c.clientID,
			AppAccessToken: token,
			APIBaseURL:     c.apiBase,
			HTTPClient:     c.httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		rc, err := fn(hc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		if rc.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s: HTTP %d", path, rc.StatusCode)
			continue
		}
		return rc, nil
	}
	return nil, lastErr
}

// accessToken returns the cached app token, exchanging credentials when the
// cache is empty or expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.token.Valid() {
		return c.token.AccessToken, nil
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.creds.Token(tokenCtx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return "", fmt.Errorf("token exchange: %w", ErrUnauthorized)
			}
		}
		return "", fmt.Errorf("token exchange: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
