package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"subrelay/config"
	"subrelay/lib/models"
)

const (
	publicBase = "https://www.reddit.com"
	oauthBase  = "https://oauth.reddit.com"

	// DefaultAvatarURL is the placeholder used whenever a real avatar cannot
	// be resolved.
	DefaultAvatarURL = "https://www.redditstatic.com/avatars/avatar_default_02_46A508.png"
)

// FeedError wraps any failure while reading a feed. The relay treats every
// feed failure as transient: the watermark is left untouched and the
// subscription is retried on the next tick.
type FeedError struct {
	Feed string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed r/%s unavailable: %v", e.Feed, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

type Client struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *Client {
	return &Client{log: log, cfg: cfg, transport: transport}
}

// token returns a cached app-only OAuth token, refreshing it via the
// client-credentials grant when it is within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := requests.
		URL(publicBase + "/api/v1/access_token").
		Transport(c.transport).
		UserAgent(c.cfg.Reddit.UserAgent).
		BasicAuth(c.cfg.Reddit.ClientID, c.cfg.Reddit.ClientSecret).
		BodyForm(url.Values{"grant_type": {"client_credentials"}}).
		ToJSON(&out).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth token request failed: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("oauth token response had no access_token")
	}

	c.accessToken = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// FetchRecent lists up to limit newest posts of a subreddit, newest-first.
func (c *Client) FetchRecent(ctx context.Context, subreddit string, limit int) ([]models.Post, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, &FeedError{Feed: subreddit, Err: err}
	}

	var raw listing
	err = requests.
		URL(fmt.Sprintf("%s/r/%s/new.json", oauthBase, subreddit)).
		Transport(c.transport).
		UserAgent(c.cfg.Reddit.UserAgent).
		Bearer(token).
		Param("limit", fmt.Sprint(limit)).
		Param("raw_json", "1").
		ToJSON(&raw).
		Fetch(ctx)
	if err != nil {
		return nil, &FeedError{Feed: subreddit, Err: err}
	}

	posts := make([]models.Post, 0, len(raw.Data.Children))
	for _, child := range raw.Data.Children {
		posts = append(posts, classify(child.Data))
	}
	return posts, nil
}
