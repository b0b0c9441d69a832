package reddit

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
)

// FetchUserAvatar resolves a user's avatar URL, falling back to the default
// placeholder on any failure. Failures here never fail the caller.
func (c *Client) FetchUserAvatar(ctx context.Context, username string) string {
	if username == "" {
		return DefaultAvatarURL
	}

	var out struct {
		Data struct {
			IconImg string `json:"icon_img"`
		} `json:"data"`
	}
	err := requests.
		URL(fmt.Sprintf("%s/user/%s/about.json", publicBase, username)).
		Transport(c.transport).
		UserAgent(c.cfg.Reddit.UserAgent).
		CheckStatus(http.StatusOK).
		ToJSON(&out).
		Fetch(ctx)
	if err != nil {
		c.log.Sugar().Debugw("Failed to fetch user avatar", "username", username, "err", err)
		return DefaultAvatarURL
	}
	if out.Data.IconImg == "" {
		return DefaultAvatarURL
	}

	return stripQuery(html.UnescapeString(out.Data.IconImg))
}

// FetchFeedIcon resolves a subreddit's icon for use as the default relay
// identity avatar, falling back to the default placeholder on any failure.
func (c *Client) FetchFeedIcon(ctx context.Context, subreddit string) string {
	var out struct {
		Data struct {
			CommunityIcon string `json:"community_icon"`
			IconImg       string `json:"icon_img"`
		} `json:"data"`
	}
	err := requests.
		URL(fmt.Sprintf("%s/r/%s/about.json", publicBase, subreddit)).
		Transport(c.transport).
		UserAgent(c.cfg.Reddit.UserAgent).
		CheckStatus(http.StatusOK).
		ToJSON(&out).
		Fetch(ctx)
	if err != nil {
		c.log.Sugar().Debugw("Failed to fetch subreddit icon", "subreddit", subreddit, "err", err)
		return DefaultAvatarURL
	}

	icon := out.Data.CommunityIcon
	if icon == "" {
		icon = out.Data.IconImg
	}
	if icon == "" {
		return DefaultAvatarURL
	}
	return stripQuery(html.UnescapeString(icon))
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
