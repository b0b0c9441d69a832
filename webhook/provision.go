package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"subrelay/config"
	"subrelay/reddit"
)

const (
	discordAPIBase     = "https://discord.com/api/v10"
	discordWebhookBase = "https://discord.com/api/webhooks"
)

// ErrForbidden means the destination's permissions do not allow creating a
// sink. Surfaced to the command surface; never retried automatically.
var ErrForbidden = errors.New("sink creation forbidden for this channel")

// Provisioner finds or creates the per-channel delivery webhook and keeps
// its identity in sync with the subscription's feed label and avatar.
type Provisioner struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

func NewProvisioner(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *Provisioner {
	return &Provisioner{log: log, cfg: cfg, transport: transport}
}

// EnsureSink is idempotent: a still-valid existing sink has its identity
// updated in place, a vanished one is recreated, and a missing one is
// created fresh. The returned URL is the channel's delivery endpoint.
func (p *Provisioner) EnsureSink(ctx context.Context, channelID, name, avatarURL, existingURL string) (string, error) {
	avatar := p.avatarData(ctx, avatarURL)

	if existingURL != "" {
		err := requests.
			URL(existingURL).
			Transport(p.transport).
			CheckStatus(http.StatusOK).
			Fetch(ctx)
		switch {
		case err == nil:
			p.updateIdentity(ctx, existingURL, name, avatar)
			return existingURL, nil
		case requests.HasStatusErr(err, http.StatusNotFound):
			p.log.Sugar().Infow("Existing sink is gone, recreating", "channel_id", channelID)
		default:
			return "", fmt.Errorf("validating existing sink: %w", err)
		}
	}

	body := map[string]any{"name": name}
	if avatar != "" {
		body["avatar"] = avatar
	}

	var out struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	err := requests.
		URL(fmt.Sprintf("%s/channels/%s/webhooks", discordAPIBase, channelID)).
		Transport(p.transport).
		Header("Authorization", "Bot "+p.cfg.Discord.BotToken).
		BodyJSON(&body).
		ToJSON(&out).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusForbidden) {
			return "", ErrForbidden
		}
		return "", fmt.Errorf("creating sink for channel %s: %w", channelID, err)
	}

	return fmt.Sprintf("%s/%s/%s", discordWebhookBase, out.ID, out.Token), nil
}

// updateIdentity patches the sink's default name/avatar. Best effort: the
// per-call identity override makes this cosmetic, so failures only warn.
func (p *Provisioner) updateIdentity(ctx context.Context, sinkURL, name, avatar string) {
	patch := map[string]any{"name": name}
	if avatar != "" {
		patch["avatar"] = avatar
	}

	err := requests.
		URL(sinkURL).
		Transport(p.transport).
		Method(http.MethodPatch).
		BodyJSON(&patch).
		CheckStatus(http.StatusOK).
		Fetch(ctx)
	if err != nil {
		p.log.Sugar().Warnw("Failed to update sink identity", "err", err)
	}
}

// avatarData inlines the avatar image as a base64 data URI. An unreachable
// source falls back to the static default avatar; only when that is also
// unreachable is the sink provisioned without an avatar.
func (p *Provisioner) avatarData(ctx context.Context, avatarURL string) string {
	if avatarURL == "" {
		return ""
	}

	data, err := p.fetchImage(ctx, avatarURL)
	if err != nil && avatarURL != reddit.DefaultAvatarURL {
		p.log.Sugar().Warnw("Avatar source unreachable, falling back to default", "url", avatarURL, "err", err)
		data, err = p.fetchImage(ctx, reddit.DefaultAvatarURL)
	}
	if err != nil {
		p.log.Sugar().Warnw("Avatar unavailable, provisioning without one", "url", avatarURL, "err", err)
		return ""
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func (p *Provisioner) fetchImage(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := requests.
		URL(url).
		Transport(p.transport).
		CheckStatus(http.StatusOK).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
