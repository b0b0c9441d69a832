package lib

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"subrelay/config"
	"subrelay/lib/models"
	"subrelay/reddit"
	"subrelay/webhook"
)

// Service backs the command surface. Each operation maps onto the registry,
// plus sink provisioning where the destination's delivery endpoint is
// involved.
type Service struct {
	cfg         *config.Config
	log         *zap.Logger
	registry    *Registry
	ledger      *Ledger
	feed        *reddit.Client
	provisioner *webhook.Provisioner
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, registry *Registry, ledger *Ledger, feed *reddit.Client, provisioner *webhook.Provisioner) *Service {
	return &Service{cfg, log, registry, ledger, feed, provisioner}
}

// Subscribe provisions the channel's sink first, then records the
// subscription. Identity defaults derive from the subreddit's profile; an
// existing custom identity is kept.
func (svc *Service) Subscribe(ctx context.Context, channelID, subreddit string) (models.Subscription, error) {
	label := "r/" + subreddit
	icon := svc.feed.FetchFeedIcon(ctx, subreddit)

	existing, _ := svc.registry.Get(channelID)
	sinkURL, err := svc.provisioner.EnsureSink(ctx, channelID, label, icon, existing.WebhookURL)
	if err != nil {
		return models.Subscription{}, err
	}

	fields := map[string]any{
		"subreddit":   subreddit,
		"webhook_url": sinkURL,
	}
	if existing.BotName == "" {
		fields["bot_name"] = label
	}
	if existing.BotAvatar == "" {
		fields["bot_avatar"] = icon
	}

	sub, err := svc.registry.Upsert(ctx, channelID, fields)
	if err != nil {
		return models.Subscription{}, err
	}
	svc.log.Sugar().Infof("Subscribed channel %s to %s", channelID, label)
	return sub, nil
}

// Unsubscribe deletes the subscription and cascades to its ledger entry. It
// takes the channel lock first so an in-flight dispatch commit cannot
// re-create either row after the delete.
func (svc *Service) Unsubscribe(ctx context.Context, channelID string) error {
	unlock := svc.registry.LockChannel(channelID)
	defer unlock()

	if err := svc.registry.Remove(ctx, channelID); err != nil {
		return err
	}
	if err := svc.ledger.Forget(ctx, channelID); err != nil {
		return err
	}
	svc.log.Sugar().Infof("Unsubscribed channel %s", channelID)
	return nil
}

// SetDisplayName updates the channel's relay display name and refreshes the
// sink's default identity to match.
func (svc *Service) SetDisplayName(ctx context.Context, channelID, name string) (models.Subscription, error) {
	sub, err := svc.registry.Upsert(ctx, channelID, map[string]any{"bot_name": name})
	if err != nil {
		return models.Subscription{}, err
	}
	svc.refreshSinkIdentity(ctx, sub)
	return sub, nil
}

// SetAvatar updates the channel's relay avatar and refreshes the sink's
// default identity to match.
func (svc *Service) SetAvatar(ctx context.Context, channelID, avatarURL string) (models.Subscription, error) {
	sub, err := svc.registry.Upsert(ctx, channelID, map[string]any{"bot_avatar": avatarURL})
	if err != nil {
		return models.Subscription{}, err
	}
	svc.refreshSinkIdentity(ctx, sub)
	return sub, nil
}

// refreshSinkIdentity is cosmetic: dispatch overrides identity per call, so
// a failure here only warns.
func (svc *Service) refreshSinkIdentity(ctx context.Context, sub models.Subscription) {
	if sub.WebhookURL == "" {
		return
	}
	if _, err := svc.provisioner.EnsureSink(ctx, sub.ChannelID, sub.BotName, sub.BotAvatar, sub.WebhookURL); err != nil {
		svc.log.Sugar().Warnw("Failed to refresh sink identity", "channel_id", sub.ChannelID, "err", err)
	}
}
