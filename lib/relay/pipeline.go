package relay

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"subrelay/lib/models"
	"subrelay/webhook"
)

// relayOne runs the full pipeline for a single subscription: fetch, filter
// against the watermark, dedup against the ledger, compose, dispatch, and
// durably record each relayed item before the next dispatch begins.
func (r *Relay) relayOne(ctx context.Context, log *zap.Logger, sub models.Subscription) *tickMetrics {
	m := &tickMetrics{selected: 1}

	// Not yet provisioned; the command surface will fill these in.
	if sub.Subreddit == "" || sub.WebhookURL == "" {
		m.skipped = 1
		return m
	}

	posts, err := r.feed.FetchRecent(ctx, sub.Subreddit, r.fetchLimit)
	if err != nil {
		log.Sugar().Warnw("Feed unavailable, will retry next tick",
			"subreddit", sub.Subreddit, "channel_id", sub.ChannelID, "err", err)
		m.errored = 1
		return m
	}

	// Strictly newer than the watermark; a post sharing its timestamp is
	// treated as already seen.
	fresh := lo.Filter(posts, func(p models.Post, _ int) bool {
		return p.CreatedAt > sub.LastPostAt && !p.Removed
	})
	if len(fresh) == 0 {
		return m
	}
	fresh = lo.Reverse(fresh) // newest-first from the feed; relay oldest-first

	// Held for the whole dispatch sequence: no sibling pipeline and no
	// concurrent unsubscribe may touch this destination until it commits.
	unlock := r.registry.LockChannel(sub.ChannelID)
	defer unlock()

	label := "r/" + sub.Subreddit
	identity := webhook.Identity{Name: sub.BotName, Avatar: sub.BotAvatar}
	if identity.Name == "" {
		identity.Name = label
	}

	for _, post := range fresh {
		dup, err := r.ledger.IsDuplicate(ctx, sub.ChannelID, post.ID)
		if err != nil {
			log.Sugar().Errorw("Ledger read failed", "channel_id", sub.ChannelID, "err", err)
			m.errored = 1
			return m
		}
		if dup {
			continue
		}

		avatar := r.feed.FetchUserAvatar(ctx, post.Author)
		embeds := webhook.Compose(post, label, avatar)

		if err := r.sink.Send(ctx, sub.WebhookURL, embeds, identity, post.URL); err != nil {
			// Stop this destination's sequence: advancing past an
			// undelivered item would skip it forever.
			log.Sugar().Errorw("Sink delivery failed, will retry next tick",
				"channel_id", sub.ChannelID, "post_id", post.ID, "err", err)
			m.errored = 1
			return m
		}

		if err := r.commit(ctx, sub.ChannelID, post); err != nil {
			log.Sugar().Errorw("Failed to record relayed item",
				"channel_id", sub.ChannelID, "post_id", post.ID, "err", err)
			m.errored = 1
			return m
		}
		m.relayed++
	}

	return m
}

// commit records one confirmed dispatch: ledger entry plus watermark, both
// persisted before the next item may be dispatched.
func (r *Relay) commit(ctx context.Context, channelID string, post models.Post) error {
	if err := r.ledger.Record(ctx, channelID, post.ID); err != nil {
		return err
	}
	_, err := r.registry.Upsert(ctx, channelID, map[string]any{
		"last_post_id": post.ID,
		"last_post_at": post.CreatedAt,
	})
	return err
}
