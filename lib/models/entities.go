package models

// Subscription is one row per Discord channel, keyed by the channel ID.
// LastPostAt is the relay watermark: it never decreases for a channel.
type Subscription struct {
	ChannelID  string `gorm:"primaryKey"`
	Subreddit  string
	WebhookURL string
	BotName    string
	BotAvatar  string
	LastPostID string
	LastPostAt int64

	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

type Subscriptions []Subscription

// LedgerEntry keeps the bounded window of already-relayed post IDs for one
// channel. The window is capped so the row stays small no matter how long the
// subscription lives.
type LedgerEntry struct {
	ChannelID string   `gorm:"primaryKey"`
	PostIDs   []string `gorm:"serializer:json"`

	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

// LedgerWindow is the maximum number of post IDs retained per channel. It
// covers a full fetch window while keeping the row small no matter how long
// the subscription lives.
const LedgerWindow = 50
