package lib

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"subrelay/lib/models"
)

// Ledger is the secondary duplicate guard: a bounded window of relayed post
// IDs per channel. The watermark is the primary filter; the ledger breaks
// ties for posts sharing a timestamp.
type Ledger struct {
	log *zap.Logger
	db  *gorm.DB
}

func NewLedger(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB) *Ledger {
	return &Ledger{log: log, db: db}
}

func (l *Ledger) IsDuplicate(ctx context.Context, channelID, postID string) (bool, error) {
	entry, err := l.entry(ctx, channelID)
	if err != nil {
		return false, err
	}

	for _, id := range entry.PostIDs {
		if id == postID {
			return true, nil
		}
	}
	return false, nil
}

// Record appends the post ID if absent and truncates the window to the most
// recent entries, oldest evicted first.
func (l *Ledger) Record(ctx context.Context, channelID, postID string) error {
	entry, err := l.entry(ctx, channelID)
	if err != nil {
		return err
	}

	for _, id := range entry.PostIDs {
		if id == postID {
			return nil
		}
	}

	entry.PostIDs = append(entry.PostIDs, postID)
	if excess := len(entry.PostIDs) - models.LedgerWindow; excess > 0 {
		entry.PostIDs = entry.PostIDs[excess:]
	}

	tx := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry)
	if err := tx.Error; err != nil {
		l.log.Sugar().Errorw("Failed to record ledger entry", "channel_id", channelID, "err", err)
		return fmt.Errorf("recording ledger entry for %s: %w", channelID, err)
	}
	return nil
}

// Forget drops a channel's window entirely. Called when the subscription is
// deleted.
func (l *Ledger) Forget(ctx context.Context, channelID string) error {
	tx := l.db.WithContext(ctx).Delete(&models.LedgerEntry{}, "channel_id = ?", channelID)
	if err := tx.Error; err != nil {
		return fmt.Errorf("deleting ledger entry for %s: %w", channelID, err)
	}
	return nil
}

func (l *Ledger) entry(ctx context.Context, channelID string) (models.LedgerEntry, error) {
	entry := models.LedgerEntry{ChannelID: channelID}
	tx := l.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&entry)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LedgerEntry{ChannelID: channelID}, nil
	} else if err != nil {
		return entry, fmt.Errorf("reading ledger entry for %s: %w", channelID, err)
	}
	return entry, nil
}
