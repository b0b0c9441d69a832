package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"subrelay/lib/models"
)

// Registry is the subscription store adapter plus its in-memory mirror. The
// store is the source of truth; every mutation writes the store first and the
// cache second, so the cache is always a strict projection. On any store
// error the cache is left untouched.
type Registry struct {
	log *zap.Logger
	db  *gorm.DB

	mu    sync.RWMutex
	cache map[string]models.Subscription
	locks keyedLocks
}

func NewRegistry(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB) *Registry {
	r := &Registry{
		log:   log,
		db:    db,
		cache: make(map[string]models.Subscription),
		locks: keyedLocks{locks: make(map[string]*sync.Mutex)},
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.Load(ctx)
		},
	})

	return r
}

// Load replaces the entire in-memory mapping with a full store scan.
func (r *Registry) Load(ctx context.Context) error {
	var subs models.Subscriptions
	if err := r.db.WithContext(ctx).Find(&subs).Error; err != nil {
		r.log.Sugar().Errorw("Failed to load subscriptions", "err", err)
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	next := make(map[string]models.Subscription, len(subs))
	for _, sub := range subs {
		next[sub.ChannelID] = sub
	}

	r.mu.Lock()
	r.cache = next
	r.mu.Unlock()

	r.log.Sugar().Infof("Loaded %d subscriptions", len(subs))
	return nil
}

// Get returns the cached record for a channel.
func (r *Registry) Get(channelID string) (models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.cache[channelID]
	return sub, ok
}

// ListAll scans the store, not the cache, so subscriptions added mid-cycle
// by the command surface are never missed by the scheduler.
func (r *Registry) ListAll(ctx context.Context) (models.Subscriptions, error) {
	var subs models.Subscriptions
	if err := r.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("scanning subscriptions: %w", err)
	}
	return subs, nil
}

// Upsert merges fields into the store record (creating it if absent), then
// re-fetches the result into the cache. Fields not present are unchanged.
func (r *Registry) Upsert(ctx context.Context, channelID string, fields map[string]any) (models.Subscription, error) {
	var count int64
	tx := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("channel_id = ?", channelID).
		Count(&count)
	if err := tx.Error; err != nil {
		r.log.Sugar().Errorw("Failed to look up subscription", "channel_id", channelID, "err", err)
		return models.Subscription{}, fmt.Errorf("looking up subscription %s: %w", channelID, err)
	}

	// Create via the struct so the timestamp hooks run, then merge the
	// fields; a map-based create would persist zero timestamps.
	if count == 0 {
		tx = r.db.WithContext(ctx).Create(&models.Subscription{ChannelID: channelID})
		if err := tx.Error; err != nil {
			r.log.Sugar().Errorw("Failed to create subscription", "channel_id", channelID, "err", err)
			return models.Subscription{}, fmt.Errorf("creating subscription %s: %w", channelID, err)
		}
	}

	tx = r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("channel_id = ?", channelID).
		Updates(fields)
	if err := tx.Error; err != nil {
		r.log.Sugar().Errorw("Failed to upsert subscription", "channel_id", channelID, "err", err)
		return models.Subscription{}, fmt.Errorf("upserting subscription %s: %w", channelID, err)
	}

	return r.ReloadOne(ctx, channelID)
}

// ReloadOne re-syncs a single cache entry from the store, dropping it from
// the cache when the store no longer has it.
func (r *Registry) ReloadOne(ctx context.Context, channelID string) (models.Subscription, error) {
	var sub models.Subscription
	tx := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&sub)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		r.mu.Lock()
		delete(r.cache, channelID)
		r.mu.Unlock()
		return models.Subscription{}, err
	} else if err != nil {
		return models.Subscription{}, fmt.Errorf("reloading subscription %s: %w", channelID, err)
	}

	r.mu.Lock()
	r.cache[channelID] = sub
	r.mu.Unlock()
	return sub, nil
}

// LockChannel serializes mutations for one channel between the relay
// pipeline and the command surface. The relay holds it for a destination's
// whole dispatch sequence, so an unsubscribe waits out any in-flight commit
// instead of racing it.
func (r *Registry) LockChannel(channelID string) (unlock func()) {
	return r.locks.lock(channelID)
}

// Remove deletes the record, store first. Returns gorm.ErrRecordNotFound
// when there was nothing to delete.
func (r *Registry) Remove(ctx context.Context, channelID string) error {
	tx := r.db.WithContext(ctx).Delete(&models.Subscription{}, "channel_id = ?", channelID)
	if err := tx.Error; err != nil {
		r.log.Sugar().Errorw("Failed to delete subscription", "channel_id", channelID, "err", err)
		return fmt.Errorf("deleting subscription %s: %w", channelID, err)
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	r.mu.Lock()
	delete(r.cache, channelID)
	r.mu.Unlock()
	return nil
}

// keyedLocks hands out one mutex per channel.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
