package relay

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"subrelay/lib"
	"subrelay/lib/models"
	"subrelay/webhook"
)

type fakeFeed struct {
	mu    sync.Mutex
	posts map[string][]models.Post
	errs  map[string]error
}

func (f *fakeFeed) FetchRecent(ctx context.Context, subreddit string, limit int) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[subreddit]; err != nil {
		return nil, err
	}
	posts := f.posts[subreddit]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *fakeFeed) FetchUserAvatar(ctx context.Context, username string) string {
	return "https://a.example/avatar.png"
}

type sentItem struct {
	endpoint   string
	embeds     []webhook.Embed
	identity   webhook.Identity
	actionLink string
}

type fakeSink struct {
	mu   sync.Mutex
	fail error
	sent []sentItem
}

func (s *fakeSink) Send(ctx context.Context, endpoint string, embeds []webhook.Embed, identity webhook.Identity, actionLink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, sentItem{endpoint, embeds, identity, actionLink})
	return nil
}

func (s *fakeSink) sentItems() []sentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentItem(nil), s.sent...)
}

type fixture struct {
	relay    *Relay
	db       *gorm.DB
	registry *lib.Registry
	ledger   *lib.Ledger
	feed     *fakeFeed
	sink     *fakeSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.LedgerEntry{}))

	log := zap.NewNop()
	registry := lib.NewRegistry(fxtest.NewLifecycle(t), log, db)
	ledger := lib.NewLedger(fxtest.NewLifecycle(t), log, db)
	feed := &fakeFeed{posts: map[string][]models.Post{}, errs: map[string]error{}}
	sink := &fakeSink{}

	r := newRelay(log, db, registry, ledger, feed, sink, time.Minute, 30*time.Second, 50, 3)
	return &fixture{relay: r, db: db, registry: registry, ledger: ledger, feed: feed, sink: sink}
}

func (fx *fixture) subscribe(t *testing.T, channelID, subreddit string, watermark int64) {
	t.Helper()
	require.NoError(t, fx.db.Create(&models.Subscription{
		ChannelID:  channelID,
		Subreddit:  subreddit,
		WebhookURL: "https://hooks.example/" + channelID,
		BotName:    "r/" + subreddit,
		LastPostAt: watermark,
	}).Error)
}

func (fx *fixture) subscription(t *testing.T, channelID string) models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, fx.db.Where("channel_id = ?", channelID).First(&sub).Error)
	return sub
}

func post(id string, createdAt int64) models.Post {
	return models.Post{
		ID:        id,
		CreatedAt: createdAt,
		Title:     "post " + id,
		URL:       "https://www.reddit.com/r/test/comments/" + id + "/",
		Author:    "someone",
		Kind:      models.KindLink,
	}
}

func TestTickRelaysNewPostsOldestFirst(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 100)
	// Feed lists newest-first.
	fx.feed.posts["cats"] = []models.Post{post("c", 300), post("b", 200), post("a", 100), post("z", 50)}

	fx.relay.tick(context.Background(), time.Now())

	sent := fx.sink.sentItems()
	require.Len(t, sent, 2)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/b/", sent[0].actionLink)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/c/", sent[1].actionLink)
	assert.Equal(t, "r/cats", sent[0].identity.Name)

	sub := fx.subscription(t, "chan1")
	assert.Equal(t, int64(300), sub.LastPostAt)
	assert.Equal(t, "c", sub.LastPostID)

	for _, id := range []string{"b", "c"} {
		dup, err := fx.ledger.IsDuplicate(context.Background(), "chan1", id)
		require.NoError(t, err)
		assert.True(t, dup, "post %s should be in the ledger", id)
	}
}

func TestTickWithNoNewItemsDispatchesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 300)
	// The newest post shares the watermark timestamp: strictly-greater
	// filtering treats it as already seen.
	fx.feed.posts["cats"] = []models.Post{post("c", 300), post("b", 200)}

	fx.relay.tick(context.Background(), time.Now())
	fx.relay.tick(context.Background(), time.Now())

	assert.Empty(t, fx.sink.sentItems())
	assert.Equal(t, int64(300), fx.subscription(t, "chan1").LastPostAt)
}

func TestTickSkipsUnprovisionedSubscriptions(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.db.Create(&models.Subscription{ChannelID: "chan1", Subreddit: "cats"}).Error)
	fx.feed.posts["cats"] = []models.Post{post("a", 100)}

	fx.relay.tick(context.Background(), time.Now())

	assert.Empty(t, fx.sink.sentItems())
	assert.Zero(t, fx.subscription(t, "chan1").LastPostAt)
}

func TestDispatchFailureLeavesWatermarkAndLedger(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 100)
	fx.feed.posts["cats"] = []models.Post{post("b", 300), post("a", 200)}
	fx.sink.fail = &webhook.DeliveryError{Status: 500, Body: "boom"}

	fx.relay.tick(context.Background(), time.Now())

	assert.Empty(t, fx.sink.sentItems())
	sub := fx.subscription(t, "chan1")
	assert.Equal(t, int64(100), sub.LastPostAt)
	dup, err := fx.ledger.IsDuplicate(context.Background(), "chan1", "a")
	require.NoError(t, err)
	assert.False(t, dup)

	// Next tick retries with the same item first.
	fx.sink.fail = nil
	fx.relay.tick(context.Background(), time.Now())

	sent := fx.sink.sentItems()
	require.Len(t, sent, 2)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/a/", sent[0].actionLink)
	assert.Equal(t, int64(300), fx.subscription(t, "chan1").LastPostAt)
}

func TestLedgerBreaksWatermarkTies(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 100)
	fx.feed.posts["cats"] = []models.Post{post("b", 200), post("a", 200)}
	require.NoError(t, fx.ledger.Record(context.Background(), "chan1", "a"))

	fx.relay.tick(context.Background(), time.Now())

	sent := fx.sink.sentItems()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/b/", sent[0].actionLink)
}

func TestRemovedPostsAreNeverRelayed(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 0)
	gone := post("a", 200)
	gone.Removed = true
	fx.feed.posts["cats"] = []models.Post{gone}

	fx.relay.tick(context.Background(), time.Now())

	assert.Empty(t, fx.sink.sentItems())
}

func TestFeedFailureIsIsolatedPerSubscription(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "down", 0)
	fx.subscribe(t, "chan2", "cats", 0)
	fx.feed.errs["down"] = assert.AnError
	fx.feed.posts["cats"] = []models.Post{post("a", 200)}

	fx.relay.tick(context.Background(), time.Now())

	sent := fx.sink.sentItems()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://hooks.example/chan2", sent[0].endpoint)
	assert.Zero(t, fx.subscription(t, "chan1").LastPostAt)
	assert.Equal(t, int64(200), fx.subscription(t, "chan2").LastPostAt)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "chan1", "cats", 0)
	fx.feed.posts["cats"] = []models.Post{post("a", 200)}

	// Simulate an in-flight tick by holding the tick lock.
	fx.relay.mu.Lock()
	fx.relay.tick(context.Background(), time.Now())
	fx.relay.mu.Unlock()

	assert.Empty(t, fx.sink.sentItems())

	fx.relay.tick(context.Background(), time.Now())
	assert.Len(t, fx.sink.sentItems(), 1)
}

func TestFirstPollRelaysBoundedBacklogOnly(t *testing.T) {
	fx := newFixture(t)
	fx.relay.fetchLimit = 2
	fx.subscribe(t, "chan1", "cats", 0)
	fx.feed.posts["cats"] = []models.Post{post("c", 300), post("b", 200), post("a", 100)}

	fx.relay.tick(context.Background(), time.Now())

	// Only the fetch window is relayed, oldest-first within it.
	sent := fx.sink.sentItems()
	require.Len(t, sent, 2)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/b/", sent[0].actionLink)
	assert.Equal(t, "https://www.reddit.com/r/test/comments/c/", sent[1].actionLink)
}
