package scheduler

import (
	"context"
	"testing"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/store"
)

type fakeCrawler struct {
	platform string
	hasAuth  bool
	posts    []crawlers.Post
	err      error

	crawlCalls int
	setAuths   []map[string]string
}

func (c *fakeCrawler) Platform() string { return c.platform }

func (c *fakeCrawler) FetchCreatorInfo(ctx context.Context, handle string) (*crawlers.CreatorInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &crawlers.CreatorInfo{
		ID:          handle,
		Username:    handle,
		DisplayName: handle,
		Platform:    c.platform,
	}, nil
}

func (c *fakeCrawler) CrawlPosts(ctx context.Context, handle string, limit int) ([]crawlers.Post, error) {
	c.crawlCalls++
	if c.err != nil {
		return nil, c.err
	}

	var posts []crawlers.Post
	for _, post := range c.posts {
		if post.Handle == handle {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func (c *fakeCrawler) SetAuth(payload map[string]string) {
	c.setAuths = append(c.setAuths, payload)
	c.hasAuth = true
}

func (c *fakeCrawler) HasAuth() bool { return c.hasAuth }

type fakeLatestCrawler struct {
	fakeCrawler
	latest     []crawlers.Post
	latestErr  error
	sweepCalls int
}

func (c *fakeLatestCrawler) CrawlLatest(ctx context.Context) ([]crawlers.Post, error) {
	c.sweepCalls++
	if c.latestErr != nil {
		return nil, c.latestErr
	}
	return c.latest, nil
}

type notification struct {
	creator    *store.Creator
	post       *crawlers.Post
	discovered bool
	mentionIDs []string
}

type fakeNotifier struct {
	notifications []notification
	err           error
}

func (n *fakeNotifier) Notify(
	ctx context.Context,
	creator *store.Creator,
	post *crawlers.Post,
	discovered bool,
	mentionIDs []string,
) error {
	n.notifications = append(n.notifications, notification{
		creator:    creator,
		post:       post,
		discovered: discovered,
		mentionIDs: mentionIDs,
	})
	return n.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)

	s, err := store.New(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close() // nolint: errcheck
	})

	return s
}

func newTestScheduler(t *testing.T, st *store.Store, notifier Notifier, list ...crawlers.Crawler) *Scheduler {
	t.Helper()

	registry := crawlers.NewRegistry(zap.NewNop(), list...)
	return New(zap.NewNop(), registry, st, store.NewMemorySeenStore(), notifier, nil, 0)
}

func TestTickRecordsAndNotifies(t *testing.T) {
	st := newTestStore(t)
	creator, err := st.AddCreator("alice", "x", "Alice", "")
	require.NoError(t, err)
	require.NoError(t, st.Subscribe("user-1", creator.ID, "x"))

	crawler := &fakeCrawler{
		platform: "x",
		hasAuth:  true,
		posts: []crawlers.Post{
			{PostID: "p2", Handle: "alice", Platform: "x", Content: "newest"},
			{PostID: "p1", Handle: "alice", Platform: "x", Content: "older"},
		},
	}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())

	require.Len(t, notifier.notifications, 2)
	assert.False(t, notifier.notifications[0].discovered)
	assert.Equal(t, "p2", notifier.notifications[0].post.PostID)
	assert.Equal(t, []string{"user-1"}, notifier.notifications[0].mentionIDs)

	stored, err := st.PostByIdentity("p2", "x")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, creator.ID, stored.CreatorID)

	updated, err := st.CreatorByIdentity("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "p2", updated.LastPostID, "cursor is the newest post id")
	assert.NotNil(t, updated.LastCheckedAt)
}

func TestTickIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddCreator("alice", "x", "", "")
	require.NoError(t, err)

	crawler := &fakeCrawler{
		platform: "x",
		hasAuth:  true,
		posts:    []crawlers.Post{{PostID: "p1", Handle: "alice", Platform: "x"}},
	}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())
	s.tick(context.Background())

	assert.Equal(t, 2, crawler.crawlCalls)
	assert.Len(t, notifier.notifications, 1, "known posts are not re-notified")
}

func TestTickAuthExpiryMarksCredentials(t *testing.T) {
	st := newTestStore(t)
	alice, err := st.AddCreator("alice", "x", "", "")
	require.NoError(t, err)
	_, err = st.AddCreator("bob", "x", "", "")
	require.NoError(t, err)
	require.NoError(t, st.SaveCredentials("x", "ops", map[string]string{"sess": "old"}))

	err = st.UpdateCreatorCheck(alice.ID, "p5")
	require.NoError(t, err)

	crawler := &fakeCrawler{
		platform: "x",
		hasAuth:  true,
		err:      errors.Wrap(crawlers.ErrAuthExpired, "api returned status 401"),
	}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())

	assert.Equal(t, 1, crawler.crawlCalls, "remaining creators on the platform are skipped")
	assert.Empty(t, notifier.notifications)

	payload, _, err := st.Credentials("x")
	require.NoError(t, err)
	assert.Nil(t, payload, "credentials are marked expired")

	updated, err := st.CreatorByIdentity("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "p5", updated.LastPostID, "cursor does not advance on failure")
}

func TestTickCrawlerFailureIsolated(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddCreator("alice", "x", "", "")
	require.NoError(t, err)
	_, err = st.AddCreator("bob", "y", "", "")
	require.NoError(t, err)

	broken := &fakeCrawler{platform: "x", hasAuth: true, err: errors.New("boom")}
	healthy := &fakeCrawler{
		platform: "y",
		hasAuth:  true,
		posts:    []crawlers.Post{{PostID: "p1", Handle: "bob", Platform: "y"}},
	}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, broken, healthy)
	s.tick(context.Background())

	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, "bob", notifier.notifications[0].creator.Username)
}

func TestTickDiscoveryAutoRegisters(t *testing.T) {
	st := newTestStore(t)

	crawler := &fakeLatestCrawler{
		fakeCrawler: fakeCrawler{platform: "z", hasAuth: true},
		latest: []crawlers.Post{
			{PostID: "d1", Handle: "carol", Platform: "z", Tag: "Videos"},
			{PostID: "d2", Handle: "", Platform: "z", Tag: "Videos"}, // no handle, skipped
		},
	}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())

	require.Len(t, notifier.notifications, 1)
	assert.True(t, notifier.notifications[0].discovered)
	assert.Equal(t, "carol", notifier.notifications[0].creator.Username)

	creator, err := st.CreatorByIdentity("carol", "z")
	require.NoError(t, err)
	require.NotNil(t, creator, "discovered creators are auto-registered")

	// the seen set suppresses the item on the next sweep
	s.tick(context.Background())
	assert.Equal(t, 2, crawler.sweepCalls)
	assert.Len(t, notifier.notifications, 1)
}

func TestTickNotifierFailureDoesNotAbort(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddCreator("alice", "x", "", "")
	require.NoError(t, err)

	crawler := &fakeCrawler{
		platform: "x",
		hasAuth:  true,
		posts:    []crawlers.Post{{PostID: "p1", Handle: "alice", Platform: "x"}},
	}
	notifier := &fakeNotifier{err: errors.New("discord down")}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())

	stored, err := st.PostByIdentity("p1", "x")
	require.NoError(t, err)
	assert.NotNil(t, stored, "the post stays recorded, delivery is best-effort")

	updated, err := st.CreatorByIdentity("alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "p1", updated.LastPostID)
}

func TestTickSkipsCrawlerWithoutAuth(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AddCreator("alice", "x", "", "")
	require.NoError(t, err)

	crawler := &fakeCrawler{platform: "x", hasAuth: false}
	notifier := &fakeNotifier{}

	s := newTestScheduler(t, st, notifier, crawler)
	s.tick(context.Background())

	assert.Zero(t, crawler.crawlCalls)
	assert.Empty(t, notifier.notifications)
}
