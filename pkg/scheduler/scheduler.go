// Package scheduler drives the poll loop: once per interval it crawls every
// tracked creator plus the global discovery feeds, records unseen posts, and
// routes them to the notification dispatcher. One active poller per
// deployment; ticks never overlap.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	lock "github.com/bsm/redis-lock"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/metrics"
	"github.com/sirenlabs/siren/store"
)

const (
	defaultPostLimit = 10

	runLockKey = "siren:worker:poll:run-lock"
)

// Notifier delivers one rendered notification; failures are returned so the
// scheduler can log and drop them.
type Notifier interface {
	Notify(
		ctx context.Context,
		creator *store.Creator,
		post *crawlers.Post,
		discovered bool,
		mentionIDs []string,
	) error
}

type Scheduler struct {
	logger   *zap.Logger
	registry *crawlers.Registry
	store    *store.Store
	seen     store.SeenStore
	notifier Notifier

	// optional: guards against an accidental second deployment sharing the
	// same redis
	redis *redis.Client

	interval  time.Duration
	postLimit int

	running int32
}

func New(
	logger *zap.Logger,
	registry *crawlers.Registry,
	st *store.Store,
	seen store.SeenStore,
	notifier Notifier,
	redisClient *redis.Client,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &Scheduler{
		logger:    logger,
		registry:  registry,
		store:     st,
		seen:      seen,
		notifier:  notifier,
		redis:     redisClient,
		interval:  interval,
		postLimit: defaultPostLimit,
	}
}

// Start runs the poll loop until the context is cancelled. The first tick
// fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick is not re-entrant: when the previous tick is still in flight the new
// one is skipped, the stores are not designed for concurrent writers.
func (s *Scheduler) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.logger.Warn("skipping tick, previous tick still in flight")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	run := newRun(ctx, s.logger)
	run.Logger().Info("run started")

	if s.redis != nil {
		locker := lock.New(s.redis, runLockKey, &lock.Options{
			LockTimeout: s.interval,
			RetryCount:  0, // do not retry
		})

		acquired, err := locker.Lock()
		if err != nil {
			run.Except(errors.Wrap(err, "failure acquiring run lock"))
			return
		}
		if !acquired {
			run.Logger().Warn("skipping tick, another poller holds the run lock")
			return
		}
		defer locker.Unlock() // nolint: errcheck
	}

	s.checkCreators(run)
	s.checkDiscovery(run)

	metrics.PollTicks.Add(1)
	run.Logger().Info("run finished",
		zap.Duration("took", time.Since(run.Launch)),
	)
}

// checkCreators crawls every tracked creator in insertion order. One
// creator's failure never aborts the tick.
func (s *Scheduler) checkCreators(run *Run) {
	creators, err := s.store.Creators()
	if err != nil {
		run.Except(err)
		return
	}

	expiredPlatforms := make(map[string]bool)

	for i := range creators {
		if run.Context().Err() != nil {
			return
		}

		creator := &creators[i]
		logger := run.Logger().With(
			zap.String("username", creator.Username),
			zap.String("platform", creator.Platform),
		)

		crawler, ok := s.registry.Get(creator.Platform)
		if !ok {
			logger.Warn("skipping creator, unsupported platform")
			continue
		}
		if !crawler.HasAuth() {
			logger.Warn("skipping creator, crawler has no credentials")
			continue
		}
		if expiredPlatforms[creator.Platform] {
			logger.Warn("skipping creator, platform credentials expired this tick")
			continue
		}

		posts, err := crawler.CrawlPosts(run.Context(), creator.Username, s.postLimit)
		if err != nil {
			switch {
			case crawlers.IsAuthExpired(err):
				expiredPlatforms[creator.Platform] = true
				if markErr := s.store.MarkCredentialStatus(creator.Platform, store.CredentialExpired); markErr != nil {
					run.Except(markErr)
				}
				run.Except(err,
					zap.String("platform", creator.Platform),
				)
			case crawlers.IsRateLimited(err) || crawlers.IsBlocked(err):
				logger.Warn("abandoning creator for this tick",
					zap.Error(err),
				)
			default:
				run.Except(err,
					zap.String("username", creator.Username),
				)
			}
			// do not advance the cursor on failure
			continue
		}

		for _, post := range posts {
			s.handlePost(run, creator, post, false)
		}

		cursor := creator.LastPostID
		if len(posts) > 0 {
			cursor = posts[0].PostID
		}
		if err := s.store.UpdateCreatorCheck(creator.ID, cursor); err != nil {
			run.Except(err)
		}
	}
}

// checkDiscovery sweeps the global latest-activity feeds of platforms that
// offer one, auto-registering unseen creators.
func (s *Scheduler) checkDiscovery(run *Run) {
	for _, crawler := range s.registry.All() {
		if run.Context().Err() != nil {
			return
		}

		latestCrawler, ok := crawler.(crawlers.LatestCrawler)
		if !ok {
			continue
		}

		logger := run.Logger().With(
			zap.String("platform", crawler.Platform()),
		)

		if !crawler.HasAuth() {
			logger.Warn("skipping discovery feed, crawler has no credentials")
			continue
		}

		posts, err := latestCrawler.CrawlLatest(run.Context())
		if err != nil {
			switch {
			case crawlers.IsAuthExpired(err):
				if markErr := s.store.MarkCredentialStatus(crawler.Platform(), store.CredentialExpired); markErr != nil {
					run.Except(markErr)
				}
				run.Except(err,
					zap.String("platform", crawler.Platform()),
				)
			case crawlers.IsRateLimited(err) || crawlers.IsBlocked(err):
				logger.Warn("abandoning discovery feed for this tick",
					zap.Error(err),
				)
			default:
				run.Except(err)
			}
			continue
		}

		for _, post := range posts {
			if post.Handle == "" || post.PostID == "" {
				continue
			}

			fresh, err := s.seen.MarkSeen(post.Tag, post.PostID)
			if err != nil {
				run.Except(err)
				continue
			}
			if !fresh {
				continue
			}

			creator, err := s.store.AddCreator(post.Handle, post.Platform, post.Handle, "")
			if err != nil {
				run.Except(err)
				continue
			}

			s.handlePost(run, creator, post, true)
		}
	}
}

// handlePost records a post and, when it was previously unknown, dispatches
// its notification. Delivery failures are logged and dropped.
func (s *Scheduler) handlePost(run *Run, creator *store.Creator, post crawlers.Post, discovered bool) {
	mediaURLs, err := store.EncodeMediaURLs(post.MediaURLs)
	if err != nil {
		run.Except(err)
		return
	}

	record := &store.Post{
		PostID:      post.PostID,
		Platform:    post.Platform,
		CreatorID:   creator.ID,
		Content:     post.Content,
		MediaURLs:   mediaURLs,
		IsPaywalled: post.IsPaywalled,
		Price:       post.Price,
		ScrapedAt:   time.Now(),
	}
	if !post.PostedAt.IsZero() {
		postedAt := post.PostedAt
		record.PostedAt = &postedAt
	}

	created, err := s.store.RecordPostIfNew(record)
	if err != nil {
		run.Except(err)
		return
	}
	if !created {
		return
	}

	metrics.PostsDiscovered.Add(1)
	run.Logger().Info("recorded new post",
		zap.String("post_id", post.PostID),
		zap.String("platform", post.Platform),
		zap.Bool("discovered", discovered),
	)

	mentionIDs, err := s.store.Subscribers(creator.ID)
	if err != nil {
		run.Except(err)
		mentionIDs = nil
	}

	err = s.notifier.Notify(run.Context(), creator, &post, discovered, mentionIDs)
	if err != nil {
		run.Except(errors.Wrap(err, "notification dropped"))
	}
}
