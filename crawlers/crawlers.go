// Package crawlers defines the contract every platform crawler implements,
// the shared error taxonomy, and the registry resolving platform names to
// crawler instances.
package crawlers

import (
	"context"
	"time"
)

// CreatorInfo is the canonical identity a human-entered handle resolves to.
type CreatorInfo struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Platform    string
}

// Post is a single item fetched from a platform, most-recent-first in
// listings. The zero PostedAt means the platform exposed no usable publish
// marker.
type Post struct {
	PostID      string
	Handle      string // author handle, when the platform exposes one
	Platform    string
	Content     string
	URL         string
	MediaURLs   []string
	IsPaywalled bool
	Price       string
	Tag         string // listing tag or category for discovery feed items
	IsVideo     bool
	PostedAt    time.Time
}

// Crawler is the capability set every platform implements.
type Crawler interface {
	Platform() string

	// FetchCreatorInfo resolves a handle to canonical identity. Idempotent
	// and side-effect-free. Returns ErrNotFound for unknown handles.
	FetchCreatorInfo(ctx context.Context, handle string) (*CreatorInfo, error)

	// CrawlPosts lists recent posts for a handle, most-recent-first.
	CrawlPosts(ctx context.Context, handle string, limit int) ([]Post, error)

	// SetAuth replaces the in-memory credential payload and invalidates any
	// cached transport session.
	SetAuth(payload map[string]string)

	// HasAuth reports whether the crawler currently holds usable credentials.
	// Platforms that need none always report true.
	HasAuth() bool
}

// LatestCrawler is implemented by crawlers whose platform exposes a global
// latest-activity feed requiring no prior subscription.
type LatestCrawler interface {
	Crawler

	CrawlLatest(ctx context.Context) ([]Post, error)
}
