// Package twitter implements a crawler reading a configurable RSS mirror of
// a creator's timeline. No credentials are required.
package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"

	"github.com/sirenlabs/siren/crawlers"
)

const (
	Platform = "twitter"

	defaultMirrorURL = "https://nitter.net"
)

type Crawler struct {
	mu        sync.Mutex
	mirrorURL string
	fetcher   *crawlers.Fetcher
}

func New(client *http.Client, mirrorURL string) *Crawler {
	if mirrorURL == "" {
		mirrorURL = defaultMirrorURL
	}

	return &Crawler{
		mirrorURL: strings.TrimSuffix(mirrorURL, "/"),
		fetcher:   crawlers.NewFetcher(client),
	}
}

func (c *Crawler) Platform() string {
	return Platform
}

// SetAuth only recognises a mirror host override; the mirror requires no
// credentials.
func (c *Crawler) SetAuth(payload map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if payload["mirror_url"] != "" {
		c.mirrorURL = strings.TrimSuffix(payload["mirror_url"], "/")
	}
}

func (c *Crawler) HasAuth() bool {
	return true
}

func (c *Crawler) mirror() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mirrorURL
}

func (c *Crawler) FetchCreatorInfo(ctx context.Context, handle string) (*crawlers.CreatorInfo, error) {
	feed, err := c.feed(ctx, handle)
	if err != nil {
		return nil, err
	}

	info := &crawlers.CreatorInfo{
		ID:          handle,
		Username:    handle,
		DisplayName: handle,
		Platform:    Platform,
	}

	// mirror feed titles read "Display Name / @handle"
	if feed.Title != "" {
		info.DisplayName = strings.TrimSpace(strings.SplitN(feed.Title, "/", 2)[0])
	}
	if feed.Image != nil {
		info.AvatarURL = feed.Image.URL
	}

	return info, nil
}

func (c *Crawler) CrawlPosts(ctx context.Context, handle string, limit int) ([]crawlers.Post, error) {
	feed, err := c.feed(ctx, handle)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > len(feed.Items) {
		limit = len(feed.Items)
	}

	posts := make([]crawlers.Post, 0, limit)
	for _, item := range feed.Items[:limit] {
		post := crawlers.Post{
			PostID:   itemID(item),
			Handle:   handle,
			Platform: Platform,
			Content:  item.Title,
			URL:      item.Link,
		}
		if post.PostID == "" {
			continue
		}

		if item.PublishedParsed != nil {
			post.PostedAt = *item.PublishedParsed
		}
		if thumbnail := thumbnailURL(item); thumbnail != "" {
			post.MediaURLs = []string{thumbnail}
		}

		posts = append(posts, post)
	}

	return posts, nil
}

func (c *Crawler) feed(ctx context.Context, handle string) (*gofeed.Feed, error) {
	feedURL, err := url.Parse(c.mirror() + "/" + url.PathEscape(handle) + "/rss")
	if err != nil {
		return nil, errors.Wrap(err, "failure building feed url")
	}

	// add cache busting
	queries := feedURL.Query()
	queries.Set("_", strconv.FormatInt(time.Now().Unix(), 10))
	feedURL.RawQuery = queries.Encode()

	resp, err := c.fetcher.Do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, feedURL.String(), nil)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failure fetching feed")
	}
	defer resp.Body.Close() // nolint: errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, crawlers.ErrNotFound
	case http.StatusTooManyRequests:
		return nil, crawlers.ErrRateLimited
	default:
		return nil, errors.Errorf("received unexpected status code from mirror: %d", resp.StatusCode)
	}

	// gofeed parsers keep lazily initialised internal state, so each fetch
	// gets its own
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failure parsing feed")
	}
	return feed, nil
}

// itemID derives a stable id from the final path segment of the item link,
// dropping the mirror's fragment suffix.
func itemID(item *gofeed.Item) string {
	link := item.GUID
	if link == "" {
		link = item.Link
	}

	link = strings.TrimSuffix(strings.TrimSuffix(link, "#m"), "/")
	segments := strings.Split(link, "/")
	return segments[len(segments)-1]
}

func thumbnailURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	for key, extension := range item.Extensions {
		if key != "media" {
			continue
		}
		for valueKey, value := range extension {
			if valueKey != "content" || len(value) == 0 {
				continue
			}
			content := value[len(value)-1]
			for attrKey, attr := range content.Attrs {
				if attrKey == "url" && attr != "" {
					return attr
				}
			}
		}
	}

	return ""
}
