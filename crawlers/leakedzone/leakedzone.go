// Package leakedzone implements the cookie/impersonation crawler variant: a
// long-lived HTML-scraping session behind an anti-bot challenge wall.
package leakedzone

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/sirenlabs/siren/crawlers"
)

const (
	Platform = "leakedzone"

	defaultBaseURL = "https://leakedzone.com"
	listingDate    = "2006.01.02"
)

// challengeMarkers are interstitial check phrases. The anti-bot layer can
// serve these with HTTP 200, so every body is inspected.
var challengeMarkers = []string{
	"Just a moment",
	"Checking your browser",
	"cf-browser-verification",
	"Enable JavaScript and cookies",
}

type Crawler struct {
	mu        sync.Mutex
	baseURL   string
	cookie    string
	userAgent string
	fetcher   *crawlers.Fetcher

	categoryTags []string

	// per-handle platform-category classification, fetched lazily and cached
	// indefinitely since the source page rarely changes category
	categoriesLock sync.Mutex
	categories     map[string]string

	now func() time.Time
}

// New builds the crawler. An empty baseURL selects the production host;
// categoryTags are the category listing pages swept by CrawlLatest.
func New(baseURL string, categoryTags []string) *Crawler {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	profile := impersonationProfile()

	return &Crawler{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		userAgent:    profile.UserAgent,
		fetcher:      crawlers.NewFetcher(newSessionClient()),
		categoryTags: categoryTags,
		categories:   make(map[string]string),
		now:          time.Now,
	}
}

func newSessionClient() *http.Client {
	// fresh transport per session so stale connections die with the old
	// credentials
	return &http.Client{
		Timeout:   20 * time.Second,
		Transport: &http.Transport{},
	}
}

func (c *Crawler) Platform() string {
	return Platform
}

// SetAuth replaces cookie and fingerprint material and drops the cached
// transport session. Ellipsis characters from truncated terminal pastes are
// stripped out of the cookie. The refresh tooling writes the user agent under
// "ua", admin updates use "user_agent"; both are accepted.
func (c *Crawler) SetAuth(payload map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cookie = strings.ReplaceAll(payload["cookie"], "…", "")

	userAgent := payload["user_agent"]
	if userAgent == "" {
		userAgent = payload["ua"]
	}
	if userAgent != "" {
		c.userAgent = userAgent
	}

	c.fetcher.SetClient(newSessionClient())
}

func (c *Crawler) HasAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cookie != ""
}

func (c *Crawler) session() (cookie, userAgent string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cookie, c.userAgent
}

// FetchCreatorInfo resolves a handle through its creator page metadata.
func (c *Crawler) FetchCreatorInfo(ctx context.Context, handle string) (*crawlers.CreatorInfo, error) {
	html, err := c.fetch(ctx, c.baseURL+"/"+url.PathEscape(handle))
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "failure parsing creator page")
	}

	info := &crawlers.CreatorInfo{
		ID:          handle,
		Username:    handle,
		DisplayName: handle,
		Platform:    Platform,
	}

	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && title != "" {
		info.DisplayName = strings.TrimSpace(strings.SplitN(title, "|", 2)[0])
	}
	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		info.AvatarURL = normalizeImageURL(c.baseURL, image)
	}

	return info, nil
}

// CrawlPosts lists the cards on a creator page, annotated with the creator's
// cached category.
func (c *Crawler) CrawlPosts(ctx context.Context, handle string, limit int) ([]crawlers.Post, error) {
	html, err := c.fetch(ctx, c.baseURL+"/"+url.PathEscape(handle))
	if err != nil {
		return nil, err
	}

	posts, err := parseCards(c.baseURL, html, "", "")
	if err != nil {
		return nil, err
	}

	category := c.category(ctx, handle)
	for i := range posts {
		if posts[i].Handle == "" {
			posts[i].Handle = handle
		}
		posts[i].Tag = category
	}

	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// CrawlLatest sweeps the dated listings plus the configured category pages.
// This is the global discovery feed; no subscription is required.
func (c *Crawler) CrawlLatest(ctx context.Context) ([]crawlers.Post, error) {
	var all []crawlers.Post

	listings := []struct {
		path string
		tag  string
	}{
		{"/videos", tagVideos},
		{"/photos", tagPhotos},
	}

	today := c.now().Format(listingDate)

	for _, listing := range listings {
		html, err := c.fetch(ctx, c.baseURL+listing.path)
		if err != nil {
			return nil, errors.Wrapf(err, "failure crawling %s listing", listing.tag)
		}

		posts, err := parseCards(c.baseURL, html, listing.tag, today)
		if err != nil {
			return nil, err
		}
		all = append(all, posts...)
	}

	for _, tag := range c.categoryTags {
		html, err := c.fetch(ctx, c.baseURL+"/creators?Category="+url.QueryEscape(tag))
		if err != nil {
			return nil, errors.Wrapf(err, "failure crawling %s category", tag)
		}

		posts, err := parseCards(c.baseURL, html, tag, today)
		if err != nil {
			return nil, err
		}
		all = append(all, posts...)
	}

	return all, nil
}

// category returns the creator's platform-category classification, fetching
// it lazily on first reference. Lookup failures are not cached so the next
// reference retries.
func (c *Crawler) category(ctx context.Context, handle string) string {
	c.categoriesLock.Lock()
	cached, ok := c.categories[handle]
	c.categoriesLock.Unlock()
	if ok {
		return cached
	}

	html, err := c.fetch(ctx, c.baseURL+"/"+url.PathEscape(handle))
	if err != nil {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	category := strings.TrimSpace(doc.Find(`a[href*="creators?Category="]`).First().Text())
	if category == "" {
		return ""
	}

	c.categoriesLock.Lock()
	c.categories[handle] = category
	c.categoriesLock.Unlock()

	return category
}

// fetch downloads one page through the impersonation session.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, error) {
	cookie, userAgent := c.session()
	profile := impersonationProfile()

	resp, err := c.fetcher.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", profile.Accept)
		req.Header.Set("Accept-Language", profile.AcceptLanguage)
		req.Header.Set("Referer", c.baseURL+"/")
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}

		return req, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "failure fetching page")
	}
	defer resp.Body.Close() // nolint: errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", errors.Wrapf(crawlers.ErrAuthExpired, "page returned status %d", resp.StatusCode)
	case http.StatusNotFound:
		return "", crawlers.ErrNotFound
	case http.StatusTooManyRequests:
		return "", crawlers.ErrRateLimited
	default:
		return "", errors.Errorf("received unexpected status code: %d", resp.StatusCode)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failure reading page body")
	}

	html := string(body)
	if containsChallengeMarker(html) {
		return "", errors.Wrap(crawlers.ErrBlocked, "challenge page served with status 200")
	}

	return html, nil
}

func containsChallengeMarker(html string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}
