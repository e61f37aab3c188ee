// Package onlyfans implements the signed-API crawler variant: every request
// carries a keyed digest signature tied to the stored account credentials.
package onlyfans

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sirenlabs/siren/crawlers"
)

const (
	Platform = "onlyfans"

	defaultAPIBase = "https://onlyfans.com/api2/v2"
	appToken       = "33d57ade8c02dbc5a333db99ff9ae26a"
)

type Crawler struct {
	mu      sync.Mutex
	apiBase string
	fetcher *crawlers.Fetcher
	payload map[string]string
	rules   signRules
	now     func() time.Time
}

// New builds the crawler. An empty apiBase selects the production API.
func New(client *http.Client, apiBase string) *Crawler {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &Crawler{
		apiBase: apiBase,
		fetcher: crawlers.NewFetcher(client),
		rules:   defaultSignRules(),
		now:     time.Now,
	}
}

func (c *Crawler) Platform() string {
	return Platform
}

// SetAuth replaces the credential payload. Sign rule overrides ride along in
// the same payload; only this crawler interprets any of its keys.
func (c *Crawler) SetAuth(payload map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = payload
	c.rules = defaultSignRules().merge(payload)
}

func (c *Crawler) HasAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.payload["sess"] != "" && c.payload["auth_id"] != ""
}

func (c *Crawler) auth() (map[string]string, signRules) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.payload, c.rules
}

type userResponse struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
	Name     string      `json:"name"`
	Avatar   string      `json:"avatar"`
}

type mediaItem struct {
	CanView bool   `json:"canView"`
	Full    string `json:"full"`
	Type    string `json:"type"`
}

type postResponse struct {
	ID       json.Number `json:"id"`
	Text     string      `json:"text"`
	PostedAt string      `json:"postedAt"`
	Price    float64     `json:"price"`
	IsFree   bool        `json:"isFree"`
	CanView  bool        `json:"canViewMedia"`
	Media    []mediaItem `json:"media"`
}

// FetchCreatorInfo resolves a handle to its canonical identity.
func (c *Crawler) FetchCreatorInfo(ctx context.Context, handle string) (*crawlers.CreatorInfo, error) {
	var user userResponse
	err := c.get(ctx, "/users/"+url.PathEscape(handle), &user)
	if err != nil {
		return nil, err
	}
	if user.ID.String() == "" || user.Username == "" {
		return nil, crawlers.ErrNotFound
	}

	return &crawlers.CreatorInfo{
		ID:          user.ID.String(),
		Username:    user.Username,
		DisplayName: user.Name,
		AvatarURL:   user.Avatar,
		Platform:    Platform,
	}, nil
}

// CrawlPosts lists recent posts for a handle. The feed endpoint is id-keyed,
// so the handle is resolved to its numeric id first.
func (c *Crawler) CrawlPosts(ctx context.Context, handle string, limit int) ([]crawlers.Post, error) {
	info, err := c.FetchCreatorInfo(ctx, handle)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}

	var raw []postResponse
	path := fmt.Sprintf("/users/%s/posts?limit=%d&order=publish_date_desc", info.ID, limit)
	err = c.get(ctx, path, &raw)
	if err != nil {
		return nil, err
	}

	posts := make([]crawlers.Post, 0, len(raw))
	for _, item := range raw {
		post := crawlers.Post{
			PostID:      item.ID.String(),
			Handle:      info.Username,
			Platform:    Platform,
			Content:     item.Text,
			URL:         fmt.Sprintf("https://onlyfans.com/%s/%s", item.ID.String(), info.Username),
			IsPaywalled: !item.IsFree && !item.CanView,
		}

		if item.Price > 0 {
			post.Price = strconv.FormatFloat(item.Price, 'f', 2, 64)
		}

		if item.PostedAt != "" {
			postedAt, err := time.Parse(time.RFC3339, item.PostedAt)
			if err == nil {
				post.PostedAt = postedAt
			}
		}

		for _, media := range item.Media {
			if !media.CanView || media.Full == "" {
				continue
			}
			post.MediaURLs = append(post.MediaURLs, media.Full)
			if media.Type == "video" {
				post.IsVideo = true
			}
		}

		posts = append(posts, post)
	}

	return posts, nil
}

// get performs one signed API request. A 401 or 403 is authoritative proof of
// credential expiry and is never retried.
func (c *Crawler) get(ctx context.Context, pathWithQuery string, out interface{}) error {
	payload, rules := c.auth()
	if payload["sess"] == "" || payload["auth_id"] == "" {
		return errors.Wrap(crawlers.ErrAuthExpired, "no credentials configured")
	}

	resp, err := c.fetcher.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.apiBase+pathWithQuery, nil)
		if err != nil {
			return nil, err
		}

		unixTime := c.now().Unix()
		signPath := signablePath(pathWithQuery)

		req.Header.Set("Accept", "application/json")
		req.Header.Set("app-token", appToken)
		req.Header.Set("sign", rules.sign(signPath, unixTime, payload["auth_id"]))
		req.Header.Set("time", strconv.FormatInt(unixTime, 10))
		req.Header.Set("user-id", payload["auth_id"])
		req.Header.Set("x-bc", payload["x_bc"])
		if payload["user_agent"] != "" {
			req.Header.Set("User-Agent", payload["user_agent"])
		}
		req.Header.Set("Cookie", fmt.Sprintf("sess=%s; auth_id=%s", payload["sess"], payload["auth_id"]))

		return req, nil
	})
	if err != nil {
		return errors.Wrap(err, "failure performing api request")
	}
	defer resp.Body.Close() // nolint: errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrapf(crawlers.ErrAuthExpired, "api returned status %d", resp.StatusCode)
	case http.StatusNotFound:
		return crawlers.ErrNotFound
	case http.StatusTooManyRequests:
		return crawlers.ErrRateLimited
	default:
		return errors.Errorf("received unexpected status code from api: %d", resp.StatusCode)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	return errors.Wrap(err, "failure parsing api response body")
}

// signablePath is the API path including query, without scheme and host.
func signablePath(pathWithQuery string) string {
	if !strings.HasPrefix(pathWithQuery, "/") {
		pathWithQuery = "/" + pathWithQuery
	}
	return "/api2/v2" + pathWithQuery
}
