package crawlers

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCrawler struct {
	platform string
	payload  map[string]string
}

func (c *stubCrawler) Platform() string { return c.platform }

func (c *stubCrawler) FetchCreatorInfo(ctx context.Context, handle string) (*CreatorInfo, error) {
	return nil, ErrNotFound
}

func (c *stubCrawler) CrawlPosts(ctx context.Context, handle string, limit int) ([]Post, error) {
	return nil, nil
}

func (c *stubCrawler) SetAuth(payload map[string]string) { c.payload = payload }

func (c *stubCrawler) HasAuth() bool { return c.payload != nil }

type stubCredentialSource map[string]map[string]string

func (s stubCredentialSource) Credentials(platform string) (map[string]string, string, error) {
	return s[platform], "label", nil
}

func TestRegistryLookup(t *testing.T) {
	first := &stubCrawler{platform: "Alpha"}
	second := &stubCrawler{platform: "beta"}

	registry := NewRegistry(zap.NewNop(), first, second)

	crawler, ok := registry.Get("alpha")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, first, crawler)

	_, ok = registry.Get("gamma")
	assert.False(t, ok)

	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0], "registration order is preserved")
	assert.Equal(t, second, all[1])
}

func TestRegistryInitLoadsStoredCredentials(t *testing.T) {
	first := &stubCrawler{platform: "alpha"}
	second := &stubCrawler{platform: "beta"}

	registry := NewRegistry(zap.NewNop(), first, second)
	registry.Init(stubCredentialSource{
		"alpha": {"sess": "abc"},
	})

	assert.Equal(t, map[string]string{"sess": "abc"}, first.payload)
	assert.Nil(t, second.payload, "platforms without a record stay unauthenticated")
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(errors.Wrap(ErrNotFound, "outer context")))
	assert.False(t, IsNotFound(errors.New("something else")))

	assert.True(t, IsAuthExpired(errors.Wrap(ErrAuthExpired, "api returned status 401")))
	assert.True(t, IsRateLimited(errors.Wrap(ErrRateLimited, "too fast")))
	assert.True(t, IsBlocked(errors.Wrap(ErrBlocked, "challenge page")))
	assert.False(t, IsBlocked(nil))
}
