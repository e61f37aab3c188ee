package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/store"
)

type fakeSender struct {
	calls    int
	channels []string
	messages []*discordgo.MessageSend
	errs     []error
}

func (s *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	s.calls++
	s.channels = append(s.channels, channelID)
	s.messages = append(s.messages, data)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &discordgo.Message{ID: "msg-1"}, nil
}

func rateLimitErr(retryAfter time.Duration) error {
	return &discordgo.RateLimitError{
		RateLimit: &discordgo.RateLimit{
			TooManyRequests: &discordgo.TooManyRequests{RetryAfter: retryAfter},
			URL:             "https://discord.com/api/v9/channels/1/messages",
		},
	}
}

func testCreator() *store.Creator {
	return &store.Creator{
		Username:    "alice",
		Platform:    "onlyfans",
		DisplayName: "Alice",
		AvatarURL:   "https://cdn.example.com/alice.jpg",
	}
}

func TestRenderSubscribedPost(t *testing.T) {
	d := New(zap.NewNop(), &fakeSender{}, "chan-1")

	message := d.Render(testCreator(), &crawlers.Post{
		PostID:    "p1",
		Platform:  "onlyfans",
		Content:   "hello",
		URL:       "https://onlyfans.com/p1/alice",
		MediaURLs: []string{"https://cdn.example.com/1.jpg"},
		PostedAt:  time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}, false)

	assert.Equal(t, "📢 New post from **Alice**", message.Content)
	require.NotNil(t, message.Embed)
	assert.Equal(t, "hello", message.Embed.Description)
	assert.Equal(t, "https://onlyfans.com/p1/alice", message.Embed.URL)
	assert.Equal(t, "alice", message.Embed.Author.Name)
	require.NotNil(t, message.Embed.Image)
	assert.Equal(t, "https://cdn.example.com/1.jpg", message.Embed.Image.URL)
	assert.Equal(t, "2025-01-15T10:00:00Z", message.Embed.Timestamp)

	require.Len(t, message.Embed.Fields, 1)
	assert.Equal(t, "Platform", message.Embed.Fields[0].Name)
	assert.Equal(t, "Onlyfans", message.Embed.Fields[0].Value)
}

func TestRenderDiscoveredPaywalledPost(t *testing.T) {
	d := New(zap.NewNop(), &fakeSender{}, "chan-1")

	message := d.Render(testCreator(), &crawlers.Post{
		PostID:      "p2",
		Platform:    "leakedzone",
		IsPaywalled: true,
		Price:       "9.99",
		Tag:         "OnlyFans",
	}, true)

	assert.Equal(t, "🌟 Discovered activity from **Alice**", message.Content)
	assert.Equal(t, "No text content", message.Embed.Description)

	require.Len(t, message.Embed.Fields, 3)
	assert.Equal(t, "💰 Paywalled content", message.Embed.Fields[0].Name)
	assert.Equal(t, "Price: 9.99", message.Embed.Fields[0].Value)
	assert.Equal(t, "Platform", message.Embed.Fields[1].Name)
	assert.Equal(t, "Leakedzone", message.Embed.Fields[1].Value)
	assert.Equal(t, "Category", message.Embed.Fields[2].Name)
	assert.Equal(t, "OnlyFans", message.Embed.Fields[2].Value)
}

func TestRenderTruncatesLongContent(t *testing.T) {
	d := New(zap.NewNop(), &fakeSender{}, "chan-1")

	long := make([]rune, summaryLimit+200)
	for i := range long {
		long[i] = 'ä'
	}

	message := d.Render(testCreator(), &crawlers.Post{Content: string(long)}, false)

	runes := []rune(message.Embed.Description)
	assert.Len(t, runes, summaryLimit)
	assert.Equal(t, '…', runes[summaryLimit-1])
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Onlyfans", capitalize("onlyfans"))
	assert.Equal(t, "Äther", capitalize("äther"))
	assert.Equal(t, "", capitalize(""))
	assert.Equal(t, "X", capitalize("x"))
}

func TestDeliverAppendsMentions(t *testing.T) {
	sender := &fakeSender{}
	d := New(zap.NewNop(), sender, "chan-1")

	message := &discordgo.MessageSend{Content: "headline"}
	err := d.Deliver(context.Background(), message, []string{"u1", "u2"})
	require.NoError(t, err)

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, "chan-1", sender.channels[0])
	assert.Equal(t, "headline\n<@u1> <@u2>", sender.messages[0].Content)
}

func TestDeliverRetriesRateLimit(t *testing.T) {
	sender := &fakeSender{
		errs: []error{
			rateLimitErr(5 * time.Millisecond),
			rateLimitErr(5 * time.Millisecond),
			nil,
		},
	}
	d := New(zap.NewNop(), sender, "chan-1")

	err := d.Deliver(context.Background(), &discordgo.MessageSend{Content: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sender.calls)
}

func TestDeliverAbandonsAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{
		errs: []error{
			rateLimitErr(time.Millisecond),
			rateLimitErr(time.Millisecond),
			rateLimitErr(time.Millisecond),
		},
	}
	d := New(zap.NewNop(), sender, "chan-1")

	err := d.Deliver(context.Background(), &discordgo.MessageSend{Content: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification delivery abandoned")
	assert.Equal(t, maxAttempts, sender.calls)
}

func TestDeliverStopsOnCancelledContext(t *testing.T) {
	sender := &fakeSender{
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	d := New(zap.NewNop(), sender, "chan-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Deliver(ctx, &discordgo.MessageSend{Content: "x"}, nil)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, sender.calls, "no retries after cancellation")
}
