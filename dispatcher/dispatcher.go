// Package dispatcher renders newly discovered posts into Discord messages
// and delivers them with bounded retry. Delivery is best-effort; exhausted
// notifications are dropped, never re-queued.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/metrics"
	"github.com/sirenlabs/siren/store"
)

const (
	color        = 4220112
	summaryLimit = 1000

	maxAttempts      = 3
	retryDelay       = 2 * time.Second
	rateLimitWaitCap = 30 * time.Second
)

// Sender is the narrow Discord surface the dispatcher needs. *discordgo.Session
// satisfies it.
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
}

type Dispatcher struct {
	logger    *zap.Logger
	sender    Sender
	channelID string
}

func New(logger *zap.Logger, sender Sender, channelID string) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		sender:    sender,
		channelID: channelID,
	}
}

// Notify renders and delivers one post notification.
func (d *Dispatcher) Notify(
	ctx context.Context,
	creator *store.Creator,
	post *crawlers.Post,
	discovered bool,
	mentionIDs []string,
) error {
	return d.Deliver(ctx, d.Render(creator, post, discovered), mentionIDs)
}

// Render builds the notification payload for a post and its creator.
// Auto-discovered items carry a marker distinguishing them from
// subscribed-creator pushes.
func (d *Dispatcher) Render(creator *store.Creator, post *crawlers.Post, discovered bool) *discordgo.MessageSend {
	name := creator.DisplayName
	if name == "" {
		name = creator.Username
	}

	headline := fmt.Sprintf("📢 New post from **%s**", name)
	if discovered {
		headline = fmt.Sprintf("🌟 Discovered activity from **%s**", name)
	}

	description := truncate(post.Content, summaryLimit)
	if description == "" {
		description = "No text content"
	}

	embed := &discordgo.MessageEmbed{
		URL:         post.URL,
		Title:       fmt.Sprintf("New post from %s", name),
		Description: description,
		Color:       color,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    creator.Username,
			IconURL: creator.AvatarURL,
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Siren monitor",
		},
	}

	if !post.PostedAt.IsZero() {
		embed.Timestamp = post.PostedAt.Format(time.RFC3339)
	}

	if len(post.MediaURLs) > 0 {
		embed.Image = &discordgo.MessageEmbedImage{
			URL: post.MediaURLs[0],
		}
	}

	if post.IsPaywalled {
		price := post.Price
		if price == "" {
			price = "Unknown"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "💰 Paywalled content",
			Value:  fmt.Sprintf("Price: %s", price),
			Inline: false,
		})
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Platform",
		Value:  capitalize(post.Platform),
		Inline: true,
	})

	if post.Tag != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Category",
			Value:  post.Tag,
			Inline: true,
		})
	}

	return &discordgo.MessageSend{
		Content: headline,
		Embed:   embed,
	}
}

// Deliver posts the payload to the configured channel. Rate-limit responses
// wait the advertised retry-after, everything else a short fixed delay, up to
// maxAttempts total tries.
func (d *Dispatcher) Deliver(ctx context.Context, message *discordgo.MessageSend, mentionIDs []string) error {
	if len(mentionIDs) > 0 {
		mentions := make([]string, len(mentionIDs))
		for i, id := range mentionIDs {
			mentions[i] = fmt.Sprintf("<@%s>", id)
		}
		message.Content += "\n" + strings.Join(mentions, " ")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := d.sender.ChannelMessageSendComplex(d.channelID, message)
		if err == nil {
			metrics.NotificationsSent.Add(1)
			return nil
		}
		lastErr = err

		delay := retryDelay
		if rateLimitErr, ok := err.(*discordgo.RateLimitError); ok {
			delay = rateLimitErr.RetryAfter
			if delay > rateLimitWaitCap {
				delay = rateLimitWaitCap
			}
		}

		d.logger.Warn("notification delivery failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	metrics.NotificationsDropped.Add(1)
	return errors.Wrap(lastErr, "notification delivery abandoned")
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func capitalize(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
