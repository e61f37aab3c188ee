package leakedzone

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/sirenlabs/siren/crawlers"
)

const (
	tagVideos = "Videos"
	tagPhotos = "Photos"

	cardSelector = "div.movie-item, article.movie-item, " +
		"div.light-gallery-item, article.light-gallery-item, " +
		"div.model-item, article.model-item"
)

// parseCards extracts the repeated card elements of a listing page. For the
// dated listings (Videos/Photos) only cards carrying today's publish marker
// are kept; other tags take every card.
func parseCards(baseURL, html, tag, today string) ([]crawlers.Post, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "failure parsing listing page")
	}

	var posts []crawlers.Post

	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		post, ok := parseCard(baseURL, card, tag, today)
		if ok {
			posts = append(posts, post)
		}
	})

	return posts, nil
}

func parseCard(baseURL string, card *goquery.Selection, tag, today string) (crawlers.Post, bool) {
	var post crawlers.Post

	href, ok := card.Find("a").First().Attr("href")
	if !ok {
		return post, false
	}

	href = strings.Trim(strings.TrimPrefix(strings.TrimSpace(href), baseURL), "/")
	segments := strings.Split(href, "/")
	if len(segments) == 0 || segments[0] == "" {
		return post, false
	}
	// malformed hrefs leave a bare scheme as the first segment
	if segments[0] == "https:" {
		return post, false
	}

	dated := tag == tagVideos || tag == tagPhotos

	publishMarker := strings.TrimSpace(card.Find("span.date").First().Text())
	if dated && publishMarker != today {
		return post, false
	}

	post.Platform = Platform
	post.Tag = tag
	post.URL = baseURL + "/" + href

	if publishMarker != "" {
		if postedAt, err := parseListingDate(publishMarker); err == nil {
			post.PostedAt = postedAt
		}
	}

	// a card is a creator profile when it carries the distinct style class,
	// or when its path has exactly one segment outside a dated listing
	class, _ := card.Attr("class")
	isCreatorCard := strings.Contains(class, "model-item") ||
		(!dated && len(segments) == 1)

	if isCreatorCard {
		post.Handle = segments[0]
		post.PostID = "model_" + segments[0]
	} else {
		if len(segments) >= 2 {
			post.Handle = segments[0]
		}
		post.PostID = segments[len(segments)-1]
	}

	post.IsVideo = strings.Contains(href, "video") ||
		card.Find("span.play-icon").Length() > 0

	if image, ok := card.Find("img").First().Attr("src"); ok {
		if normalized := normalizeImageURL(baseURL, image); normalized != "" {
			post.MediaURLs = []string{normalized}
		}
	}

	return post, true
}

func parseListingDate(marker string) (time.Time, error) {
	return time.Parse(listingDate, marker)
}

// normalizeImageURL makes preview URLs absolute. Data-URI previews are
// discarded, they are unusable in notification payloads.
func normalizeImageURL(baseURL, image string) string {
	image = strings.TrimSpace(image)
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "data:image"):
		return ""
	case strings.HasPrefix(image, "//"):
		return "https:" + image
	case strings.HasPrefix(image, "/"):
		return baseURL + image
	}
	return image
}
