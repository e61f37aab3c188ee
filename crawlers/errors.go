package crawlers

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the handle does not exist on the platform.
	ErrNotFound = errors.New("creator not found")
	// ErrAuthExpired means the platform rejected the stored credentials.
	ErrAuthExpired = errors.New("credentials expired or rejected")
	// ErrRateLimited means the platform throttled the request.
	ErrRateLimited = errors.New("rate limited by platform")
	// ErrBlocked means an anti-bot challenge page was served instead of
	// content. Retriable next tick, unlike a structurally absent page.
	ErrBlocked = errors.New("blocked by anti-bot challenge")
)

func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

func IsAuthExpired(err error) bool {
	return errors.Cause(err) == ErrAuthExpired
}

func IsRateLimited(err error) bool {
	return errors.Cause(err) == ErrRateLimited
}

func IsBlocked(err error) bool {
	return errors.Cause(err) == ErrBlocked
}
