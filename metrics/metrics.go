package metrics

import (
	"expvar"
	"time"
)

var (
	// Uptime stores the timestamp of the worker boot
	Uptime = expvar.NewInt("uptime")
	// PollTicks counts completed poll scheduler ticks
	PollTicks = expvar.NewInt("poll_ticks")
	// PostsDiscovered counts newly recorded posts
	PostsDiscovered = expvar.NewInt("posts_discovered")
	// NotificationsSent counts successfully delivered notifications
	NotificationsSent = expvar.NewInt("notifications_sent")
	// NotificationsDropped counts notifications abandoned after retries
	NotificationsDropped = expvar.NewInt("notifications_dropped")
)

// Init starts metrics collection
func Init() {
	Uptime.Set(time.Now().Unix())
}
