package store

import (
	"time"

	"github.com/jinzhu/gorm"
)

// Creator is a tracked author on one platform. Identity is
// (username, platform). LastPostID and LastCheckedAt form the poll cursor;
// the cursor is a hint only, dedup correctness rests on the posts table.
type Creator struct {
	gorm.Model
	Username    string `gorm:"unique_index:idx_creator_identity"`
	Platform    string `gorm:"unique_index:idx_creator_identity"`
	DisplayName string
	AvatarURL   string

	LastPostID    string
	LastCheckedAt *time.Time
}

func (*Creator) TableName() string {
	return "creators"
}

// Post records a scraped post. Identity is (post_id, platform), which is the
// dedup key. Rows are immutable once stored.
type Post struct {
	gorm.Model
	PostID   string `gorm:"unique_index:idx_post_identity"`
	Platform string `gorm:"unique_index:idx_post_identity"`

	CreatorID   uint
	Content     string `gorm:"type:text"`
	MediaURLs   string `gorm:"type:text"` // JSON-encoded ordered list
	IsPaywalled bool
	Price       string
	PostedAt    *time.Time
	ScrapedAt   time.Time
}

func (*Post) TableName() string {
	return "posts"
}

// Subscription maps a user to a creator they want pushes for. Identity is
// (user_id, creator_id).
type Subscription struct {
	gorm.Model
	UserID    string `gorm:"unique_index:idx_subscription_identity"`
	CreatorID uint   `gorm:"unique_index:idx_subscription_identity"`
	Platform  string
	Enabled   bool
}

func (*Subscription) TableName() string {
	return "subscriptions"
}

const (
	CredentialActive  = "active"
	CredentialExpired = "expired"
	CredentialFailed  = "failed"
)

// CredentialRecord persists one platform's authentication material. The
// payload is an opaque JSON-encoded string map; only the owning crawler may
// interpret it.
type CredentialRecord struct {
	gorm.Model
	Platform     string `gorm:"unique_index"`
	AccountLabel string
	Payload      string `gorm:"type:text"`
	Status       string
}

func (*CredentialRecord) TableName() string {
	return "credential_records"
}
