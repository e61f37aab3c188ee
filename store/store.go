// Package store persists creators, posts, subscriptions and credential
// records, and answers "is this post new". All writes serialise through the
// store's own mutual exclusion; persistence operations are single statements.
package store

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&Creator{},
		&Post{},
		&Subscription{},
		&CredentialRecord{},
	).Error
	if err != nil {
		return nil, errors.Wrap(err, "failure migrating store schema")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddCreator is an idempotent upsert-by-identity: repeat calls with the same
// (username, platform) return the same row. Display name and avatar only fill
// empty columns, they never overwrite existing values.
func (s *Store) AddCreator(username, platform, displayName, avatarURL string) (*Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creator Creator
	err := s.db.
		Where(Creator{Username: username, Platform: platform}).
		Attrs(Creator{DisplayName: displayName, AvatarURL: avatarURL}).
		FirstOrCreate(&creator).Error
	if err != nil && isDuplicateKey(err) {
		// lost a race with another insert for the same identity
		err = s.db.Where(Creator{Username: username, Platform: platform}).First(&creator).Error
	}
	if err != nil {
		return nil, errors.Wrap(err, "failure upserting creator")
	}

	return &creator, nil
}

func (s *Store) Creators() ([]Creator, error) {
	var creators []Creator
	err := s.db.Order("id ASC").Find(&creators).Error
	if err != nil {
		return nil, errors.Wrap(err, "failure listing creators")
	}
	return creators, nil
}

func (s *Store) CreatorByIdentity(username, platform string) (*Creator, error) {
	var creator Creator
	err := s.db.Where(Creator{Username: username, Platform: platform}).First(&creator).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failure finding creator")
	}
	return &creator, nil
}

// UpdateCreatorCheck advances the poll cursor after a successful crawl.
// An empty lastPostID keeps the stored one.
func (s *Store) UpdateCreatorCheck(creatorID uint, lastPostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	columns := map[string]interface{}{
		"last_checked_at": time.Now(),
	}
	if lastPostID != "" {
		columns["last_post_id"] = lastPostID
	}

	err := s.db.Model(&Creator{}).
		Where("id = ?", creatorID).
		Updates(columns).Error
	return errors.Wrap(err, "failure updating creator cursor")
}

// RecordPostIfNew is an atomic check-and-insert on the (post_id, platform)
// unique key. Inserting a duplicate is a silent no-op reported as false.
func (s *Store) RecordPostIfNew(post *Post) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if post.ScrapedAt.IsZero() {
		post.ScrapedAt = time.Now()
	}

	err := s.db.Create(post).Error
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failure recording post")
	}

	return true, nil
}

func (s *Store) PostByIdentity(postID, platform string) (*Post, error) {
	var post Post
	err := s.db.Where(Post{PostID: postID, Platform: platform}).First(&post).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failure finding post")
	}
	return &post, nil
}

func (s *Store) Subscribe(userID string, creatorID uint, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subscription Subscription
	err := s.db.
		Where(Subscription{UserID: userID, CreatorID: creatorID}).
		Attrs(Subscription{Platform: platform, Enabled: true}).
		FirstOrCreate(&subscription).Error
	if err != nil {
		return errors.Wrap(err, "failure creating subscription")
	}

	if !subscription.Enabled {
		err = s.db.Model(&subscription).Update("enabled", true).Error
	}
	return errors.Wrap(err, "failure enabling subscription")
}

// Unsubscribe disables the subscription instead of deleting it, so a later
// re-subscribe reuses the same row.
func (s *Store) Unsubscribe(userID string, creatorID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Model(&Subscription{}).
		Where("user_id = ? AND creator_id = ?", userID, creatorID).
		Update("enabled", false).Error
	return errors.Wrap(err, "failure disabling subscription")
}

// Subscribers returns the user ids subscribed to a creator, used as mention
// hints by the dispatcher.
func (s *Store) Subscribers(creatorID uint) ([]string, error) {
	var subscriptions []Subscription
	err := s.db.
		Where("creator_id = ? AND enabled = ?", creatorID, true).
		Find(&subscriptions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failure listing subscribers")
	}

	userIDs := make([]string, len(subscriptions))
	for i, subscription := range subscriptions {
		userIDs[i] = subscription.UserID
	}
	return userIDs, nil
}

func (s *Store) SubscriptionsByUser(userID string) ([]Creator, error) {
	var subscriptions []Subscription
	err := s.db.
		Where("user_id = ? AND enabled = ?", userID, true).
		Find(&subscriptions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failure listing subscriptions")
	}

	creators := make([]Creator, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		var creator Creator
		err = s.db.First(&creator, subscription.CreatorID).Error
		if gorm.IsRecordNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failure resolving subscribed creator")
		}
		creators = append(creators, creator)
	}
	return creators, nil
}

// SaveCredentials writes the single credential record for a platform and
// transitions it straight to active. The record is the source of truth; the
// payload shape is never validated here.
func (s *Store) SaveCredentials(platform, accountLabel string, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failure encoding credential payload")
	}

	var record CredentialRecord
	err = s.db.Where(CredentialRecord{Platform: platform}).First(&record).Error
	if gorm.IsRecordNotFoundError(err) {
		err = s.db.Create(&CredentialRecord{
			Platform:     platform,
			AccountLabel: accountLabel,
			Payload:      string(raw),
			Status:       CredentialActive,
		}).Error
		return errors.Wrap(err, "failure creating credential record")
	}
	if err != nil {
		return errors.Wrap(err, "failure finding credential record")
	}

	err = s.db.Model(&record).Updates(map[string]interface{}{
		"account_label": accountLabel,
		"payload":       string(raw),
		"status":        CredentialActive,
	}).Error
	return errors.Wrap(err, "failure updating credential record")
}

// Credentials returns the active payload for a platform, nil when no active
// record exists.
func (s *Store) Credentials(platform string) (map[string]string, string, error) {
	var record CredentialRecord
	err := s.db.
		Where(CredentialRecord{Platform: platform, Status: CredentialActive}).
		First(&record).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "failure finding credential record")
	}

	var payload map[string]string
	err = json.Unmarshal([]byte(record.Payload), &payload)
	if err != nil {
		return nil, "", errors.Wrap(err, "failure decoding credential payload")
	}

	return payload, record.AccountLabel, nil
}

func (s *Store) MarkCredentialStatus(platform, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Model(&CredentialRecord{}).
		Where("platform = ?", platform).
		Update("status", status).Error
	return errors.Wrap(err, "failure updating credential status")
}

// isDuplicateKey recognises unique constraint violations from postgres and
// the sqlite dialect used in tests.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
