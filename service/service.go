// Package service exposes the administrative boundaries of the worker:
// credential updates, subscriptions, and credential refresh via an external
// process. The chat-bot surface and other frontends call into it.
package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
	"github.com/sirenlabs/siren/store"
)

type Service struct {
	logger   *zap.Logger
	store    *store.Store
	registry *crawlers.Registry
	refresh  map[string]RefreshCommand
}

func New(
	logger *zap.Logger,
	st *store.Store,
	registry *crawlers.Registry,
	refresh map[string]RefreshCommand,
) *Service {
	return &Service{
		logger:   logger,
		store:    st,
		registry: registry,
		refresh:  refresh,
	}
}

// ProbeResult reports the immediate verification attempt after a credential
// update.
type ProbeResult struct {
	Attempted   bool
	Verified    bool
	DisplayName string
	Message     string
}

// UpdateCredentials persists the payload as the platform's single active
// record, hands it to the owning crawler, and probes the new credentials by
// resolving the account label. The probe result rides along; a failed probe
// does not undo the update.
func (s *Service) UpdateCredentials(
	ctx context.Context,
	platform, accountLabel string,
	payload map[string]string,
) (*ProbeResult, error) {
	platform = strings.ToLower(platform)

	crawler, ok := s.registry.Get(platform)
	if !ok {
		return nil, errors.Errorf("unsupported platform: %s", platform)
	}

	err := s.store.SaveCredentials(platform, accountLabel, payload)
	if err != nil {
		return nil, err
	}

	crawler.SetAuth(payload)

	s.logger.Info("credentials updated",
		zap.String("platform", platform),
		zap.String("account_label", accountLabel),
	)

	result := &ProbeResult{}
	if accountLabel == "" {
		return result, nil
	}

	result.Attempted = true
	info, err := crawler.FetchCreatorInfo(ctx, accountLabel)
	if err != nil {
		result.Message = err.Error()
		return result, nil
	}

	result.Verified = true
	result.DisplayName = info.DisplayName
	return result, nil
}

// Subscribe resolves a handle to its canonical identity, upserts the creator
// and records the requester's subscription. ErrNotFound surfaces unchanged so
// the caller can report it to the user.
func (s *Service) Subscribe(ctx context.Context, requesterID, handle, platform string) (*store.Creator, error) {
	platform = strings.ToLower(platform)

	crawler, ok := s.registry.Get(platform)
	if !ok {
		return nil, errors.Errorf("unsupported platform: %s", platform)
	}

	info, err := crawler.FetchCreatorInfo(ctx, handle)
	if err != nil {
		return nil, err
	}

	creator, err := s.store.AddCreator(info.Username, platform, info.DisplayName, info.AvatarURL)
	if err != nil {
		return nil, err
	}

	err = s.store.Subscribe(requesterID, creator.ID, platform)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		zap.String("requester", requesterID),
		zap.String("username", creator.Username),
		zap.String("platform", platform),
	)

	return creator, nil
}

func (s *Service) Unsubscribe(requesterID, handle, platform string) error {
	creator, err := s.store.CreatorByIdentity(handle, strings.ToLower(platform))
	if err != nil {
		return err
	}
	if creator == nil {
		return crawlers.ErrNotFound
	}

	return s.store.Unsubscribe(requesterID, creator.ID)
}

func (s *Service) Subscriptions(requesterID string) ([]store.Creator, error) {
	return s.store.SubscriptionsByUser(requesterID)
}
