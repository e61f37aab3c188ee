package crawlers

import (
	"strings"

	"go.uber.org/zap"
)

// CredentialSource provides the most recent active credential payload per
// platform, nil when none is stored.
type CredentialSource interface {
	Credentials(platform string) (map[string]string, string, error)
}

// Registry owns one crawler instance per platform and resolves platform
// names to crawlers. Construct once at startup.
type Registry struct {
	logger   *zap.Logger
	crawlers map[string]Crawler
	order    []string
}

func NewRegistry(logger *zap.Logger, list ...Crawler) *Registry {
	registry := &Registry{
		logger:   logger,
		crawlers: make(map[string]Crawler, len(list)),
	}

	for _, crawler := range list {
		platform := strings.ToLower(crawler.Platform())
		if _, ok := registry.crawlers[platform]; ok {
			continue
		}
		registry.crawlers[platform] = crawler
		registry.order = append(registry.order, platform)
	}

	return registry
}

// Init loads the stored active credentials for every platform and hands them
// to the owning crawler. Platforms without a stored record keep running
// unauthenticated until an administrative update arrives.
func (r *Registry) Init(creds CredentialSource) {
	for _, platform := range r.order {
		payload, label, err := creds.Credentials(platform)
		if err != nil {
			r.logger.Error("failed to load stored credentials",
				zap.String("platform", platform),
				zap.Error(err),
			)
			continue
		}
		if payload == nil {
			continue
		}

		r.logger.Info("initialising crawler with stored credentials",
			zap.String("platform", platform),
			zap.String("account_label", label),
		)
		r.crawlers[platform].SetAuth(payload)
	}
}

func (r *Registry) Get(platform string) (Crawler, bool) {
	crawler, ok := r.crawlers[strings.ToLower(platform)]
	return crawler, ok
}

// All returns every crawler in registration order.
func (r *Registry) All() []Crawler {
	list := make([]Crawler, 0, len(r.order))
	for _, platform := range r.order {
		list = append(list, r.crawlers[platform])
	}
	return list
}
