package channels

import (
	"fmt"
	"sync"

	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Registry holds the selected implementation for each channel. The
// dispatcher is the only caller; a channel with no registered
// implementation is a systemic configuration failure, not a task failure.
type Registry struct {
	mu       sync.RWMutex
	content  ContentGenerator
	commerce CommercePublisher
	ads      AdLauncher
	social   SocialScheduler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// FromConfig builds a registry from the channels configuration. "sim" is
// the only built-in mode; live adapters register themselves explicitly.
func FromConfig(cfg config.ChannelsConfig) (*Registry, error) {
	switch cfg.Mode {
	case "", "sim":
		sim := NewSimulator(SimOptions{
			Seed:        cfg.SimSeed,
			FailureRate: cfg.SimFailureRate,
		})
		r := NewRegistry()
		r.RegisterContent(sim)
		r.RegisterCommerce(sim)
		r.RegisterAds(sim)
		r.RegisterSocial(sim)
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported channels mode: %s", cfg.Mode)
	}
}

// RegisterContent sets the content implementation.
func (r *Registry) RegisterContent(g ContentGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = g
}

// RegisterCommerce sets the commerce implementation.
func (r *Registry) RegisterCommerce(p CommercePublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commerce = p
}

// RegisterAds sets the advertising implementation.
func (r *Registry) RegisterAds(a AdLauncher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = a
}

// RegisterSocial sets the social implementation.
func (r *Registry) RegisterSocial(s SocialScheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.social = s
}

// Content returns the content implementation.
func (r *Registry) Content() (ContentGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.content == nil {
		return nil, fmt.Errorf("no content channel configured")
	}
	return r.content, nil
}

// Commerce returns the commerce implementation.
func (r *Registry) Commerce() (CommercePublisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.commerce == nil {
		return nil, fmt.Errorf("no commerce channel configured")
	}
	return r.commerce, nil
}

// Ads returns the advertising implementation.
func (r *Registry) Ads() (AdLauncher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ads == nil {
		return nil, fmt.Errorf("no ads channel configured")
	}
	return r.ads, nil
}

// Social returns the social implementation.
func (r *Registry) Social() (SocialScheduler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.social == nil {
		return nil, fmt.Errorf("no social channel configured")
	}
	return r.social, nil
}

// Configured reports which channels have implementations registered.
func (r *Registry) Configured() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Channel
	if r.content != nil {
		out = append(out, models.ChannelContent)
	}
	if r.commerce != nil {
		out = append(out, models.ChannelCommerce)
	}
	if r.ads != nil {
		out = append(out, models.ChannelAds)
	}
	if r.social != nil {
		out = append(out, models.ChannelSocial)
	}
	return out
}
