package channels

import (
	"context"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

// GenerateRequest asks the content channel for a sellable asset.
type GenerateRequest struct {
	Niche     string              `json:"niche"`
	Kind      models.StrategyKind `json:"kind"`
	Keywords  []string            `json:"keywords,omitempty"`
	PriceHint float64             `json:"price_hint,omitempty"`
}

// Product is a generated asset ready for publishing.
type Product struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Price       float64             `json:"price"`
	Kind        models.StrategyKind `json:"kind"`
	Niche       string              `json:"niche"`
}

// Listing is a published product on a commerce channel.
type Listing struct {
	ListingID string  `json:"listing_id"`
	URL       string  `json:"url"`
	Status    string  `json:"status"`
	Units     int     `json:"units"`
	Revenue   float64 `json:"revenue"`
}

// LaunchRequest asks the advertising channel for a campaign.
type LaunchRequest struct {
	Budget    float64  `json:"budget"`
	Targeting []string `json:"targeting,omitempty"`
	Creative  string   `json:"creative"`
}

// Campaign is a launched advertising campaign.
type Campaign struct {
	CampaignID        string  `json:"campaign_id"`
	Status            string  `json:"status"`
	Spend             float64 `json:"spend"`
	AttributedRevenue float64 `json:"attributed_revenue"`
}

// ScheduleRequest asks the social channel to queue a post.
type ScheduleRequest struct {
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ScheduledPost is a queued social post.
type ScheduledPost struct {
	PostID      string    `json:"post_id"`
	Status      string    `json:"status"`
	Reach       int       `json:"reach"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ContentGenerator produces sellable assets for a niche.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Product, error)
}

// CommercePublisher lists a product on a storefront.
type CommercePublisher interface {
	Publish(ctx context.Context, product Product) (*Listing, error)
}

// AdLauncher starts a paid campaign for a listing.
type AdLauncher interface {
	Launch(ctx context.Context, req LaunchRequest) (*Campaign, error)
}

// SocialScheduler queues organic posts.
type SocialScheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) (*ScheduledPost, error)
}
