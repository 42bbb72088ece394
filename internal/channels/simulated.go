package channels

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/jordanhubbard/venture/pkg/models"
)

// SimOptions configures the deterministic simulated adapters.
type SimOptions struct {
	Seed        int64
	FailureRate float64       // probability of a transient failure per call
	Latency     time.Duration // artificial work before each response
}

// Simulator implements all four collaborator contracts with pseudo-random
// responses. Every draw is derived from the seed plus the call inputs, so
// identical inputs always produce identical outputs and identical failures.
type Simulator struct {
	opts SimOptions
}

// NewSimulator creates a simulator for development and tests.
func NewSimulator(opts SimOptions) *Simulator {
	return &Simulator{opts: opts}
}

var titleShapes = []string{
	"The %s Playbook",
	"%s Starter Kit",
	"Ultimate %s Guide",
	"%s Accelerator",
	"%s Mastery Bundle",
}

// Generate produces a priced asset for the niche.
func (s *Simulator) Generate(ctx context.Context, req GenerateRequest) (*Product, error) {
	if req.Niche == "" {
		return nil, &models.PermanentAdapterError{Channel: models.ChannelContent, Err: fmt.Errorf("empty niche")}
	}
	if !req.Kind.Valid() {
		return nil, &models.PermanentAdapterError{Channel: models.ChannelContent, Err: fmt.Errorf("unknown asset kind %q", req.Kind)}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	r := s.rng("content", req.Niche, string(req.Kind))
	if r.Float64() < s.opts.FailureRate {
		return nil, &models.TransientAdapterError{Channel: models.ChannelContent, Err: fmt.Errorf("content backend unavailable")}
	}

	price := req.PriceHint
	if price <= 0 {
		price = float64(15 + r.Intn(83))
	}
	title := fmt.Sprintf(titleShapes[r.Intn(len(titleShapes))], titleCase(req.Niche))

	return &Product{
		ID:          fmt.Sprintf("sim-prod-%08x", r.Uint32()),
		Title:       title,
		Description: fmt.Sprintf("Professional %s for %s businesses", title, req.Niche),
		Price:       price,
		Kind:        req.Kind,
		Niche:       req.Niche,
	}, nil
}

// Publish lists the product and reports any immediate sales.
func (s *Simulator) Publish(ctx context.Context, product Product) (*Listing, error) {
	if product.Title == "" || product.Price <= 0 {
		return nil, &models.PermanentAdapterError{Channel: models.ChannelCommerce, Err: fmt.Errorf("invalid product %q", product.Title)}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	r := s.rng("commerce", product.Title, fmt.Sprintf("%.2f", product.Price))
	if r.Float64() < s.opts.FailureRate {
		return nil, &models.TransientAdapterError{Channel: models.ChannelCommerce, Err: fmt.Errorf("storefront timeout")}
	}

	listingID := fmt.Sprintf("sim-list-%08x", r.Uint32())
	units := r.Intn(4)
	return &Listing{
		ListingID: listingID,
		URL:       fmt.Sprintf("https://shop.sim.local/%s", listingID),
		Status:    "published",
		Units:     units,
		Revenue:   float64(units) * product.Price,
	}, nil
}

// Launch starts a campaign; spend and attributed revenue are drawn around
// the requested budget.
func (s *Simulator) Launch(ctx context.Context, req LaunchRequest) (*Campaign, error) {
	if req.Budget <= 0 {
		return nil, &models.PermanentAdapterError{Channel: models.ChannelAds, Err: fmt.Errorf("budget must be positive, got %.2f", req.Budget)}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	r := s.rng("ads", req.Creative, fmt.Sprintf("%.2f", req.Budget))
	if r.Float64() < s.opts.FailureRate {
		return nil, &models.TransientAdapterError{Channel: models.ChannelAds, Err: fmt.Errorf("ad platform throttled")}
	}

	spend := req.Budget * (0.6 + 0.4*r.Float64())
	return &Campaign{
		CampaignID:        fmt.Sprintf("sim-camp-%08x", r.Uint32()),
		Status:            "active",
		Spend:             spend,
		AttributedRevenue: spend * 2 * r.Float64(),
	}, nil
}

// Schedule queues a post and estimates its reach.
func (s *Simulator) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduledPost, error) {
	if req.Content == "" {
		return nil, &models.PermanentAdapterError{Channel: models.ChannelSocial, Err: fmt.Errorf("empty post content")}
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	r := s.rng("social", req.Content)
	if r.Float64() < s.opts.FailureRate {
		return nil, &models.TransientAdapterError{Channel: models.ChannelSocial, Err: fmt.Errorf("social API rate limited")}
	}

	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	return &ScheduledPost{
		PostID:      fmt.Sprintf("sim-post-%08x", r.Uint32()),
		Status:      "scheduled",
		Reach:       500 + r.Intn(4501),
		ScheduledAt: at,
	}, nil
}

// wait simulates adapter latency while honoring cancellation.
func (s *Simulator) wait(ctx context.Context) error {
	if s.opts.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.Latency):
		return nil
	}
}

// rng derives a generator from the seed and the call inputs. Identical
// inputs replay the identical sequence.
func (s *Simulator) rng(parts ...string) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", s.opts.Seed)
	for _, p := range parts {
		h.Write([]byte{'|'})
		h.Write([]byte(p))
	}
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	out := []rune(s)
	if out[0] >= 'a' && out[0] <= 'z' {
		out[0] = out[0] - 'a' + 'A'
	}
	return string(out)
}
