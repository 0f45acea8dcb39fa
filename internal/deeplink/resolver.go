// Package deeplink resolves product references into monetized outbound
// links, caching generated links in the store so a still-valid link never
// costs another upstream call.
package deeplink

import (
	"context"
	"log"
	"time"

	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

// CacheTTL is deliberately half the upstream's 24h link validity so an
// expired cache entry is regenerated well before the link itself can die.
const CacheTTL = 12 * time.Hour

// Linker is the slice of the upstream client the resolver needs.
type Linker interface {
	CreateDeeplink(ctx context.Context, productURL string) (upstream.Deeplink, error)
}

// Link is what the resolver hands back. It is always usable: on any upstream
// failure every field falls back to the original product URL.
type Link struct {
	OriginalURL string `json:"originalUrl"`
	ShortenURL  string `json:"shortenUrl"`
	LandingURL  string `json:"landingUrl"`
	Cached      bool   `json:"cached"`
	// Fallback marks an unmonetized link served because generation failed.
	Fallback bool `json:"-"`
}

// Resolver serves links from the persistent cache, regenerating on expiry.
type Resolver struct {
	store  store.Store
	linker Linker
	ttl    time.Duration
	now    func() time.Time
}

func New(s store.Store, l Linker) *Resolver {
	return &Resolver{store: s, linker: l, ttl: CacheTTL, now: time.Now}
}

// Resolve returns a monetized link for the product, or the plain product URL
// when the upstream is unavailable. It never returns an error: a broken
// outbound link is worse than an un-monetized one.
func (r *Resolver) Resolve(ctx context.Context, productID int64, productURL string) Link {
	// URL-only requests have no product reference to key the cache on.
	if productID != 0 {
		cached, err := r.store.GetDeeplink(productID)
		if err != nil {
			// Cache trouble must not block resolution.
			log.Printf("deeplink: cache read for %d: %v", productID, err)
		}
		if cached != nil && r.now().Before(cached.ExpiresAt) {
			return Link{
				OriginalURL: cached.OriginalURL,
				ShortenURL:  cached.ShortenURL,
				LandingURL:  cached.LandingURL,
				Cached:      true,
			}
		}
	}

	generated, err := r.linker.CreateDeeplink(ctx, productURL)
	if err != nil {
		log.Printf("deeplink: generate for %d: %v, falling back to original url", productID, err)
		return Link{
			OriginalURL: productURL,
			ShortenURL:  productURL,
			LandingURL:  productURL,
			Fallback:    true,
		}
	}

	if productID != 0 {
		entry := &store.Deeplink{
			ProductID:   productID,
			OriginalURL: generated.OriginalURL,
			ShortenURL:  generated.ShortenURL,
			LandingURL:  generated.LandingURL,
			ExpiresAt:   r.now().Add(r.ttl),
		}
		if err := r.store.UpsertDeeplink(entry); err != nil {
			log.Printf("deeplink: cache write for %d: %v", productID, err)
		}
	}

	return Link{
		OriginalURL: generated.OriginalURL,
		ShortenURL:  generated.ShortenURL,
		LandingURL:  generated.LandingURL,
	}
}
