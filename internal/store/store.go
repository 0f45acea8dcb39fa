package store

import "time"

// Store abstracts persistence for tracked products, their price history, and
// the deeplink cache.
type Store interface {
	// Products
	GetProduct(productID int64) (*Product, error)
	UpsertProduct(p *Product) error

	// Price history
	HistoryPoints(productID int64) ([]PricePoint, error)
	HistoryPointForDay(productID int64, day string) (*PricePoint, error)
	InsertHistoryPoint(productID, price int64, day string, at time.Time) error
	UpdateHistoryPointPrice(id, price int64) error
	PurgeHistoryBefore(cutoff time.Time) (int64, error)

	// Deeplink cache
	GetDeeplink(productID int64) (*Deeplink, error)
	UpsertDeeplink(d *Deeplink) error

	Close() error
}

// Product is one tracked catalog listing. Prices are integer KRW.
type Product struct {
	ProductID      int64
	Name           string
	Image          string
	URL            string
	Price          int64
	LowestPrice    int64
	HighestPrice   int64
	AveragePrice   int64
	Category       string
	IsRocket       bool
	IsFreeShipping bool
	UpdatedAt      time.Time
}

// PricePoint is one persisted price observation. Day is the local calendar
// date (yyyy-mm-dd); at most one point exists per product per day.
type PricePoint struct {
	ID        int64
	ProductID int64
	Price     int64
	Day       string
	CreatedAt time.Time
}

// Deeplink is a cached monetized link. Never served past ExpiresAt.
type Deeplink struct {
	ProductID   int64
	OriginalURL string
	ShortenURL  string
	LandingURL  string
	ExpiresAt   time.Time
}
