package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

// dayOf returns the local calendar date; history dedup works on local
// midnight boundaries.
func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// upsertObservation folds one upstream listing into the store: create the
// product on first sighting, keep at most one history point per day, and
// recompute the running price statistics.
func upsertObservation(s store.Store, item upstream.Product, now time.Time) error {
	existing, err := s.GetProduct(item.ProductID)
	if err != nil {
		return fmt.Errorf("product %d: lookup: %w", item.ProductID, err)
	}

	if existing == nil {
		p := &store.Product{
			ProductID:      item.ProductID,
			Name:           item.ProductName,
			Image:          item.ProductImage,
			URL:            item.ProductURL,
			Price:          item.ProductPrice,
			LowestPrice:    item.ProductPrice,
			HighestPrice:   item.ProductPrice,
			AveragePrice:   item.ProductPrice,
			Category:       item.CategoryName,
			IsRocket:       item.IsRocket,
			IsFreeShipping: item.IsFreeShipping,
			UpdatedAt:      now,
		}
		if err := s.UpsertProduct(p); err != nil {
			return fmt.Errorf("product %d: create: %w", item.ProductID, err)
		}
		if err := s.InsertHistoryPoint(item.ProductID, item.ProductPrice, dayOf(now), now); err != nil {
			return fmt.Errorf("product %d: first history point: %w", item.ProductID, err)
		}
		return nil
	}

	day := dayOf(now)
	point, err := s.HistoryPointForDay(item.ProductID, day)
	if err != nil {
		return fmt.Errorf("product %d: today's point: %w", item.ProductID, err)
	}
	switch {
	case point == nil:
		if err := s.InsertHistoryPoint(item.ProductID, item.ProductPrice, day, now); err != nil {
			return fmt.Errorf("product %d: history point: %w", item.ProductID, err)
		}
	case point.Price != item.ProductPrice:
		// Same-day price change overwrites in place, never a duplicate point.
		if err := s.UpdateHistoryPointPrice(point.ID, item.ProductPrice); err != nil {
			return fmt.Errorf("product %d: update point: %w", item.ProductID, err)
		}
	}

	points, err := s.HistoryPoints(item.ProductID)
	if err != nil {
		return fmt.Errorf("product %d: history: %w", item.ProductID, err)
	}
	lowest, highest, average := priceStats(points, item.ProductPrice)

	// Display fields track the latest observation; upstream metadata for a
	// listing changes over time.
	updated := &store.Product{
		ProductID:      item.ProductID,
		Name:           item.ProductName,
		Image:          item.ProductImage,
		URL:            item.ProductURL,
		Price:          item.ProductPrice,
		LowestPrice:    lowest,
		HighestPrice:   highest,
		AveragePrice:   average,
		Category:       item.CategoryName,
		IsRocket:       item.IsRocket,
		IsFreeShipping: item.IsFreeShipping,
		UpdatedAt:      now,
	}
	if err := s.UpsertProduct(updated); err != nil {
		return fmt.Errorf("product %d: update: %w", item.ProductID, err)
	}
	return nil
}

// priceStats computes lowest/highest/average over the retained history. The
// observed price is a fallback for an empty history; average rounds to the
// nearest won.
func priceStats(points []store.PricePoint, observed int64) (lowest, highest, average int64) {
	if len(points) == 0 {
		return observed, observed, observed
	}
	lowest, highest = points[0].Price, points[0].Price
	var sum int64
	for _, pt := range points {
		if pt.Price < lowest {
			lowest = pt.Price
		}
		if pt.Price > highest {
			highest = pt.Price
		}
		sum += pt.Price
	}
	average = int64(math.Round(float64(sum) / float64(len(points))))
	return lowest, highest, average
}
