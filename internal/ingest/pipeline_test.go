package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

// mockStore implements store.Store in memory for pipeline tests.
type mockStore struct {
	mu          sync.Mutex
	products    map[int64]*store.Product
	points      []*store.PricePoint
	nextPointID int64
	deeplinks   map[int64]*store.Deeplink
	purgeCutoff time.Time

	failUpsert map[int64]bool
}

func newMockStore() *mockStore {
	return &mockStore{
		products:   make(map[int64]*store.Product),
		deeplinks:  make(map[int64]*store.Deeplink),
		failUpsert: make(map[int64]bool),
	}
}

func (s *mockStore) GetProduct(productID int64) (*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *mockStore) UpsertProduct(p *store.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert[p.ProductID] {
		return errors.New("disk full")
	}
	cp := *p
	s.products[p.ProductID] = &cp
	return nil
}

func (s *mockStore) HistoryPoints(productID int64) ([]store.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.PricePoint
	for _, pt := range s.points {
		if pt.ProductID == productID {
			out = append(out, *pt)
		}
	}
	return out, nil
}

func (s *mockStore) HistoryPointForDay(productID int64, day string) (*store.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pt := range s.points {
		if pt.ProductID == productID && pt.Day == day {
			cp := *pt
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *mockStore) InsertHistoryPoint(productID, price int64, day string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPointID++
	s.points = append(s.points, &store.PricePoint{
		ID:        s.nextPointID,
		ProductID: productID,
		Price:     price,
		Day:       day,
		CreatedAt: at,
	})
	return nil
}

func (s *mockStore) UpdateHistoryPointPrice(id, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pt := range s.points {
		if pt.ID == id {
			pt.Price = price
			return nil
		}
	}
	return errors.New("point not found")
}

func (s *mockStore) PurgeHistoryBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCutoff = cutoff
	var kept []*store.PricePoint
	var removed int64
	for _, pt := range s.points {
		if pt.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, pt)
	}
	s.points = kept
	return removed, nil
}

func (s *mockStore) GetDeeplink(productID int64) (*store.Deeplink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deeplinks[productID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *mockStore) UpsertDeeplink(d *store.Deeplink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deeplinks[d.ProductID] = &cp
	return nil
}

func (s *mockStore) Close() error { return nil }

// mockFetcher returns scripted lists per category.
type mockFetcher struct {
	goldbox    []upstream.Product
	goldboxErr error
	categories map[int64][]upstream.Product
	categoryErr map[int64]error
	goldboxGate chan struct{}
}

func (f *mockFetcher) Goldbox(context.Context) ([]upstream.Product, error) {
	if f.goldboxGate != nil {
		<-f.goldboxGate
	}
	return f.goldbox, f.goldboxErr
}

func (f *mockFetcher) BestCategory(_ context.Context, categoryID int64, _ int) ([]upstream.Product, error) {
	if err := f.categoryErr[categoryID]; err != nil {
		return nil, err
	}
	return f.categories[categoryID], nil
}

func testPipeline(s store.Store, f Fetcher, categories []int64) *Pipeline {
	p := New(s, f, Config{
		Categories:    categories,
		CategoryLimit: 20,
		Retention:     HistoryRetention,
	})
	p.sleep = func(time.Duration) {}
	return p
}

func item(id, price int64) upstream.Product {
	return upstream.Product{
		ProductID:    id,
		ProductName:  fmt.Sprintf("product %d", id),
		ProductPrice: price,
		ProductURL:   fmt.Sprintf("https://example.com/%d", id),
	}
}

func TestFirstSightingCreatesProductAndPoint(t *testing.T) {
	s := newMockStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)

	if err := upsertObservation(s, item(101, 500), now); err != nil {
		t.Fatal(err)
	}

	p, _ := s.GetProduct(101)
	if p == nil {
		t.Fatal("product not created")
	}
	if p.Price != 500 || p.LowestPrice != 500 || p.HighestPrice != 500 || p.AveragePrice != 500 {
		t.Fatalf("first sighting prices should all equal the observation: %+v", p)
	}

	points, _ := s.HistoryPoints(101)
	if len(points) != 1 || points[0].Price != 500 || points[0].Day != "2024-03-15" {
		t.Fatalf("expected exactly one history point: %+v", points)
	}
}

func TestNewDayObservationRecomputesStats(t *testing.T) {
	s := newMockStore()
	base := time.Date(2024, 3, 12, 12, 0, 0, 0, time.Local)

	// Three prior days at 100, 120, 90.
	for i, price := range []int64{100, 120, 90} {
		if err := upsertObservation(s, item(101, price), base.AddDate(0, 0, i)); err != nil {
			t.Fatal(err)
		}
	}

	// Fourth day observes 80.
	if err := upsertObservation(s, item(101, 80), base.AddDate(0, 0, 3)); err != nil {
		t.Fatal(err)
	}

	points, _ := s.HistoryPoints(101)
	if len(points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(points))
	}

	p, _ := s.GetProduct(101)
	if p.LowestPrice != 80 || p.HighestPrice != 120 {
		t.Fatalf("lowest/highest = %d/%d, want 80/120", p.LowestPrice, p.HighestPrice)
	}
	// (100+120+90+80)/4 = 97.5 rounds to 98.
	if p.AveragePrice != 98 {
		t.Fatalf("average = %d, want 98", p.AveragePrice)
	}
	if p.Price != 80 {
		t.Fatalf("current price = %d, want 80", p.Price)
	}
}

func TestSameDayReingestOverwritesPoint(t *testing.T) {
	s := newMockStore()
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.Local)

	if err := upsertObservation(s, item(101, 100), now); err != nil {
		t.Fatal(err)
	}
	if err := upsertObservation(s, item(101, 95), now.Add(4*time.Hour)); err != nil {
		t.Fatal(err)
	}

	points, _ := s.HistoryPoints(101)
	if len(points) != 1 {
		t.Fatalf("expected one point for the day, got %d", len(points))
	}
	if points[0].Price != 95 {
		t.Fatalf("point price = %d, want 95", points[0].Price)
	}

	p, _ := s.GetProduct(101)
	if p.Price != 95 || p.LowestPrice != 95 {
		t.Fatalf("product prices not updated: %+v", p)
	}
}

func TestMetadataTracksLatestObservation(t *testing.T) {
	s := newMockStore()
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.Local)

	first := item(101, 100)
	first.ProductName = "old name"
	if err := upsertObservation(s, first, now); err != nil {
		t.Fatal(err)
	}

	second := item(101, 100)
	second.ProductName = "new name [promo]"
	second.IsFreeShipping = true
	if err := upsertObservation(s, second, now.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}

	p, _ := s.GetProduct(101)
	if p.Name != "new name [promo]" || !p.IsFreeShipping {
		t.Fatalf("metadata not refreshed: %+v", p)
	}
}

func TestRunRateLimitAbortsRemainingCategories(t *testing.T) {
	s := newMockStore()
	f := &mockFetcher{
		goldbox: []upstream.Product{item(1, 100)},
		categories: map[int64][]upstream.Product{
			10: {item(11, 100), item(12, 200)},
			20: {item(21, 300)},
		},
		categoryErr: map[int64]error{
			30: &upstream.RateLimitError{Category: "general", RetryAfter: 42 * time.Second},
		},
	}
	p := testPipeline(s, f, []int64{10, 20, 30, 40, 50})

	summary := p.Run(context.Background())

	if summary.Success {
		t.Fatal("expected failed summary")
	}
	if summary.Categories != 2 {
		t.Fatalf("categories = %d, want 2", summary.Categories)
	}
	var found bool
	for _, e := range summary.Errors {
		if strings.Contains(e, "rate limit") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no rate limit error recorded: %v", summary.Errors)
	}

	// Categories 1-2 were persisted before the abort.
	for _, id := range []int64{1, 11, 12, 21} {
		if got, _ := s.GetProduct(id); got == nil {
			t.Fatalf("product %d should have been persisted", id)
		}
	}
	if summary.Items != 4 {
		t.Fatalf("items = %d, want 4", summary.Items)
	}
}

func TestRunPerItemFailureSkipsItem(t *testing.T) {
	s := newMockStore()
	s.failUpsert[2] = true
	f := &mockFetcher{
		goldbox: []upstream.Product{item(1, 100), item(2, 200), item(3, 300)},
	}
	p := testPipeline(s, f, nil)

	summary := p.Run(context.Background())

	if summary.Items != 2 {
		t.Fatalf("items = %d, want 2", summary.Items)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %v, want one entry", summary.Errors)
	}
	if summary.Success {
		t.Fatal("expected failed summary when an item was skipped")
	}
	if got, _ := s.GetProduct(3); got == nil {
		t.Fatal("item after the failure should still be persisted")
	}
}

func TestRunPurgesOldHistory(t *testing.T) {
	s := newMockStore()
	old := time.Now().Add(-31 * 24 * time.Hour)
	s.InsertHistoryPoint(101, 100, old.Format("2006-01-02"), old)
	f := &mockFetcher{}
	p := testPipeline(s, f, nil)

	summary := p.Run(context.Background())

	if !summary.Success {
		t.Fatalf("expected success, errors: %v", summary.Errors)
	}
	points, _ := s.HistoryPoints(101)
	if len(points) != 0 {
		t.Fatalf("old point not purged: %+v", points)
	}
	want := time.Now().Add(-HistoryRetention)
	if diff := s.purgeCutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("purge cutoff %v not ~30 days ago", s.purgeCutoff)
	}
}

func TestRunRefusesOverlap(t *testing.T) {
	s := newMockStore()
	gate := make(chan struct{})
	f := &mockFetcher{goldboxGate: gate}
	p := testPipeline(s, f, nil)

	done := make(chan Summary, 1)
	go func() { done <- p.Run(context.Background()) }()

	// Wait for the first run to be inside the fetch.
	for !p.running.Load() {
		time.Sleep(time.Millisecond)
	}

	second := p.Run(context.Background())
	if second.Success {
		t.Fatal("overlapping run must fail")
	}
	if len(second.Errors) == 0 || !strings.Contains(second.Errors[0], "already running") {
		t.Fatalf("expected already-running error, got %v", second.Errors)
	}

	close(gate)
	first := <-done
	if !first.Success {
		t.Fatalf("first run should succeed, errors: %v", first.Errors)
	}
}
