package chat

import (
	"context"
	"testing"
	"time"

	"github.com/pazarglobal/assistant/internal/index"
	"github.com/pazarglobal/assistant/internal/store"
)

func sampleListings() []store.Listing {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return []store.Listing{
		{ID: "l1", Title: "iPhone 12 64GB", Price: 15000, Category: CategoryElectronics, CreatedAt: base},
		{ID: "l2", Title: "iPhone 13 Pro 256GB", Price: 25000, Category: CategoryElectronics, CreatedAt: base.Add(time.Hour)},
		{ID: "l3", Title: "Koltuk takımı", Price: 8000, Category: CategoryHomeGarden, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "l4", Title: "iPhone 11 kılıf", Price: 150, Category: CategoryElectronics, CreatedAt: base.Add(3 * time.Hour)},
	}
}

func TestParseQueryPriceCeiling(t *testing.T) {
	q := ParseQuery("20000 TL altında iPhone")
	if q.MaxPrice == nil || *q.MaxPrice != 20000 {
		t.Fatalf("MaxPrice = %v, want 20000", q.MaxPrice)
	}
	if q.MinPrice != nil {
		t.Fatalf("MinPrice = %v, want nil", *q.MinPrice)
	}
	if q.Category != CategoryElectronics {
		t.Errorf("Category = %q, want elektronik", q.Category)
	}
	if q.Keywords != "iphone" {
		t.Errorf("Keywords = %q, want %q", q.Keywords, "iphone")
	}
}

func TestParseQueryPriceFloor(t *testing.T) {
	q := ParseQuery("5000 üzeri koltuk")
	if q.MinPrice == nil || *q.MinPrice != 5000 {
		t.Fatalf("MinPrice = %v, want 5000", q.MinPrice)
	}
	if q.MaxPrice != nil {
		t.Fatalf("MaxPrice should be nil")
	}
}

func TestParseQueryKeepsModelNumbers(t *testing.T) {
	q := ParseQuery("iphone 13 pro")
	if q.Keywords != "iphone 13 pro" {
		t.Errorf("Keywords = %q, model numbers must survive", q.Keywords)
	}
}

func newTestSearcher(listings *fakeListings, idx *fakeIndex, timeout time.Duration) *Searcher {
	return NewSearcher([]Strategy{
		NewCategoryStrategy(listings),
		NewPriceStrategy(listings),
		NewKeywordStrategy(idx, listings),
	}, timeout, testLogger(), nil)
}

func TestSearchMergesAndRanks(t *testing.T) {
	listings := &fakeListings{listings: sampleListings()}
	idx := &fakeIndex{hits: []index.Hit{{ID: "l2", Score: 1.0}, {ID: "l1", Score: 0.8}}}
	s := newTestSearcher(listings, idx, time.Second)

	max := int64(20000)
	res, err := s.Search(context.Background(), Query{Keywords: "iphone", Category: CategoryElectronics, MaxPrice: &max})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Partial {
		t.Fatalf("unexpected partial result")
	}

	seen := map[string]ScoredListing{}
	for _, l := range res.Listings {
		if _, dup := seen[l.ID]; dup {
			t.Fatalf("listing %s appears twice", l.ID)
		}
		seen[l.ID] = l
	}

	// l2 was found by category and keyword; keyword score 1.0 must win and
	// both sources must be recorded.
	l2, ok := seen["l2"]
	if !ok {
		t.Fatalf("l2 missing from results")
	}
	if l2.Score != 1.0 {
		t.Errorf("l2 score = %f, want max of contributing strategies", l2.Score)
	}
	if len(l2.Sources) < 2 {
		t.Errorf("l2 sources = %v, want category + keyword", l2.Sources)
	}
	if res.Listings[0].ID != "l2" {
		t.Errorf("top result = %s, want l2", res.Listings[0].ID)
	}
}

func TestSearchEqualScoresOrderByRecency(t *testing.T) {
	listings := &fakeListings{listings: sampleListings()}
	s := NewSearcher([]Strategy{NewCategoryStrategy(listings)}, time.Second, testLogger(), nil)

	res, err := s.Search(context.Background(), Query{Category: CategoryElectronics})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// All category hits share the same score; newest first breaks the tie.
	want := []string{"l4", "l2", "l1"}
	if len(res.Listings) != len(want) {
		t.Fatalf("got %d results, want %d", len(res.Listings), len(want))
	}
	for i, id := range want {
		if res.Listings[i].ID != id {
			t.Errorf("rank %d = %s, want %s", i, res.Listings[i].ID, id)
		}
	}
}

func TestMergeCandidatesIdempotent(t *testing.T) {
	ls := sampleListings()
	category := []ScoredListing{
		{Listing: ls[0], Score: categoryStrategyScore, Sources: []string{"category"}},
		{Listing: ls[1], Score: categoryStrategyScore, Sources: []string{"category"}},
	}
	keyword := []ScoredListing{
		{Listing: ls[1], Score: 1.0, Sources: []string{"keyword"}},
		{Listing: ls[0], Score: 0.8, Sources: []string{"keyword"}},
	}

	once := MergeCandidates(append(append([]ScoredListing{}, category...), keyword...))
	// Feeding the same strategy outputs in again must not change ranks,
	// scores, or sources.
	twice := MergeCandidates(append(append(append(append([]ScoredListing{}, category...), keyword...), category...), keyword...))

	if len(once) != len(twice) {
		t.Fatalf("merge sizes differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("rank %d = %s vs %s", i, once[i].ID, twice[i].ID)
		}
		if once[i].Score != twice[i].Score {
			t.Errorf("%s score = %f vs %f", once[i].ID, once[i].Score, twice[i].Score)
		}
		if len(once[i].Sources) != len(twice[i].Sources) {
			t.Errorf("%s sources = %v vs %v", once[i].ID, once[i].Sources, twice[i].Sources)
		}
	}
	if once[0].ID != "l2" || once[0].Score != 1.0 {
		t.Errorf("top = %s (%f), want l2 at keyword score", once[0].ID, once[0].Score)
	}
}

func TestSearchPartialOnSlowStrategy(t *testing.T) {
	// The shared listings store answers instantly for category/price, but the
	// keyword index never responds inside the deadline.
	listings := &fakeListings{listings: sampleListings()}
	slowIdx := &slowIndex{}
	s := NewSearcher([]Strategy{
		NewCategoryStrategy(listings),
		NewKeywordStrategy(slowIdx, listings),
	}, 50*time.Millisecond, testLogger(), nil)

	res, err := s.Search(context.Background(), Query{Keywords: "iphone", Category: CategoryElectronics})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Partial {
		t.Fatalf("result must be marked partial when a strategy is dropped")
	}
	if len(res.Listings) == 0 {
		t.Fatalf("surviving strategies must still contribute results")
	}
}

func TestSearchNoStrategiesFails(t *testing.T) {
	s := NewSearcher(nil, time.Second, testLogger(), nil)
	if _, err := s.Search(context.Background(), Query{Keywords: "iphone"}); err == nil {
		t.Fatalf("expected error with no strategies configured")
	}
}

// slowIndex blocks until the context deadline.
type slowIndex struct{}

func (s *slowIndex) Search(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
