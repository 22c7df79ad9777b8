package chat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pazarglobal/assistant/internal/store"
	"github.com/pazarglobal/assistant/internal/telemetry"
)

// Query is the structured form of a search message.
type Query struct {
	Keywords string
	Category string
	MinPrice *int64
	MaxPrice *int64
}

// ScoredListing is one ranked search result with the strategies that found it.
type ScoredListing struct {
	store.Listing
	Score   float64  `json:"score"`
	Sources []string `json:"sources"`
}

// Result is the merged output of the strategy fan-out. Partial is set when at
// least one strategy was dropped on timeout.
type Result struct {
	Listings []ScoredListing
	Partial  bool
}

// Strategy is one independent way of finding candidate listings.
type Strategy interface {
	Name() string
	Search(ctx context.Context, q Query) ([]ScoredListing, error)
}

// Words that bind the following (or preceding) amount as a price ceiling.
var maxPriceMarkers = []string{"altında", "altinda", "en fazla", "max", "maksimum", "under"}

// Words that bind the amount as a price floor.
var minPriceMarkers = []string{"üzeri", "uzeri", "üstünde", "ustunde", "en az", "minimum", "over"}

// ParseQuery lifts price bounds and a category out of the free-text message;
// the remainder becomes the keyword terms.
func ParseQuery(message string) Query {
	var q Query
	lower := strings.ToLower(message)

	if amount, ok := firstAmount(lower); ok {
		for _, marker := range maxPriceMarkers {
			if strings.Contains(lower, marker) {
				q.MaxPrice = &amount
				break
			}
		}
		if q.MaxPrice == nil {
			for _, marker := range minPriceMarkers {
				if strings.Contains(lower, marker) {
					q.MinPrice = &amount
					break
				}
			}
		}
	}

	var keywords []string
	for _, word := range strings.Fields(lower) {
		trimmed := strings.Trim(word, ".,!?")
		if bucket, ok := categorySynonyms[trimmed]; ok && q.Category == "" {
			q.Category = bucket
		}
		if isSearchStopword(trimmed) {
			continue
		}
		// Drop amount tokens that became a price bound, but keep small
		// numbers: "iphone 13" is a model, not a price.
		if n, ok := NormalizePrice(trimmed); ok && n >= 100 {
			continue
		}
		keywords = append(keywords, trimmed)
	}
	q.Keywords = strings.Join(keywords, " ")
	return q
}

var searchStopwords = map[string]struct{}{
	"tl": {}, "try": {}, "lira": {}, "₺": {},
	"altında": {}, "altinda": {}, "üzeri": {}, "uzeri": {}, "üstünde": {}, "ustunde": {},
	"en": {}, "fazla": {}, "az": {}, "bir": {}, "ve": {},
	"arıyorum": {}, "ariyorum": {}, "bul": {}, "ara": {}, "bakıyorum": {}, "bakiyorum": {},
	"istiyorum": {}, "var": {}, "mı": {}, "mi": {}, "satılık": {}, "satilik": {},
}

func isSearchStopword(w string) bool {
	_, ok := searchStopwords[w]
	return ok
}

// Searcher fans a query out to every strategy concurrently and merges the
// candidate sets into one ranked result.
type Searcher struct {
	strategies []Strategy
	timeout    time.Duration
	logger     *log.Logger
	tele       *telemetry.Telemetry
}

func NewSearcher(strategies []Strategy, timeout time.Duration, logger *log.Logger, tele *telemetry.Telemetry) *Searcher {
	return &Searcher{strategies: strategies, timeout: timeout, logger: logger, tele: tele}
}

// Search runs every strategy with its own deadline. A strategy that times out
// or fails contributes nothing and marks the result partial; the search as a
// whole fails only on an empty strategy set.
func (s *Searcher) Search(ctx context.Context, q Query) (Result, error) {
	if len(s.strategies) == 0 {
		return Result{}, fmt.Errorf("no search strategies configured")
	}
	start := time.Now()
	if s.tele != nil {
		s.tele.SearchRequests.Inc()
	}

	type outcome struct {
		name       string
		candidates []ScoredListing
		err        error
	}
	outcomes := make([]outcome, len(s.strategies))

	var wg sync.WaitGroup
	for i, strat := range s.strategies {
		i, strat := i, strat
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			candidates, err := strat.Search(sctx, q)
			outcomes[i] = outcome{name: strat.Name(), candidates: candidates, err: err}
		}()
	}
	wg.Wait()

	partial := false
	var all []ScoredListing
	for _, o := range outcomes {
		if o.err != nil {
			partial = true
			s.logger.Printf("search strategy %s dropped: %v", o.name, o.err)
			continue
		}
		all = append(all, o.candidates...)
	}
	if partial && s.tele != nil {
		s.tele.SearchPartials.Inc()
	}
	if s.tele != nil {
		s.tele.SearchDuration.Observe(time.Since(start).Seconds())
	}
	return Result{Listings: MergeCandidates(all), Partial: partial}, nil
}

// MergeCandidates deduplicates by listing ID, keeping the highest score and
// the union of contributing strategies, then ranks the survivors.
func MergeCandidates(candidates []ScoredListing) []ScoredListing {
	byID := make(map[string]*ScoredListing)
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		existing, ok := byID[c.ID]
		if !ok {
			copied := c
			byID[c.ID] = &copied
			order = append(order, c.ID)
			continue
		}
		if c.Score > existing.Score {
			existing.Score = c.Score
		}
		existing.Sources = append(existing.Sources, c.Sources...)
	}

	merged := make([]ScoredListing, 0, len(order))
	for _, id := range order {
		sl := byID[id]
		sl.Sources = dedupeStrings(sl.Sources)
		merged = append(merged, *sl)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Strategies

const (
	categoryStrategyScore = 0.7
	priceStrategyScore    = 0.6
	strategyLimit         = 20
)

// CategoryStrategy matches listings in the query's category.
type CategoryStrategy struct {
	listings ListingStore
}

func NewCategoryStrategy(listings ListingStore) *CategoryStrategy {
	return &CategoryStrategy{listings: listings}
}

func (s *CategoryStrategy) Name() string { return "category" }

func (s *CategoryStrategy) Search(ctx context.Context, q Query) ([]ScoredListing, error) {
	if q.Category == "" {
		return nil, nil
	}
	ls, err := s.listings.SearchListings(ctx, store.SearchFilter{Category: q.Category, Limit: strategyLimit})
	if err != nil {
		return nil, err
	}
	return scoreAll(ls, categoryStrategyScore, s.Name()), nil
}

// PriceStrategy matches listings inside the query's price bounds.
type PriceStrategy struct {
	listings ListingStore
}

func NewPriceStrategy(listings ListingStore) *PriceStrategy {
	return &PriceStrategy{listings: listings}
}

func (s *PriceStrategy) Name() string { return "price" }

func (s *PriceStrategy) Search(ctx context.Context, q Query) ([]ScoredListing, error) {
	if q.MinPrice == nil && q.MaxPrice == nil {
		return nil, nil
	}
	ls, err := s.listings.SearchListings(ctx, store.SearchFilter{MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, Limit: strategyLimit})
	if err != nil {
		return nil, err
	}
	return scoreAll(ls, priceStrategyScore, s.Name()), nil
}

// KeywordStrategy resolves full-text hits from the index back to listings.
type KeywordStrategy struct {
	index    KeywordIndex
	listings ListingStore
}

func NewKeywordStrategy(idx KeywordIndex, listings ListingStore) *KeywordStrategy {
	return &KeywordStrategy{index: idx, listings: listings}
}

func (s *KeywordStrategy) Name() string { return "keyword" }

func (s *KeywordStrategy) Search(ctx context.Context, q Query) ([]ScoredListing, error) {
	if strings.TrimSpace(q.Keywords) == "" {
		return nil, nil
	}
	hits, err := s.index.Search(ctx, q.Keywords, strategyLimit)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredListing, 0, len(hits))
	for _, hit := range hits {
		l, err := s.listings.GetListing(ctx, hit.ID)
		if err != nil {
			// Index entry for a listing that no longer exists.
			continue
		}
		out = append(out, ScoredListing{Listing: l, Score: hit.Score, Sources: []string{s.Name()}})
	}
	return out, nil
}

func scoreAll(ls []store.Listing, score float64, source string) []ScoredListing {
	out := make([]ScoredListing, 0, len(ls))
	for _, l := range ls {
		out = append(out, ScoredListing{Listing: l, Score: score, Sources: []string{source}})
	}
	return out
}
