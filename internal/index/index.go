// Package index maintains an in-memory full-text index over published
// listings, backing the keyword search strategy.
package index

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve"

	"github.com/pazarglobal/assistant/internal/store"
)

// Hit is a keyword match with a score normalized to [0,1] within the result set.
type Hit struct {
	ID    string
	Score float64
}

type listingDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Index wraps a memory-only bleve index. bleve handles its own locking.
type Index struct {
	idx bleve.Index
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Backfill indexes the given listings, typically the recent set at startup.
func (i *Index) Backfill(listings []store.Listing) error {
	batch := i.idx.NewBatch()
	for _, l := range listings {
		if err := batch.Index(l.ID, listingDoc{Title: l.Title, Description: l.Description, Category: l.Category}); err != nil {
			return err
		}
	}
	return i.idx.Batch(batch)
}

func (i *Index) Add(l store.Listing) error {
	return i.idx.Index(l.ID, listingDoc{Title: l.Title, Description: l.Description, Category: l.Category})
}

func (i *Index) Remove(id string) error {
	return i.idx.Delete(id)
}

// Search runs a match query over title/description/category and returns hits
// with scores normalized against the best match.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		score := h.Score
		if res.MaxScore > 0 {
			score = h.Score / res.MaxScore
		}
		hits = append(hits, Hit{ID: h.ID, Score: score})
	}
	return hits, nil
}
