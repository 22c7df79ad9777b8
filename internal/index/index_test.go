package index

import (
	"context"
	"testing"

	"github.com/pazarglobal/assistant/internal/store"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return idx
}

func TestBackfillAndSearch(t *testing.T) {
	idx := testIndex(t)
	err := idx.Backfill([]store.Listing{
		{ID: "l1", Title: "iPhone 13 Pro 256GB", Description: "Temiz kullanılmış telefon", Category: "elektronik"},
		{ID: "l2", Title: "Koltuk takımı", Description: "Üçlü koltuk", Category: "ev-bahce"},
	})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	hits, err := idx.Search(context.Background(), "iphone", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "l1" {
		t.Fatalf("hits = %+v, want only l1", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("score = %f, want normalized to (0,1]", hits[0].Score)
	}
}

func TestAddAndRemove(t *testing.T) {
	idx := testIndex(t)
	if err := idx.Add(store.Listing{ID: "l1", Title: "Dağ bisikleti", Category: "diger"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hits, err := idx.Search(context.Background(), "bisikleti", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v, want 1", hits)
	}

	if err := idx.Remove("l1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	hits, err = idx.Search(context.Background(), "bisikleti", 10)
	if err != nil {
		t.Fatalf("Search after remove: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want none after removal", hits)
	}
}

func TestSearchNoMatch(t *testing.T) {
	idx := testIndex(t)
	hits, err := idx.Search(context.Background(), "yok", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want none on empty index", hits)
	}
}
