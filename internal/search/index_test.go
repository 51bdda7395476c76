package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NeverlandYao/iknow/internal/storage/content"
	"github.com/maruel/ksid"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, needsRebuild, err := Open(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}
	if !needsRebuild {
		t.Fatal("Expected a fresh index to need a rebuild")
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func frag(id ksid.ID, title, body string, tags ...string) *content.Fragment {
	return &content.Fragment{ID: id, Title: title, Content: body, Tags: tags}
}

func TestIndexQuery(t *testing.T) {
	ix := testIndex(t)

	docs := []*content.Fragment{
		frag(1, "Banana bread recipe", "Mash three ripe bananas into the dough.", "cooking"),
		frag(2, "Birdwatching notes", "Saw a kingfisher by the river this morning.", "outdoors"),
		frag(3, "Sourdough starter", "Feed the starter twice a day.", "cooking"),
	}
	for _, d := range docs {
		if err := ix.Index(d); err != nil {
			t.Fatalf("Index() failed: %v", err)
		}
	}

	t.Run("BodyMatch", func(t *testing.T) {
		// Porter stemming folds bananas onto banana.
		hits, err := ix.Query("banana", 10)
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(hits) != 1 {
			t.Fatalf("Expected 1 hit, got %d", len(hits))
		}
		if hits[0].FragmentID != 1 {
			t.Errorf("FragmentID = %v, want 1", hits[0].FragmentID)
		}
		if hits[0].Title != "Banana bread recipe" {
			t.Errorf("Title = %q", hits[0].Title)
		}
	})

	t.Run("TagMatch", func(t *testing.T) {
		hits, err := ix.Query("cooking", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Errorf("Expected 2 hits, got %d", len(hits))
		}
	})

	t.Run("Snippet", func(t *testing.T) {
		hits, err := ix.Query("kingfisher", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 {
			t.Fatalf("Expected 1 hit, got %d", len(hits))
		}
		if want := "<mark>kingfisher</mark>"; !strings.Contains(hits[0].Snippet, want) {
			t.Errorf("Snippet = %q, want substring %q", hits[0].Snippet, want)
		}
	})

	t.Run("MultipleTermsAnd", func(t *testing.T) {
		hits, err := ix.Query("starter feed", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].FragmentID != 3 {
			t.Errorf("Expected only the sourdough note, got %v", hits)
		}
	})

	t.Run("Ranked", func(t *testing.T) {
		hits, err := ix.Query("cooking", 10)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(hits); i++ {
			if hits[i-1].Rank > hits[i].Rank {
				t.Errorf("Hits out of rank order: %v", hits)
			}
		}
	})

	t.Run("Limit", func(t *testing.T) {
		hits, err := ix.Query("cooking", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 {
			t.Errorf("Expected limit to cap hits, got %d", len(hits))
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		hits, err := ix.Query("zeppelin", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 0 {
			t.Errorf("Expected no hits, got %v", hits)
		}
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		hits, err := ix.Query("   ", 10)
		if err != nil {
			t.Fatal(err)
		}
		if hits != nil {
			t.Errorf("Expected nil hits, got %v", hits)
		}
	})

	t.Run("QuerySyntaxNeutralized", func(t *testing.T) {
		// Raw FTS5 operators must not reach the parser.
		for _, q := range []string{`"unclosed`, `banana OR`, `NEAR(`, `a*b (`} {
			if _, err := ix.Query(q, 10); err != nil {
				t.Errorf("Query(%q) failed: %v", q, err)
			}
		}
	})
}

func TestIndexUpsert(t *testing.T) {
	ix := testIndex(t)

	if err := ix.Index(frag(7, "Draft", "the original wording")); err != nil {
		t.Fatal(err)
	}
	if err := ix.Index(frag(7, "Draft", "a revised version")); err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Query("original", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("Old wording still indexed: %v", hits)
	}
	hits, err = ix.Query("revised", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].FragmentID != 7 {
		t.Errorf("Expected the revised row, got %v", hits)
	}
}

func TestIndexRemove(t *testing.T) {
	ix := testIndex(t)

	if err := ix.Index(frag(5, "Doomed", "transient content")); err != nil {
		t.Fatal(err)
	}
	if err := ix.Remove(5); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	hits, err := ix.Query("transient", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected no hits after removal, got %v", hits)
	}

	if err := ix.Remove(ksid.NewID()); err != nil {
		t.Errorf("Removing an unindexed ID should be a no-op: %v", err)
	}
}

func TestIndexRebuild(t *testing.T) {
	ix := testIndex(t)
	ctx := t.Context()

	if err := ix.Index(frag(1, "Stale", "old content")); err != nil {
		t.Fatal(err)
	}
	if err := ix.Rebuild(ctx, []*content.Fragment{
		frag(2, "Fresh", "rebuilt content"),
	}); err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	hits, err := ix.Query("old", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("Stale content survived the rebuild: %v", hits)
	}
	hits, err = ix.Query("rebuilt", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].FragmentID != 2 {
		t.Errorf("Expected the rebuilt row, got %v", hits)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := ix.Rebuild(canceled, nil); err == nil {
		t.Error("Expected error for canceled context")
	}
}

func TestIndexReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.db")

	ix, needsRebuild, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !needsRebuild {
		t.Fatal("Expected fresh index to need a rebuild")
	}
	if err := ix.Index(frag(9, "Persistent", "survives reopening")); err != nil {
		t.Fatal(err)
	}
	if err := ix.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, needsRebuild, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if needsRebuild {
		t.Error("Matching schema version must not force a rebuild")
	}
	hits, err := reopened.Query("survives", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("Expected persisted row, got %v", hits)
	}
}
