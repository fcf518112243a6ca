package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/testutil"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// TestPostgresStore exercises the pgvector-backed Store against a throwaway
// container. The contract mirrors the in-memory store's tests; both
// implementations must agree.
func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	store := vectorstore.NewPostgres(tdb.Pool, log.NewNop())

	t.Run("create idempotent", func(t *testing.T) {
		if err := store.Create(ctx, "bot-a", 3, vectorstore.MetricCosine); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := store.Create(ctx, "bot-a", 3, vectorstore.MetricCosine); err != nil {
			t.Errorf("identical re-create error = %v", err)
		}
		if err := store.Create(ctx, "bot-a", 5, vectorstore.MetricCosine); !errors.Is(err, vectorstore.ErrCollectionExists) {
			t.Errorf("differing dim error = %v, want ErrCollectionExists", err)
		}
	})

	t.Run("unknown collection", func(t *testing.T) {
		if _, err := store.Search(ctx, "ghost", []float32{1, 0, 0}, 5); !errors.Is(err, vectorstore.ErrUnknownCollection) {
			t.Errorf("Search(ghost) error = %v, want ErrUnknownCollection", err)
		}
	})

	t.Run("upsert search ordering", func(t *testing.T) {
		chunks := []vectorstore.Chunk{
			{ID: "b:0", DocumentID: "b", Position: 0, Content: "b0", ContentHash: "hb0", Embedding: []float32{1, 0, 0}},
			{ID: "a:0", DocumentID: "a", Position: 0, Content: "a0", ContentHash: "ha0", Embedding: []float32{1, 0, 0}},
			{ID: "c:0", DocumentID: "c", Position: 0, Content: "c0", ContentHash: "hc0", Embedding: []float32{0, 1, 0}},
		}
		if err := store.Upsert(ctx, "bot-a", chunks); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		matches, err := store.Search(ctx, "bot-a", []float32{1, 0, 0}, 3)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		want := []string{"a:0", "b:0", "c:0"}
		if len(matches) != len(want) {
			t.Fatalf("got %d matches, want %d", len(matches), len(want))
		}
		for i, id := range want {
			if matches[i].Chunk.ID != id {
				t.Errorf("matches[%d].ID = %q, want %q", i, matches[i].Chunk.ID, id)
			}
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := store.Upsert(ctx, "bot-a", []vectorstore.Chunk{
			{ID: "x:0", DocumentID: "x", Content: "x", ContentHash: "hx", Embedding: []float32{1, 0}},
		})
		if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
			t.Errorf("Upsert wrong dim error = %v, want ErrDimensionMismatch", err)
		}
		if _, err := store.Search(ctx, "bot-a", []float32{1, 0}, 5); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
			t.Errorf("Search wrong dim error = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("isolation", func(t *testing.T) {
		if err := store.Create(ctx, "bot-b", 3, vectorstore.MetricCosine); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		matches, err := store.Search(ctx, "bot-b", []float32{1, 0, 0}, 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("empty bot-b saw %d chunks from bot-a", len(matches))
		}
	})

	t.Run("has hash", func(t *testing.T) {
		ok, err := store.HasHash(ctx, "bot-a", "a", "ha0")
		if err != nil || !ok {
			t.Errorf("HasHash(existing) = %v, %v; want true", ok, err)
		}
		ok, err = store.HasHash(ctx, "bot-a", "other", "ha0")
		if err != nil || ok {
			t.Errorf("HasHash is per document; got %v, %v", ok, err)
		}
	})

	t.Run("delete document tombstones", func(t *testing.T) {
		removed, err := store.DeleteDocument(ctx, "bot-a", "b")
		if err != nil {
			t.Fatalf("DeleteDocument() error = %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		matches, _ := store.Search(ctx, "bot-a", []float32{1, 0, 0}, 10)
		for _, m := range matches {
			if m.Chunk.DocumentID == "b" {
				t.Errorf("deleted chunk %q still searchable", m.Chunk.ID)
			}
		}
		n, _ := store.Count(ctx, "bot-a")
		if n != 2 {
			t.Errorf("count after delete = %d, want 2", n)
		}
	})

	t.Run("euclidean scores normalized", func(t *testing.T) {
		if err := store.Create(ctx, "bot-e", 2, vectorstore.MetricEuclidean); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		var chunks []vectorstore.Chunk
		for i, v := range [][]float32{{1, 0}, {5, 0}} {
			chunks = append(chunks, vectorstore.Chunk{
				ID:          fmt.Sprintf("d:%d", i),
				DocumentID:  "d",
				Position:    i,
				Content:     fmt.Sprintf("c%d", i),
				ContentHash: fmt.Sprintf("h%d", i),
				Embedding:   v,
			})
		}
		if err := store.Upsert(ctx, "bot-e", chunks); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		matches, err := store.Search(ctx, "bot-e", []float32{1, 0}, 2)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if matches[0].Chunk.ID != "d:0" {
			t.Errorf("nearest ranked %q first, want d:0", matches[0].Chunk.ID)
		}
		for _, m := range matches {
			if m.Score <= 0 || m.Score > 1 {
				t.Errorf("euclidean score %v outside (0, 1]", m.Score)
			}
		}
	})
}
