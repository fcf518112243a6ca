package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/testutil"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

const testDim = 8

func setup(t *testing.T) (*Ingestor, *testutil.MockEmbedder, vectorstore.Store, bot.Bot) {
	t.Helper()
	ctx := context.Background()

	g := testutil.NewGenkit(ctx)
	mock := testutil.NewMockEmbedder(testDim)
	embedder := mock.Register(g)

	store := vectorstore.NewMemory(log.NewNop())
	b, err := bot.New("ingest bot", bot.Settings{ChunkSize: 100, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("bot.New() error = %v", err)
	}
	if err := store.Create(ctx, b.ID, testDim, vectorstore.MetricCosine); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	return New(store, embedder, log.NewNop(), 5*time.Second), mock, store, b
}

func TestIngestIndexesChunks(t *testing.T) {
	ctx := context.Background()
	ing, _, store, b := setup(t)

	text := strings.Repeat("Sentence about shipping policies. ", 20)
	res, err := ing.Ingest(ctx, b, "doc-1", text)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", res.DocumentID)
	}
	if res.ChunksAdded == 0 || res.ChunksSkipped != 0 {
		t.Errorf("result = %+v, want added > 0 and skipped == 0", res)
	}

	n, err := store.Count(ctx, b.ID)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != res.ChunksAdded {
		t.Errorf("store holds %d chunks, result reported %d", n, res.ChunksAdded)
	}
}

func TestIngestGeneratesDocumentID(t *testing.T) {
	ing, _, _, b := setup(t)
	res, err := ing.Ingest(context.Background(), b, "", "some document content here")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.DocumentID == "" {
		t.Error("expected a generated document id")
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	ing, _, _, b := setup(t)
	for _, text := range []string{"", "   ", "\n\n\t"} {
		if _, err := ing.Ingest(context.Background(), b, "doc", text); !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("Ingest(%q) error = %v, want ErrEmptyDocument", text, err)
		}
	}
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	ing, _, store, b := setup(t)

	text := strings.Repeat("Paragraph about returns. ", 20)
	first, err := ing.Ingest(ctx, b, "doc-1", text)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	second, err := ing.Ingest(ctx, b, "doc-1", text)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if second.ChunksAdded != 0 {
		t.Errorf("re-ingest added %d chunks, want 0", second.ChunksAdded)
	}
	if second.ChunksSkipped != first.ChunksAdded {
		t.Errorf("re-ingest skipped %d, want %d", second.ChunksSkipped, first.ChunksAdded)
	}

	n, _ := store.Count(ctx, b.ID)
	if n != first.ChunksAdded {
		t.Errorf("chunk count grew on re-ingest: %d, want %d", n, first.ChunksAdded)
	}
}

func TestIngestRevertReindexes(t *testing.T) {
	ctx := context.Background()
	ing, _, store, b := setup(t)

	const v1 = "Alpha content about cats."
	const v2 = "Beta content about dogs."

	if _, err := ing.Ingest(ctx, b, "doc-1", v1); err != nil {
		t.Fatalf("Ingest(v1) error = %v", err)
	}
	if _, err := ing.Ingest(ctx, b, "doc-1", v2); err != nil {
		t.Fatalf("Ingest(v2) error = %v", err)
	}

	// Reverting to the original content must re-embed it, not get skipped
	// because the hash was seen once before the overwrite.
	res, err := ing.Ingest(ctx, b, "doc-1", v1)
	if err != nil {
		t.Fatalf("Ingest(v1 again) error = %v", err)
	}
	if res.ChunksAdded != 1 || res.ChunksSkipped != 0 {
		t.Errorf("revert result = %+v, want 1 added and 0 skipped", res)
	}

	matches, err := store.Search(ctx, b.ID, testutil.DeterministicVector(v1, testDim), 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.Content != v1 {
		t.Errorf("store serves %+v, want the reverted content", matches)
	}
}

func TestIngestWhitespaceVariantSkipped(t *testing.T) {
	ctx := context.Background()
	ing, _, _, b := setup(t)

	if _, err := ing.Ingest(ctx, b, "doc-1", "short stable content"); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	// Same content, cosmetically different whitespace: normalization makes
	// the hashes match.
	res, err := ing.Ingest(ctx, b, "doc-1", "  short   stable\tcontent \n")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.ChunksAdded != 0 || res.ChunksSkipped != 1 {
		t.Errorf("result = %+v, want 0 added and 1 skipped", res)
	}
}

func TestIngestEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	ing, mock, store, b := setup(t)

	mock.Fail(errors.New("upstream down"))
	if _, err := ing.Ingest(ctx, b, "doc-1", "content to embed"); err == nil {
		t.Fatal("expected error when embedder fails")
	}
	// Nothing indexed on failure.
	n, _ := store.Count(ctx, b.ID)
	if n != 0 {
		t.Errorf("failed ingest left %d chunks in the store", n)
	}
}

func TestIngestUnknownCollection(t *testing.T) {
	ing, _, _, b := setup(t)
	b.ID = "never-created"
	if _, err := ing.Ingest(context.Background(), b, "doc", "content"); !errors.Is(err, vectorstore.ErrUnknownCollection) {
		t.Errorf("error = %v, want ErrUnknownCollection", err)
	}
}
