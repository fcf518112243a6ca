// Package ingest turns raw document text into embedded chunks in a bot's
// collection.
//
// Ingestion is idempotent: each chunk is identified by the sha256 of its
// normalized content, and chunks whose hash already exists for the document
// are skipped without re-embedding. Re-submitting an unchanged document is
// therefore cheap and safe.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/chunk"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// ErrEmptyDocument indicates the submitted text contains no content after
// whitespace normalization.
var ErrEmptyDocument = errors.New("document is empty")

// Result summarizes one ingestion run.
type Result struct {
	DocumentID    string `json:"document_id"`
	ChunksAdded   int    `json:"chunks_added"`
	ChunksSkipped int    `json:"chunks_skipped"`
}

// Ingestor writes documents into the vector store.
type Ingestor struct {
	store        vectorstore.Store
	embedder     ai.Embedder
	logger       log.Logger
	embedTimeout time.Duration
}

// New creates an ingestor. embedTimeout bounds each embedding call; zero
// means 30 seconds.
func New(store vectorstore.Store, embedder ai.Embedder, logger log.Logger, embedTimeout time.Duration) *Ingestor {
	if logger == nil {
		logger = log.NewNop()
	}
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	return &Ingestor{
		store:        store,
		embedder:     embedder,
		logger:       logger,
		embedTimeout: embedTimeout,
	}
}

// Ingest chunks, embeds, and indexes a document for the bot. An empty
// documentID gets a generated one; re-using a documentID updates that
// document in place.
func (in *Ingestor) Ingest(ctx context.Context, b bot.Bot, documentID, text string) (Result, error) {
	if documentID == "" {
		documentID = uuid.NewString()
	}
	res := Result{DocumentID: documentID}

	splitter := chunk.NewSplitter(b.Settings.ChunkSize, b.Settings.ChunkOverlap)
	pieces := splitter.Split(text)
	if len(pieces) == 0 {
		return res, ErrEmptyDocument
	}

	// Partition into new and already-indexed chunks before embedding, so
	// unchanged content costs no embedder calls.
	var fresh []pending
	for i, content := range pieces {
		hash := contentHash(content)
		seen, err := in.store.HasHash(ctx, b.ID, documentID, hash)
		if err != nil {
			return res, fmt.Errorf("checking chunk hash: %w", err)
		}
		if seen {
			res.ChunksSkipped++
			continue
		}
		fresh = append(fresh, pending{position: i, content: content, hash: hash})
	}
	if len(fresh) == 0 {
		in.logger.Info("document unchanged, nothing to ingest",
			"bot_id", b.ID, "document_id", documentID, "chunks_skipped", res.ChunksSkipped)
		return res, nil
	}

	vectors, err := in.embed(ctx, fresh)
	if err != nil {
		return res, err
	}

	chunks := make([]vectorstore.Chunk, len(fresh))
	for i, p := range fresh {
		chunks[i] = vectorstore.Chunk{
			ID:          fmt.Sprintf("%s:%d", documentID, p.position),
			BotID:       b.ID,
			DocumentID:  documentID,
			Position:    p.position,
			Content:     p.content,
			ContentHash: p.hash,
			Embedding:   vectors[i],
		}
	}
	if err := in.store.Upsert(ctx, b.ID, chunks); err != nil {
		return res, fmt.Errorf("indexing chunks: %w", err)
	}

	res.ChunksAdded = len(chunks)
	in.logger.Info("document ingested",
		"bot_id", b.ID, "document_id", documentID,
		"chunks_added", res.ChunksAdded, "chunks_skipped", res.ChunksSkipped)
	return res, nil
}

// pending is a chunk awaiting embedding.
type pending struct {
	position int
	content  string
	hash     string
}

func (in *Ingestor) embed(ctx context.Context, fresh []pending) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, in.embedTimeout)
	defer cancel()

	docs := make([]*ai.Document, len(fresh))
	for i, p := range fresh {
		docs[i] = ai.DocumentFromText(p.content, nil)
	}
	resp, err := in.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(docs), err)
	}
	if len(resp.Embeddings) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(resp.Embeddings), len(docs))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// contentHash is the sha256 hex of the normalized chunk text.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
