// Package vectorstore defines the per-bot vector index abstraction and its
// implementations.
//
// Every bot owns an isolated collection of embedded document chunks. The
// Store contract guarantees that a search scoped to one bot is never
// influenced by chunks written under another bot, and that a search issued
// after Upsert returns on the same bot observes the upserted chunks.
package vectorstore

import (
	"context"
	"errors"
)

// Metric identifies the similarity metric of a collection.
// It is fixed when the collection is created; scores produced under
// different metrics (or different bots) are not comparable.
type Metric string

const (
	// MetricCosine scores by cosine similarity. Higher is better; the
	// theoretical range is [-1, 1].
	MetricCosine Metric = "cosine"

	// MetricEuclidean scores by inverted Euclidean distance, 1/(1+d),
	// so that higher is better and the range is (0, 1].
	MetricEuclidean Metric = "euclidean"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m == MetricCosine || m == MetricEuclidean
}

// Sentinel errors for store operations. Check with errors.Is().
var (
	// ErrUnknownCollection indicates no collection exists for the bot id.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrCollectionExists indicates Create was called for a bot that already
	// has a collection with different parameters.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrDimensionMismatch indicates a vector's dimensionality does not match
	// the collection's. This is a configuration error (wrong embedder model),
	// never silently ignored.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidMetric indicates an unsupported similarity metric.
	ErrInvalidMetric = errors.New("invalid similarity metric")
)

// Chunk is one embedded slice of a source document.
// Chunks are immutable once written; re-ingesting identical content reuses
// the stored chunk via its content hash.
type Chunk struct {
	ID          string    // unique within the bot: "<document id>:<position>"
	BotID       string    // owning bot
	DocumentID  string    // source document
	Position    int       // zero-based position within the document
	Content     string    // raw chunk text
	ContentHash string    // sha256 hex of the normalized content
	Embedding   []float32 // must match the collection dimension
}

// Match is a search hit with its similarity score.
type Match struct {
	Chunk Chunk
	Score float64
}

// Store is the per-bot vector index contract.
//
// Implementations must be safe for concurrent use. Concurrent readers of a
// collection may miss a concurrent writer's newest chunks but must never
// observe a partially written chunk. Results are ordered by descending score
// with ties broken by ascending chunk id, so identical queries against an
// unchanged collection yield identical ordered output.
type Store interface {
	// Create initializes the collection for a bot with a fixed dimension and
	// metric. Creating an existing collection with identical parameters is a
	// no-op; differing parameters return ErrCollectionExists.
	Create(ctx context.Context, botID string, dim int, metric Metric) error

	// Upsert writes chunks into the bot's collection, replacing any chunk
	// with the same id. All embeddings must match the collection dimension.
	Upsert(ctx context.Context, botID string, chunks []Chunk) error

	// Search returns up to k best matches for the query vector, scored under
	// the collection's metric. An empty collection returns an empty slice,
	// not an error.
	Search(ctx context.Context, botID string, query []float32, k int) ([]Match, error)

	// Count returns the number of live chunks in the bot's collection.
	Count(ctx context.Context, botID string) (int, error)

	// HasHash reports whether a chunk with the given content hash already
	// exists for the bot and document. Used for idempotent re-ingestion.
	HasHash(ctx context.Context, botID, documentID, hash string) (bool, error)

	// DeleteDocument removes all chunks of a document from the bot's
	// collection and returns how many were removed. Removed chunks are never
	// returned by Search again.
	DeleteDocument(ctx context.Context, botID, documentID string) (int, error)
}
