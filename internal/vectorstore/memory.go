package vectorstore

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store using brute-force scored scans.
//
// Each bot's collection lives behind its own RWMutex, so searches and writes
// for unrelated bots never contend. Within a collection, readers see either
// the state before or after a concurrent Upsert, never a partial write.
type Memory struct {
	mu          sync.RWMutex // guards the collections map itself
	collections map[string]*collection
	logger      *slog.Logger
}

type collection struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	chunks map[string]Chunk    // chunk id -> chunk
	hashes map[string]struct{} // document id + "\x00" + content hash
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		collections: make(map[string]*collection),
		logger:      logger,
	}
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, botID string, dim int, metric Metric) error {
	if dim <= 0 {
		return ErrDimensionMismatch
	}
	if !metric.Valid() {
		return ErrInvalidMetric
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[botID]; ok {
		if existing.dim == dim && existing.metric == metric {
			return nil // idempotent
		}
		return ErrCollectionExists
	}

	m.collections[botID] = &collection{
		dim:    dim,
		metric: metric,
		chunks: make(map[string]Chunk),
		hashes: make(map[string]struct{}),
	}
	m.logger.Debug("created collection", "bot_id", botID, "dim", dim, "metric", metric)
	return nil
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, botID string, chunks []Chunk) error {
	c, err := m.collection(botID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Validate every vector before mutating anything, so a failed call
	// leaves the collection untouched.
	for _, ch := range chunks {
		if len(ch.Embedding) != c.dim {
			return ErrDimensionMismatch
		}
	}
	for _, ch := range chunks {
		// An overwritten chunk's hash must go with it, or HasHash keeps
		// claiming content that is no longer in the index.
		if old, ok := c.chunks[ch.ID]; ok {
			delete(c.hashes, hashKey(old.DocumentID, old.ContentHash))
		}
		c.chunks[ch.ID] = ch
		c.hashes[hashKey(ch.DocumentID, ch.ContentHash)] = struct{}{}
	}
	return nil
}

// Search implements Store.
func (m *Memory) Search(_ context.Context, botID string, query []float32, k int) ([]Match, error) {
	c, err := m.collection(botID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(query) != c.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(c.chunks))
	for _, ch := range c.chunks {
		matches = append(matches, Match{Chunk: ch, Score: score(c.metric, query, ch.Embedding)})
	}

	// Descending score, ascending chunk id on ties: identical queries against
	// an unchanged collection always yield identical ordered output.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Count implements Store.
func (m *Memory) Count(_ context.Context, botID string) (int, error) {
	c, err := m.collection(botID)
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks), nil
}

// HasHash implements Store.
func (m *Memory) HasHash(_ context.Context, botID, documentID, hash string) (bool, error) {
	c, err := m.collection(botID)
	if err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.hashes[hashKey(documentID, hash)]
	return ok, nil
}

// DeleteDocument implements Store.
func (m *Memory) DeleteDocument(_ context.Context, botID, documentID string) (int, error) {
	c, err := m.collection(botID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, ch := range c.chunks {
		if ch.DocumentID == documentID {
			delete(c.chunks, id)
			delete(c.hashes, hashKey(documentID, ch.ContentHash))
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) collection(botID string) (*collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[botID]
	if !ok {
		return nil, ErrUnknownCollection
	}
	return c, nil
}

func hashKey(documentID, hash string) string {
	return documentID + "\x00" + hash
}

// score computes the similarity of two vectors under the given metric.
// Both metrics are normalized so that higher is better.
func score(metric Metric, a, b []float32) float64 {
	switch metric {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}
