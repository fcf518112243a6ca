// Package retrieval finds the document chunks relevant to a chat query.
//
// The engine embeds the query, searches the bot's collection, and filters by
// the bot's score threshold. "Nothing relevant" is a first-class outcome, not
// an error: downstream prompt assembly treats it explicitly.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// ErrStoreUnavailable indicates the vector store failed and a single retry
// failed too.
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Result is the outcome of one retrieval.
type Result struct {
	// Matches holds the chunks above the bot's score threshold, ordered by
	// descending score with ties broken by ascending chunk id.
	Matches []vectorstore.Match

	// NoContext reports that nothing scored above the threshold. It is set
	// whether the collection was empty or merely irrelevant; callers that
	// need the distinction can check len(Matches) on the raw search.
	NoContext bool
}

// Engine retrieves relevant chunks for queries.
type Engine struct {
	store        vectorstore.Store
	embedder     ai.Embedder
	logger       log.Logger
	embedTimeout time.Duration
}

// New creates a retrieval engine. embedTimeout bounds the query embedding
// call; zero means 10 seconds.
func New(store vectorstore.Store, embedder ai.Embedder, logger log.Logger, embedTimeout time.Duration) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	return &Engine{
		store:        store,
		embedder:     embedder,
		logger:       logger,
		embedTimeout: embedTimeout,
	}
}

// Retrieve embeds the query and returns the bot's chunks above its score
// threshold, at most TopK of them.
func (e *Engine) Retrieve(ctx context.Context, b bot.Bot, query string) (Result, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return Result{}, err
	}

	matches, err := e.search(ctx, b.ID, vec, b.Settings.TopK)
	if err != nil {
		return Result{}, err
	}

	filtered := matches[:0]
	for _, m := range matches {
		if m.Score >= b.Settings.ScoreThreshold {
			filtered = append(filtered, m)
		}
	}

	if len(filtered) == 0 {
		e.logger.Debug("no relevant context",
			"bot_id", b.ID, "candidates", len(matches), "threshold", b.Settings.ScoreThreshold)
		return Result{NoContext: true}, nil
	}
	return Result{Matches: filtered}, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(resp.Embeddings))
	}
	return resp.Embeddings[0].Embedding, nil
}

// search tries the store once and retries a single time on failure.
// Configuration errors (unknown collection, wrong dimension) are not
// retryable and surface immediately.
func (e *Engine) search(ctx context.Context, botID string, vec []float32, k int) ([]vectorstore.Match, error) {
	matches, err := e.store.Search(ctx, botID, vec, k)
	if err == nil {
		return matches, nil
	}
	if errors.Is(err, vectorstore.ErrUnknownCollection) || errors.Is(err, vectorstore.ErrDimensionMismatch) {
		return nil, err
	}

	e.logger.Warn("vector search failed, retrying once", "bot_id", botID, "error", err)
	matches, retryErr := e.store.Search(ctx, botID, vec, k)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, retryErr)
	}
	return matches, nil
}
