package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is a Store backed by PostgreSQL with the pgvector extension.
//
// Isolation is structural: every statement filters on bot_id, and the
// collections table pins each bot's dimension and metric. Upserts run in a
// single transaction so concurrent readers never observe a half-written
// document.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Store on top of an existing connection pool.
// The schema is managed by db.Migrate; the pool is owned by the caller.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Create implements Store.
func (p *Postgres) Create(ctx context.Context, botID string, dim int, metric Metric) error {
	if dim <= 0 {
		return ErrDimensionMismatch
	}
	if !metric.Valid() {
		return ErrInvalidMetric
	}

	var existingDim int
	var existingMetric string
	err := p.pool.QueryRow(ctx,
		`SELECT dim, metric FROM collections WHERE bot_id = $1`, botID,
	).Scan(&existingDim, &existingMetric)
	switch {
	case err == nil:
		if existingDim == dim && Metric(existingMetric) == metric {
			return nil // idempotent
		}
		return ErrCollectionExists
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return fmt.Errorf("checking collection %q: %w", botID, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO collections (bot_id, dim, metric) VALUES ($1, $2, $3)
		 ON CONFLICT (bot_id) DO NOTHING`,
		botID, dim, string(metric))
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", botID, err)
	}
	p.logger.Debug("created collection", "bot_id", botID, "dim", dim, "metric", metric)
	return nil
}

// Upsert implements Store.
func (p *Postgres) Upsert(ctx context.Context, botID string, chunks []Chunk) error {
	dim, _, err := p.collectionInfo(ctx, botID)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != dim {
			return ErrDimensionMismatch
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Debug("upsert rollback", "error", rbErr)
		}
	}()

	for _, ch := range chunks {
		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (bot_id, id, document_id, position, content, content_hash, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (bot_id, id) DO UPDATE SET
			   content = EXCLUDED.content,
			   content_hash = EXCLUDED.content_hash,
			   embedding = EXCLUDED.embedding,
			   deleted = FALSE`,
			botID, ch.ID, ch.DocumentID, ch.Position, ch.Content, ch.ContentHash,
			pgvector.NewVector(ch.Embedding))
		if err != nil {
			return fmt.Errorf("upserting chunk %q: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

// Search implements Store.
func (p *Postgres) Search(ctx context.Context, botID string, query []float32, k int) ([]Match, error) {
	dim, metric, err := p.collectionInfo(ctx, botID)
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return []Match{}, nil
	}

	// Both score expressions are normalized so that higher is better; the
	// tie-break on id keeps repeated queries deterministic.
	scoreExpr := `1 - (embedding <=> $2)`
	if metric == MetricEuclidean {
		scoreExpr = `1 / (1 + (embedding <-> $2))`
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, document_id, position, content, content_hash, `+scoreExpr+` AS score
		 FROM chunks
		 WHERE bot_id = $1 AND NOT deleted
		 ORDER BY score DESC, id ASC
		 LIMIT $3`,
		botID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("searching collection %q: %w", botID, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		m.Chunk.BotID = botID
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.Position,
			&m.Chunk.Content, &m.Chunk.ContentHash, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context, botID string) (int, error) {
	if _, _, err := p.collectionInfo(ctx, botID); err != nil {
		return 0, err
	}
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE bot_id = $1 AND NOT deleted`, botID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for %q: %w", botID, err)
	}
	return n, nil
}

// HasHash implements Store.
func (p *Postgres) HasHash(ctx context.Context, botID, documentID, hash string) (bool, error) {
	if _, _, err := p.collectionInfo(ctx, botID); err != nil {
		return false, err
	}
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM chunks
		   WHERE bot_id = $1 AND document_id = $2 AND content_hash = $3 AND NOT deleted
		 )`,
		botID, documentID, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking content hash: %w", err)
	}
	return exists, nil
}

// DeleteDocument implements Store.
// Chunks are tombstoned rather than physically removed; Search and Count
// exclude them immediately.
func (p *Postgres) DeleteDocument(ctx context.Context, botID, documentID string) (int, error) {
	if _, _, err := p.collectionInfo(ctx, botID); err != nil {
		return 0, err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE chunks SET deleted = TRUE
		 WHERE bot_id = $1 AND document_id = $2 AND NOT deleted`,
		botID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", documentID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) collectionInfo(ctx context.Context, botID string) (int, Metric, error) {
	var dim int
	var metric string
	err := p.pool.QueryRow(ctx,
		`SELECT dim, metric FROM collections WHERE bot_id = $1`, botID).Scan(&dim, &metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", ErrUnknownCollection
	}
	if err != nil {
		return 0, "", fmt.Errorf("loading collection %q: %w", botID, err)
	}
	return dim, Metric(metric), nil
}
