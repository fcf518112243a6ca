package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MemorySink keeps events in process. Suitable for tests and single-node
// deployments without a database.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Aggregate implements Sink. The range is [from, to); a zero to means no
// upper bound.
func (s *MemorySink) Aggregate(_ context.Context, botID string, from, to time.Time) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	var latency, chunks float64
	sessions := make(map[string]struct{})
	for _, e := range s.events {
		if e.BotID != botID {
			continue
		}
		if e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		sum.Turns++
		if e.Failed {
			sum.Failures++
		}
		latency += e.LatencyMS
		chunks += float64(e.RetrievedChunks)
		sessions[e.SessionID] = struct{}{}
	}
	if sum.Turns > 0 {
		sum.AvgLatencyMS = latency / float64(sum.Turns)
		sum.AvgChunks = chunks / float64(sum.Turns)
	}
	sum.Sessions = len(sessions)
	return sum, nil
}

// PostgresSink persists events to the chat_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a sink on an existing pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_events (bot_id, session_id, latency_ms, retrieved_chunks, failed, stage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.BotID, e.SessionID, e.LatencyMS, e.RetrievedChunks, e.Failed, e.Stage, e.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting chat event: %w", err)
	}
	return nil
}

// Aggregate implements Sink.
func (s *PostgresSink) Aggregate(ctx context.Context, botID string, from, to time.Time) (Summary, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	var sum Summary
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE failed),
		        count(DISTINCT session_id),
		        COALESCE(avg(latency_ms), 0),
		        COALESCE(avg(retrieved_chunks), 0)
		 FROM chat_events
		 WHERE bot_id = $1 AND created_at >= $2 AND created_at < $3`,
		botID, from, to).Scan(&sum.Turns, &sum.Failures, &sum.Sessions, &sum.AvgLatencyMS, &sum.AvgChunks)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregating chat events: %w", err)
	}
	return sum, nil
}
