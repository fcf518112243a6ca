// Package analytics records per-turn chat metrics off the request path.
//
// Events flow through a bounded channel into a single drain goroutine, so
// recording never blocks a chat turn. When the buffer is full the event is
// dropped and counted; analytics loss must never degrade chat.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedchat/embedchat/internal/log"
)

// Event is one recorded chat turn.
type Event struct {
	BotID           string    `json:"bot_id"`
	SessionID       string    `json:"session_id"`
	LatencyMS       float64   `json:"latency_ms"`
	RetrievedChunks int       `json:"retrieved_chunks"`
	Failed          bool      `json:"failed"`
	Stage           string    `json:"stage,omitempty"` // pipeline stage at failure, empty on success
	Timestamp       time.Time `json:"timestamp"`
}

// Summary aggregates a bot's events over a time range.
type Summary struct {
	Turns        int     `json:"turns"`
	Failures     int     `json:"failures"`
	Sessions     int     `json:"sessions"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	AvgChunks    float64 `json:"avg_retrieved_chunks"`
}

// Sink persists events and answers aggregate queries. Implementations must
// be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Aggregate(ctx context.Context, botID string, from, to time.Time) (Summary, error)
}

// Recorder buffers events and writes them to a Sink asynchronously.
type Recorder struct {
	sink    Sink
	events  chan Event
	done    chan struct{}
	logger  log.Logger
	dropped atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewRecorder starts a recorder draining into sink. bufferSize bounds the
// in-flight queue; zero means 256.
func NewRecorder(sink Sink, bufferSize int, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		sink:   sink,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues an event without blocking. Events recorded after Close, or
// while the buffer is full, are dropped and counted.
func (r *Recorder) Record(e Event) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case r.events <- e:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("analytics buffer full, event dropped", "bot_id", e.BotID, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Aggregate answers directly from the sink. Events still in the buffer are
// not included; callers wanting exact totals should Close first.
func (r *Recorder) Aggregate(ctx context.Context, botID string, from, to time.Time) (Summary, error) {
	return r.sink.Aggregate(ctx, botID, from, to)
}

// Close stops accepting events and blocks until the buffer is drained.
// Safe to call more than once.
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	close(r.done)
	r.wg.Wait()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.events:
			r.write(e)
		case <-r.done:
			// Flush whatever is left, then exit.
			for {
				select {
				case e := <-r.events:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.Write(ctx, e); err != nil {
		r.logger.Error("writing analytics event", "bot_id", e.BotID, "error", err)
	}
}
