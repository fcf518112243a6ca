package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/embedchat/embedchat/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func event(botID, sessionID string, latency float64, failed bool) Event {
	return Event{
		BotID:     botID,
		SessionID: sessionID,
		LatencyMS: latency,
		Failed:    failed,
		Timestamp: time.Now().UTC(),
	}
}

func TestRecorderDeliversToSink(t *testing.T) {
	sink := NewMemorySink()
	r := NewRecorder(sink, 16, log.NewNop())

	r.Record(event("b1", "s1", 100, false))
	r.Record(event("b1", "s2", 300, true))
	r.Record(event("b2", "s1", 50, false))
	r.Close()

	sum, err := sink.Aggregate(context.Background(), "b1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if sum.Turns != 2 || sum.Failures != 1 || sum.Sessions != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.AvgLatencyMS != 200 {
		t.Errorf("AvgLatencyMS = %v, want 200", sum.AvgLatencyMS)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	// A sink that blocks until released, so the buffer fills.
	release := make(chan struct{})
	sink := &blockingSink{release: release}
	r := NewRecorder(sink, 2, log.NewNop())

	for i := 0; i < 10; i++ {
		r.Record(event("b", "s", 1, false))
	}
	if r.Dropped() == 0 {
		t.Error("expected drops with a full buffer")
	}
	close(release)
	r.Close()

	// Delivered plus dropped accounts for every Record call.
	if got := int64(sink.count()) + r.Dropped(); got != 10 {
		t.Errorf("delivered+dropped = %d, want 10", got)
	}
}

func TestRecorderCloseDrains(t *testing.T) {
	sink := NewMemorySink()
	r := NewRecorder(sink, 64, log.NewNop())

	for i := 0; i < 50; i++ {
		r.Record(event("b", "s", 1, false))
	}
	r.Close()

	sum, _ := sink.Aggregate(context.Background(), "b", time.Time{}, time.Time{})
	if sum.Turns != 50 {
		t.Errorf("turns after Close = %d, want 50", sum.Turns)
	}

	// Records after Close are dropped, not delivered.
	r.Record(event("b", "s", 1, false))
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
	r.Close() // second Close is a no-op
}

func TestRecorderSinkErrorDoesNotStopDrain(t *testing.T) {
	sink := &failOnceSink{inner: NewMemorySink()}
	r := NewRecorder(sink, 16, log.NewNop())

	r.Record(event("b", "s", 1, false))
	r.Record(event("b", "s", 2, false))
	r.Close()

	sum, _ := sink.inner.Aggregate(context.Background(), "b", time.Time{}, time.Time{})
	if sum.Turns != 1 {
		t.Errorf("turns = %d, want 1 delivered after one sink failure", sum.Turns)
	}
}

func TestMemorySinkTimeRange(t *testing.T) {
	sink := NewMemorySink()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = sink.Write(context.Background(), Event{
			BotID:     "b",
			SessionID: "s",
			LatencyMS: 10,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}

	sum, err := sink.Aggregate(context.Background(), "b", base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if sum.Turns != 2 {
		t.Errorf("turns in [1h, 3h) = %d, want 2", sum.Turns)
	}
}

type blockingSink struct {
	release <-chan struct{}
	mu      sync.Mutex
	n       int
}

func (s *blockingSink) Write(_ context.Context, _ Event) error {
	<-s.release
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) Aggregate(context.Context, string, time.Time, time.Time) (Summary, error) {
	return Summary{}, nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type failOnceSink struct {
	inner  *MemorySink
	mu     sync.Mutex
	failed bool
}

func (s *failOnceSink) Write(ctx context.Context, e Event) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return errors.New("sink hiccup")
	}
	return s.inner.Write(ctx, e)
}

func (s *failOnceSink) Aggregate(ctx context.Context, botID string, from, to time.Time) (Summary, error) {
	return s.inner.Aggregate(ctx, botID, from, to)
}
