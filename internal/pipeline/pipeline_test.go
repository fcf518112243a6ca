package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/embedchat/embedchat/internal/analytics"
	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/generation"
	"github.com/embedchat/embedchat/internal/ingest"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/prompt"
	"github.com/embedchat/embedchat/internal/retrieval"
	"github.com/embedchat/embedchat/internal/session"
	"github.com/embedchat/embedchat/internal/testutil"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

const testDim = 4

type fixture struct {
	pipeline *Pipeline
	bot      bot.Bot
	store    *vectorstore.Memory
	embedder *testutil.MockEmbedder
	llm      *testutil.MockLLM
	sessions *session.Memory
	sink     *analytics.MemorySink
	recorder *analytics.Recorder
	ingestor *ingest.Ingestor

	g     *genkit.Genkit
	model ai.Model
	aiEmb ai.Embedder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	g := testutil.NewGenkit(ctx)
	mockEmb := testutil.NewMockEmbedder(testDim)
	embedder := mockEmb.Register(g)
	mockLLM := testutil.NewMockLLM("default answer")
	model := mockLLM.Register(g)

	store := vectorstore.NewMemory(log.NewNop())
	b, err := bot.New("pipeline bot", bot.Settings{TopK: 3, ScoreThreshold: 0.5, HistoryWindow: 4})
	if err != nil {
		t.Fatalf("bot.New() error = %v", err)
	}
	if err := store.Create(ctx, b.ID, testDim, vectorstore.MetricCosine); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sessions := session.NewMemory()
	sink := analytics.NewMemorySink()
	recorder := analytics.NewRecorder(sink, 64, log.NewNop())
	t.Cleanup(recorder.Close)

	genCfg := generation.Config{Timeout: 5 * time.Second, RetryBackoff: time.Millisecond}
	p := New(
		retrieval.New(store, embedder, log.NewNop(), 0),
		prompt.New(),
		generation.New(g, model, genCfg, log.NewNop()),
		sessions,
		recorder,
		log.NewNop(),
	)

	return &fixture{
		pipeline: p,
		bot:      b,
		store:    store,
		embedder: mockEmb,
		llm:      mockLLM,
		sessions: sessions,
		sink:     sink,
		recorder: recorder,
		ingestor: ingest.New(store, embedder, log.NewNop(), 0),
		g:        g,
		model:    model,
		aiEmb:    embedder,
	}
}

func (f *fixture) seed(t *testing.T, id string, vec []float32) {
	t.Helper()
	err := f.store.Upsert(context.Background(), f.bot.ID, []vectorstore.Chunk{{
		ID:          id,
		DocumentID:  "doc",
		Content:     "indexed content " + id,
		ContentHash: "hash-" + id,
		Embedding:   vec,
	}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func (f *fixture) aggregate(t *testing.T) analytics.Summary {
	t.Helper()
	f.recorder.Close()
	sum, err := f.sink.Aggregate(context.Background(), f.bot.ID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	return sum
}

func TestChatRespondsWithContext(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.embedder.SetVector("what about refunds", []float32{1, 0, 0, 0})
	f.seed(t, "doc:0", []float32{1, 0, 0, 0})
	f.llm.AddResponse("refunds", "refunds take five days")

	res, err := f.pipeline.Chat(ctx, f.bot, "sess-1", "what about refunds")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Failed {
		t.Fatalf("turn failed at %s", res.FailedStage)
	}
	if res.Reply != "refunds take five days" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if res.ContextUsed != 1 || res.NoContext {
		t.Errorf("ContextUsed = %d, NoContext = %v", res.ContextUsed, res.NoContext)
	}

	// The retrieved chunk reached the model's system instruction.
	calls := f.llm.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].System, "indexed content doc:0") {
		t.Errorf("system prompt missing context: %+v", calls)
	}
}

func TestChatAppendsHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.pipeline.Chat(ctx, f.bot, "sess-1", "first question"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	history, err := f.sessions.History(ctx, f.bot.ID, "sess-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[0].Content != "first question" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != session.RoleAssistant {
		t.Errorf("history[1] = %+v", history[1])
	}

	// Second turn sees the first in its model request.
	if _, err := f.pipeline.Chat(ctx, f.bot, "sess-1", "second question"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	calls := f.llm.Calls()
	last := calls[len(calls)-1]
	if last.UserMessage != "second question" {
		t.Errorf("last user message = %q", last.UserMessage)
	}
}

func TestChatNoContext(t *testing.T) {
	f := setup(t)

	res, err := f.pipeline.Chat(context.Background(), f.bot, "s", "anything at all")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.NoContext || res.Failed {
		t.Errorf("result = %+v, want NoContext success", res)
	}
	calls := f.llm.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].System, "No relevant information") {
		t.Errorf("no-context instruction missing: %+v", calls)
	}
}

func TestChatGenerationFailureFallback(t *testing.T) {
	f := setup(t)
	f.llm.FailNext(
		errors.New("429 rate limit"),
		errors.New("429 rate limit"),
	)

	res, err := f.pipeline.Chat(context.Background(), f.bot, "s", "q")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Failed || res.FailedStage != StageGenerating {
		t.Errorf("result = %+v, want failure at generating", res)
	}
	if res.Reply != fallbackBusy {
		t.Errorf("Reply = %q, want the busy fallback", res.Reply)
	}

	// Failed turns leave no history.
	history, _ := f.sessions.History(context.Background(), f.bot.ID, "s")
	if len(history) != 0 {
		t.Errorf("failed turn wrote history: %v", history)
	}
}

func TestChatEmbedFailureFallback(t *testing.T) {
	f := setup(t)
	f.embedder.Fail(errors.New("embedder offline"))

	res, err := f.pipeline.Chat(context.Background(), f.bot, "s", "q")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Failed || res.FailedStage != StageEmbedding {
		t.Errorf("result = %+v, want failure at embedding_query", res)
	}
	if res.Reply == "" {
		t.Error("failed turn must still carry a user-facing reply")
	}
}

func TestChatAnswersFromIngestedDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const facts = "Paris is the capital of France. Lyon is a major city."
	const distractor = "The moon orbits the earth."
	const question = "What is the capital of France?"

	f.embedder.SetVector(facts, []float32{1, 0, 0, 0})
	f.embedder.SetVector(distractor, []float32{0, 1, 0, 0})
	f.embedder.SetVector(question, []float32{1, 0, 0, 0})

	if _, err := f.ingestor.Ingest(ctx, f.bot, "faq", facts); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := f.ingestor.Ingest(ctx, f.bot, "moon", distractor); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	f.llm.AddResponse("capital of france", "The capital of France is Paris.")

	res, err := f.pipeline.Chat(ctx, f.bot, "sess-e2e", question)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Failed || res.NoContext {
		t.Fatalf("result = %+v, want grounded success", res)
	}
	if res.Reply != "The capital of France is Paris." {
		t.Errorf("Reply = %q", res.Reply)
	}
	// Only the relevant document clears the threshold; the distractor does
	// not reach the prompt.
	if res.ContextUsed != 1 {
		t.Errorf("ContextUsed = %d, want 1", res.ContextUsed)
	}
	calls := f.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].System, "Paris is the capital of France.") {
		t.Errorf("system prompt missing the retrieved sentence:\n%s", calls[0].System)
	}
	if strings.Contains(calls[0].System, distractor) {
		t.Errorf("system prompt leaked the distractor:\n%s", calls[0].System)
	}
}

func TestChatGenerationTimeoutFallback(t *testing.T) {
	f := setup(t)
	f.llm.SetDelay(2 * time.Second)

	genCfg := generation.Config{Timeout: 25 * time.Millisecond, RetryBackoff: time.Millisecond}
	p := New(
		retrieval.New(f.store, f.aiEmb, log.NewNop(), 0),
		prompt.New(),
		generation.New(f.g, f.model, genCfg, log.NewNop()),
		f.sessions,
		f.recorder,
		log.NewNop(),
	)

	start := time.Now()
	res, err := p.Chat(context.Background(), f.bot, "s", "slow question")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Failed || res.FailedStage != StageGenerating {
		t.Errorf("result = %+v, want failure at generating", res)
	}
	if res.Reply != fallbackTimeout {
		t.Errorf("Reply = %q, want the timeout fallback", res.Reply)
	}
	// The turn must end near the configured timeout, not after the model's
	// full delay.
	if elapsed >= time.Second {
		t.Errorf("turn took %v, expected it bounded by the timeout", elapsed)
	}
}

func TestChatStoreConfigFailureAttributedToRetrieving(t *testing.T) {
	f := setup(t)

	ghost := f.bot
	ghost.ID = "bot-without-collection"

	res, err := f.pipeline.Chat(context.Background(), ghost, "s", "q")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Failed || res.FailedStage != StageRetrieving {
		t.Errorf("result = %+v, want failure at retrieving", res)
	}
	if res.Reply == "" {
		t.Error("failed turn must still carry a user-facing reply")
	}
}

func TestChatRecordsAnalytics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.pipeline.Chat(ctx, f.bot, "s1", "ok question"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	f.llm.FailNext(errors.New("invalid request"))
	if _, err := f.pipeline.Chat(ctx, f.bot, "s2", "failing question"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	sum := f.aggregate(t)
	if sum.Turns != 2 || sum.Failures != 1 || sum.Sessions != 2 {
		t.Errorf("summary = %+v, want 2 turns, 1 failure, 2 sessions", sum)
	}
}
