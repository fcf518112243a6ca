// Package pipeline orchestrates one chat turn end to end.
//
// A turn moves through fixed stages: received, embedding the query,
// retrieving chunks, assembling the prompt, generating, responded. A failure
// at any stage ends the turn in the failed state with a user-facing fallback
// reply; the stage reached is recorded in analytics either way.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/embedchat/embedchat/internal/analytics"
	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/generation"
	"github.com/embedchat/embedchat/internal/log"
	"github.com/embedchat/embedchat/internal/prompt"
	"github.com/embedchat/embedchat/internal/retrieval"
	"github.com/embedchat/embedchat/internal/session"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// Stage identifies where a turn is in its lifecycle.
type Stage string

const (
	StageReceived   Stage = "received"
	StageEmbedding  Stage = "embedding_query"
	StageRetrieving Stage = "retrieving"
	StageAssembling Stage = "assembling"
	StageGenerating Stage = "generating"
	StageResponded  Stage = "responded"
	StageFailed     Stage = "failed"
)

// Fallback replies by failure class. The user always gets an answer shaped
// like chat, never a raw error.
const (
	fallbackBusy    = "I'm receiving a lot of questions right now. Please try again in a moment."
	fallbackTimeout = "That took longer than expected. Please try asking again."
	fallbackStore   = "I'm having trouble reaching my knowledge base right now. Please try again shortly."
	fallbackGeneric = "Something went wrong on my side. Please try again."
)

// Result is the outcome of one turn.
type Result struct {
	Reply       string // model answer, or a fallback when Failed
	ContextUsed int    // chunks included in the prompt
	NoContext   bool   // nothing scored above the bot's threshold
	Failed      bool
	FailedStage Stage         // stage that failed, empty on success
	Latency     time.Duration
}

// Pipeline runs chat turns.
type Pipeline struct {
	retriever *retrieval.Engine
	assembler *prompt.Assembler
	generator *generation.Client
	sessions  session.Store
	recorder  *analytics.Recorder
	logger    log.Logger
}

// New wires a pipeline. recorder may be nil to disable analytics.
func New(
	retriever *retrieval.Engine,
	assembler *prompt.Assembler,
	generator *generation.Client,
	sessions session.Store,
	recorder *analytics.Recorder,
	logger log.Logger,
) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		sessions:  sessions,
		recorder:  recorder,
		logger:    logger,
	}
}

// Chat runs one turn for a bot and session. It never returns a raw provider
// error to the caller: failures produce a fallback Reply with Failed set,
// and only broken preconditions (nil stores) surface as errors.
func (p *Pipeline) Chat(ctx context.Context, b bot.Bot, sessionID, userMsg string) (Result, error) {
	start := time.Now()
	stage := StageReceived

	history, err := p.sessions.History(ctx, b.ID, sessionID)
	if err != nil {
		return p.fail(b, sessionID, stage, start, 0, err), nil
	}

	stage = StageEmbedding
	res, err := p.retriever.Retrieve(ctx, b, userMsg)
	if err != nil {
		// Store failures, including collection misconfiguration, belong to
		// the retrieving stage; only embed failures stay attributed here.
		if errors.Is(err, retrieval.ErrStoreUnavailable) ||
			errors.Is(err, vectorstore.ErrUnknownCollection) ||
			errors.Is(err, vectorstore.ErrDimensionMismatch) {
			stage = StageRetrieving
		}
		return p.fail(b, sessionID, stage, start, 0, err), nil
	}

	stage = StageAssembling
	asm := p.assembler.Assemble(b, res, history, userMsg)

	stage = StageGenerating
	reply, err := p.generator.Generate(ctx, asm)
	if err != nil {
		return p.fail(b, sessionID, stage, start, asm.ContextUsed, err), nil
	}

	now := time.Now().UTC()
	if err := p.sessions.Append(ctx, b.ID, sessionID, b.Settings.HistoryWindow,
		session.Message{Role: session.RoleUser, Content: userMsg, At: now},
		session.Message{Role: session.RoleAssistant, Content: reply, At: now},
	); err != nil {
		// The user already has their answer; losing one history entry is
		// logged, not surfaced.
		p.logger.Error("appending session history", "bot_id", b.ID, "session_id", sessionID, "error", err)
	}

	latency := time.Since(start)
	p.record(analytics.Event{
		BotID:           b.ID,
		SessionID:       sessionID,
		LatencyMS:       float64(latency.Microseconds()) / 1000,
		RetrievedChunks: asm.ContextUsed,
	})
	p.logger.Info("turn responded",
		"bot_id", b.ID, "session_id", sessionID,
		"context_chunks", asm.ContextUsed, "no_context", res.NoContext,
		"latency", latency)

	return Result{
		Reply:       reply,
		ContextUsed: asm.ContextUsed,
		NoContext:   res.NoContext,
		Latency:     latency,
	}, nil
}

func (p *Pipeline) fail(b bot.Bot, sessionID string, stage Stage, start time.Time, chunks int, err error) Result {
	latency := time.Since(start)
	p.logger.Error("turn failed",
		"bot_id", b.ID, "session_id", sessionID, "stage", stage,
		"latency", latency, "error", err)
	p.record(analytics.Event{
		BotID:           b.ID,
		SessionID:       sessionID,
		LatencyMS:       float64(latency.Microseconds()) / 1000,
		RetrievedChunks: chunks,
		Failed:          true,
		Stage:           string(stage),
	})
	return Result{
		Reply:       fallback(err),
		ContextUsed: chunks,
		Failed:      true,
		FailedStage: stage,
		Latency:     latency,
	}
}

func (p *Pipeline) record(e analytics.Event) {
	if p.recorder != nil {
		p.recorder.Record(e)
	}
}

func fallback(err error) string {
	switch {
	case errors.Is(err, generation.ErrRateLimited):
		return fallbackBusy
	case errors.Is(err, generation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fallbackTimeout
	case errors.Is(err, retrieval.ErrStoreUnavailable):
		return fallbackStore
	default:
		return fallbackGeneric
	}
}
