// Package prompt assembles the model input for a chat turn.
//
// The assembler fits retrieved chunks into a per-bot character budget,
// arranges them by relevance or by document order, and states explicitly
// when no relevant context exists so the model never silently hallucinates
// document grounding.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/retrieval"
	"github.com/embedchat/embedchat/internal/session"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

// Prompt is the assembled model input for one turn.
type Prompt struct {
	System      string            // system instruction including the context block
	History     []session.Message // prior turns, oldest first
	User        string            // the current user message
	ContextUsed int               // chunks that made it into the budget
}

// Assembler builds prompts from retrieval results and session history.
type Assembler struct{}

// New creates an assembler.
func New() *Assembler {
	return &Assembler{}
}

// Assemble builds the prompt for a turn. History is already bounded by the
// session store; chunks beyond the bot's prompt budget are dropped lowest
// relevance first.
func (a *Assembler) Assemble(b bot.Bot, res retrieval.Result, history []session.Message, userMsg string) Prompt {
	p := Prompt{History: history, User: userMsg}

	if res.NoContext {
		p.System = noContextSystem(b)
		return p
	}

	kept := fitBudget(res.Matches, b.Settings.PromptBudget)
	if len(kept) == 0 {
		// Even the best chunk alone exceeds the budget; degrade to the
		// no-context instruction rather than sending a truncated fragment.
		p.System = noContextSystem(b)
		return p
	}
	if b.Settings.ChunkOrder == bot.OrderPosition {
		sort.Slice(kept, func(i, j int) bool {
			ci, cj := kept[i].Chunk, kept[j].Chunk
			if ci.DocumentID != cj.DocumentID {
				return ci.DocumentID < cj.DocumentID
			}
			return ci.Position < cj.Position
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a helpful assistant. Answer using the context below.\n", b.Name)
	sb.WriteString("If the context does not contain the answer, say so instead of guessing.\n\n")
	sb.WriteString("Context:\n")
	for i, m := range kept {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, m.Chunk.Content)
	}
	p.System = strings.TrimRight(sb.String(), "\n")
	p.ContextUsed = len(kept)
	return p
}

// fitBudget keeps the highest-relevance prefix of matches whose combined
// content fits in budget characters. Matches arrive score-ordered, so
// dropping the tail drops the least relevant first.
func fitBudget(matches []vectorstore.Match, budget int) []vectorstore.Match {
	var kept []vectorstore.Match
	used := 0
	for _, m := range matches {
		cost := len(m.Chunk.Content)
		if used+cost > budget {
			break
		}
		kept = append(kept, m)
		used += cost
	}
	return kept
}

func noContextSystem(b bot.Bot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a helpful assistant.\n", b.Name)
	sb.WriteString("No relevant information was found in the knowledge base for this question.\n")
	switch b.Settings.NoContextPolicy {
	case bot.PolicyRefuse:
		sb.WriteString("Tell the user you cannot answer this from the available documents, and suggest rephrasing.")
	default:
		sb.WriteString("Answer from general knowledge, and make clear the answer is not based on the documents.")
	}
	return sb.String()
}
