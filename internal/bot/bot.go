// Package bot holds the bot model and its registry.
//
// A bot is the tenant unit: it owns a document collection, a retrieval
// configuration, and its chat sessions. All pipeline behavior that varies per
// tenant is captured in Settings so the rest of the system stays stateless.
package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for registry operations. Check with errors.Is().
var (
	ErrNotFound = errors.New("bot not found")
	ErrExists   = errors.New("bot already exists")
)

// ChunkOrder controls how retrieved chunks are arranged in the prompt.
type ChunkOrder string

const (
	// OrderScore arranges chunks by descending relevance. Default.
	OrderScore ChunkOrder = "score"

	// OrderPosition arranges chunks by their position in the source document,
	// preserving the original reading order.
	OrderPosition ChunkOrder = "position"
)

// NoContextPolicy controls what the bot does when retrieval finds nothing
// above the relevance threshold.
type NoContextPolicy string

const (
	// PolicyGeneral lets the model answer from general knowledge, with the
	// prompt stating that no document context was found. Default.
	PolicyGeneral NoContextPolicy = "general"

	// PolicyRefuse instructs the model to say it cannot answer from the
	// bot's documents.
	PolicyRefuse NoContextPolicy = "refuse"
)

// Settings is the per-bot pipeline configuration.
// Zero values are replaced by defaults in ApplyDefaults; Validate rejects
// values outside their documented ranges.
type Settings struct {
	EmbedderModel   string          `json:"embedder_model,omitempty"`
	ChunkSize       int             `json:"chunk_size"`       // target characters per chunk
	ChunkOverlap    float64         `json:"chunk_overlap"`    // fraction of ChunkSize, [0, 0.5]
	TopK            int             `json:"top_k"`            // max chunks retrieved per query
	ScoreThreshold  float64         `json:"score_threshold"`  // minimum relevance score
	Metric          string          `json:"metric"`           // "cosine" or "euclidean"
	HistoryWindow   int             `json:"history_window"`   // max messages kept per session
	PromptBudget    int             `json:"prompt_budget"`    // max context characters in the prompt
	ChunkOrder      ChunkOrder      `json:"chunk_order"`
	NoContextPolicy NoContextPolicy `json:"no_context_policy"`
}

// DefaultSettings returns the settings applied when a bot is created without
// explicit overrides.
func DefaultSettings() Settings {
	return Settings{
		ChunkSize:       800,
		ChunkOverlap:    0.15,
		TopK:            4,
		ScoreThreshold:  0.35,
		Metric:          "cosine",
		HistoryWindow:   10,
		PromptBudget:    6000,
		ChunkOrder:      OrderScore,
		NoContextPolicy: PolicyGeneral,
	}
}

// ApplyDefaults fills unset fields from DefaultSettings.
func (s *Settings) ApplyDefaults() {
	def := DefaultSettings()
	if s.ChunkSize == 0 {
		s.ChunkSize = def.ChunkSize
	}
	if s.ChunkOverlap == 0 {
		s.ChunkOverlap = def.ChunkOverlap
	}
	if s.TopK == 0 {
		s.TopK = def.TopK
	}
	if s.ScoreThreshold == 0 {
		s.ScoreThreshold = def.ScoreThreshold
	}
	if s.Metric == "" {
		s.Metric = def.Metric
	}
	if s.HistoryWindow == 0 {
		s.HistoryWindow = def.HistoryWindow
	}
	if s.PromptBudget == 0 {
		s.PromptBudget = def.PromptBudget
	}
	if s.ChunkOrder == "" {
		s.ChunkOrder = def.ChunkOrder
	}
	if s.NoContextPolicy == "" {
		s.NoContextPolicy = def.NoContextPolicy
	}
}

// Validate checks the settings against their documented ranges.
func (s Settings) Validate() error {
	if s.ChunkSize < 100 || s.ChunkSize > 8000 {
		return fmt.Errorf("chunk_size %d outside [100, 8000]", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap > 0.5 {
		return fmt.Errorf("chunk_overlap %v outside [0, 0.5]", s.ChunkOverlap)
	}
	if s.TopK < 1 || s.TopK > 50 {
		return fmt.Errorf("top_k %d outside [1, 50]", s.TopK)
	}
	if s.Metric != "cosine" && s.Metric != "euclidean" {
		return fmt.Errorf("unknown metric %q", s.Metric)
	}
	if s.HistoryWindow < 0 || s.HistoryWindow > 200 {
		return fmt.Errorf("history_window %d outside [0, 200]", s.HistoryWindow)
	}
	if s.PromptBudget < 500 {
		return fmt.Errorf("prompt_budget %d below minimum 500", s.PromptBudget)
	}
	if s.ChunkOrder != OrderScore && s.ChunkOrder != OrderPosition {
		return fmt.Errorf("unknown chunk_order %q", s.ChunkOrder)
	}
	if s.NoContextPolicy != PolicyGeneral && s.NoContextPolicy != PolicyRefuse {
		return fmt.Errorf("unknown no_context_policy %q", s.NoContextPolicy)
	}
	return nil
}

// Bot is one tenant of the platform.
type Bot struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	WelcomeMessage string    `json:"welcome_message"`
	PrimaryColor   string    `json:"primary_color"`
	APIKey         string    `json:"api_key"`
	Settings       Settings  `json:"settings"`
	CreatedAt      time.Time `json:"created_at"`
}

// New builds a bot with a fresh id and API key, filling defaults for any
// unset settings. The name is required.
func New(name string, settings Settings) (Bot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Bot{}, errors.New("bot name is required")
	}
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return Bot{}, fmt.Errorf("invalid settings: %w", err)
	}
	return Bot{
		ID:             uuid.NewString(),
		Name:           name,
		WelcomeMessage: "Hi there! 👋 Ask me anything about the document.",
		PrimaryColor:   "#6C63FF",
		APIKey:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		Settings:       settings,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
