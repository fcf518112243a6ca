package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/embedchat/embedchat/internal/bot"
	"github.com/embedchat/embedchat/internal/ingest"
	"github.com/embedchat/embedchat/internal/vectorstore"
)

const (
	maxIDLength       = 128
	maxNameLength     = 200
	maxDocumentLength = 2 << 20 // 2 MiB of text per document
)

// validID accepts identifiers safe to use as store keys and path segments.
func validID(s string) bool {
	if s == "" || len(s) > maxIDLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}

type createBotRequest struct {
	Name     string       `json:"name"`
	Settings bot.Settings `json:"settings"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Name) > maxNameLength {
		s.writeError(w, http.StatusBadRequest, "invalid_name", "name is required and at most 200 characters")
		return
	}

	b, err := bot.New(req.Name, req.Settings)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}

	metric := vectorstore.Metric(b.Settings.Metric)
	if err := s.deps.Store.Create(r.Context(), b.ID, s.deps.EmbedDim, metric); err != nil {
		s.logger.Error("creating collection", "bot_id", b.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store_error", "could not create the bot's collection")
		return
	}
	if err := s.deps.Bots.Put(r.Context(), b); err != nil {
		s.logger.Error("registering bot", "bot_id", b.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry_error", "could not register the bot")
		return
	}

	s.logger.Info("bot created", "bot_id", b.ID, "name", b.Name)
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.deps.Bots.List(r.Context())
	if err != nil {
		s.logger.Error("listing bots", "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry_error", "could not list bots")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

// widgetConfig is the public subset of a bot the embeddable widget needs to
// render; the API key authenticates the lookup and is not echoed back.
type widgetConfig struct {
	BotID          string `json:"bot_id"`
	Name           string `json:"name"`
	WelcomeMessage string `json:"welcome_message"`
	PrimaryColor   string `json:"primary_color"`
}

func (s *Server) handleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !validID(key) {
		s.writeError(w, http.StatusBadRequest, "invalid_api_key", "malformed api key")
		return
	}

	b, err := s.deps.Bots.GetByAPIKey(r.Context(), key)
	if errors.Is(err, bot.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown_api_key", "no bot matches this api key")
		return
	}
	if err != nil {
		s.logger.Error("looking up bot by api key", "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry_error", "could not load the bot")
		return
	}
	s.writeJSON(w, http.StatusOK, widgetConfig{
		BotID:          b.ID,
		Name:           b.Name,
		WelcomeMessage: b.WelcomeMessage,
		PrimaryColor:   b.PrimaryColor,
	})
}

type ingestRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Text       string `json:"text"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBot(w, r)
	if !ok {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentLength+4096)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.DocumentID != "" && !validID(req.DocumentID) {
		s.writeError(w, http.StatusBadRequest, "invalid_document_id", "document_id may use letters, digits, and -_.: up to 128 characters")
		return
	}
	if len(req.Text) > maxDocumentLength {
		s.writeError(w, http.StatusRequestEntityTooLarge, "document_too_large", "document text exceeds 2 MiB")
		return
	}

	res, err := s.deps.Ingestor.Ingest(r.Context(), b, req.DocumentID, req.Text)
	switch {
	case errors.Is(err, ingest.ErrEmptyDocument):
		s.writeError(w, http.StatusBadRequest, "empty_document", "document text contains no content")
		return
	case err != nil:
		s.logger.Error("ingesting document", "bot_id", b.ID, "error", err)
		s.writeError(w, http.StatusBadGateway, "ingest_failed", "could not index the document")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBot(w, r)
	if !ok {
		return
	}
	docID := r.PathValue("doc")
	if !validID(docID) {
		s.writeError(w, http.StatusBadRequest, "invalid_document_id", "malformed document id")
		return
	}

	removed, err := s.deps.Store.DeleteDocument(r.Context(), b.ID, docID)
	if err != nil {
		s.logger.Error("deleting document", "bot_id", b.ID, "document_id", docID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store_error", "could not delete the document")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    docID,
		"chunks_removed": removed,
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBot(w, r)
	if !ok {
		return
	}

	var from, to time.Time
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}
	}

	sum, err := s.deps.Recorder.Aggregate(r.Context(), b.ID, from, to)
	if err != nil {
		s.logger.Error("aggregating analytics", "bot_id", b.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "analytics_error", "could not aggregate analytics")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBot(w, r)
	if !ok {
		return
	}
	sid := r.PathValue("sid")
	if !validID(sid) {
		s.writeError(w, http.StatusBadRequest, "invalid_session_id", "malformed session id")
		return
	}

	existed, err := s.deps.Sessions.Clear(r.Context(), b.ID, sid)
	if err != nil {
		s.logger.Error("clearing session", "bot_id", b.ID, "session_id", sid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "session_error", "could not clear the session")
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// lookupBot resolves the {id} path segment, writing the error response
// itself when the id is malformed or unknown.
func (s *Server) lookupBot(w http.ResponseWriter, r *http.Request) (bot.Bot, bool) {
	id := r.PathValue("id")
	if !validID(id) {
		s.writeError(w, http.StatusBadRequest, "invalid_bot_id", "malformed bot id")
		return bot.Bot{}, false
	}
	b, err := s.deps.Bots.Get(r.Context(), id)
	if errors.Is(err, bot.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "bot_not_found", "no such bot")
		return bot.Bot{}, false
	}
	if err != nil {
		s.logger.Error("loading bot", "bot_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry_error", "could not load the bot")
		return bot.Bot{}, false
	}
	return b, true
}
