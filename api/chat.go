package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/embedchat/embedchat/internal/bot"
)

const maxMessageLength = 4000

type chatRequest struct {
	BotID     string `json:"bot_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply       string  `json:"reply"`
	SessionID   string  `json:"session_id"`
	ContextUsed int     `json:"context_used"`
	NoContext   bool    `json:"no_context"`
	Failed      bool    `json:"failed"`
	LatencyMS   float64 `json:"latency_ms"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if !validID(req.BotID) {
		s.writeError(w, http.StatusBadRequest, "invalid_bot_id", "malformed bot id")
		return
	}
	if !validID(req.SessionID) {
		s.writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id may use letters, digits, and -_.: up to 128 characters")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		s.writeError(w, http.StatusBadRequest, "empty_message", "message is required")
		return
	}
	if len(msg) > maxMessageLength {
		s.writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds 4000 characters")
		return
	}

	b, err := s.deps.Bots.Get(r.Context(), req.BotID)
	if errors.Is(err, bot.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "bot_not_found", "no such bot")
		return
	}
	if err != nil {
		s.logger.Error("loading bot", "bot_id", req.BotID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry_error", "could not load the bot")
		return
	}

	res, err := s.deps.Pipeline.Chat(r.Context(), b, req.SessionID, msg)
	if err != nil {
		s.logger.Error("running chat turn", "bot_id", b.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "chat_error", "could not run the chat turn")
		return
	}

	// Failed turns still answer 200 with a fallback reply; the widget shows
	// it as a normal bot message.
	s.writeJSON(w, http.StatusOK, chatResponse{
		Reply:       res.Reply,
		SessionID:   req.SessionID,
		ContextUsed: res.ContextUsed,
		NoContext:   res.NoContext,
		Failed:      res.Failed,
		LatencyMS:   float64(res.Latency.Microseconds()) / 1000,
	})
}
