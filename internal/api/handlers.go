package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/BTreeMap/TalkingPrompt/internal/phrase"
	"github.com/go-chi/chi"
	"github.com/samber/lo"
)

// HealthResult is returned by GET /health.
type HealthResult struct {
	Synthesizer string `json:"synthesizer,omitempty"`
	Websocket   bool   `json:"websocket"`
	Relay       string `json:"relay,omitempty"`
	SessionTTL  string `json:"session_ttl"`
}

// SuggestionsResult is returned by GET /suggestions.
type SuggestionsResult struct {
	Base        string   `json:"base"`
	Suggestions []string `json:"suggestions"`
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Pronoun    string `json:"pronoun"`
	BasePhrase string `json:"base_phrase"`
	Activity   string `json:"activity"`
}

// PromptResult is returned by POST /prompt.
type PromptResult struct {
	Text string `json:"text"`
}

// PronounRequest is the body of POST /sessions and PUT /sessions/{id}/pronoun.
type PronounRequest struct {
	Pronoun string `json:"pronoun"`
}

// BaseRequest is the body of PUT /sessions/{id}/base.
type BaseRequest struct {
	BasePhrase string `json:"base_phrase"`
}

// SpeakRequest is the body of POST /sessions/{id}/speak.
type SpeakRequest struct {
	Activity string `json:"activity"`
}

// HistoryItem is one line of GET /sessions/{id}/history.
type HistoryItem struct {
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
	Display string    `json:"display"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(HealthResult{
		Synthesizer: s.speaker.SynthesizerName(),
		Websocket:   s.hub != nil,
		Relay:       s.relay,
		SessionTTL:  s.sessions.TTL().String(),
	}))
}

func (s *Server) pronounsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(models.Pronouns))
}

func (s *Server) basePhrasesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(phrase.BasePhrases))
}

func (s *Server) suggestionsHandler(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	if len(base) > models.MaxBasePhraseLength {
		writeError(w, "Server.suggestionsHandler", models.ErrBasePhraseTooLong)
		return
	}
	suggestions := phrase.GenerateSuggestions(base)
	slog.Debug("Server.suggestionsHandler: suggestions generated", "base", base, "count", len(suggestions))
	writeJSONResponse(w, http.StatusOK, models.Success(SuggestionsResult{Base: base, Suggestions: suggestions}))
}

func (s *Server) promptHandler(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.promptHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	pronoun := models.DefaultPronoun
	if req.Pronoun != "" {
		var err error
		if pronoun, err = models.ParsePronoun(req.Pronoun); err != nil {
			writeError(w, "Server.promptHandler", err)
			return
		}
	}
	if err := models.ValidateActivity(req.Activity); err != nil {
		writeError(w, "Server.promptHandler", err)
		return
	}
	text := phrase.BuildPrompt(pronoun, req.BasePhrase, req.Activity)
	writeJSONResponse(w, http.StatusOK, models.Success(PromptResult{Text: text}))
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req PronounRequest
	if err := decodeJSON(r, &req, true); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sess, err := s.sessions.Create(req.Pronoun)
	if err != nil {
		writeError(w, "Server.createSessionHandler", err)
		return
	}
	v, err := s.sessions.Get(sess.ID)
	if err != nil {
		writeError(w, "Server.createSessionHandler", err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session created", v))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Server.getSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(v))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(chi.URLParam(r, "id")); err != nil {
		writeError(w, "Server.deleteSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

func (s *Server) pronounHandler(w http.ResponseWriter, r *http.Request) {
	var req PronounRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.pronounHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sess, err := s.sessions.SelectPronoun(chi.URLParam(r, "id"), req.Pronoun)
	if err != nil {
		writeError(w, "Server.pronounHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

func (s *Server) baseHandler(w http.ResponseWriter, r *http.Request) {
	var req BaseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.baseHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	v, err := s.sessions.SelectBase(chi.URLParam(r, "id"), req.BasePhrase)
	if err != nil {
		writeError(w, "Server.baseHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(v))
}

func (s *Server) speakHandler(w http.ResponseWriter, r *http.Request) {
	var req SpeakRequest
	if err := decodeJSON(r, &req, false); err != nil {
		slog.Warn("Server.speakHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	res, err := s.sessions.Speak(r.Context(), chi.URLParam(r, "id"), req.Activity)
	if err != nil {
		writeError(w, "Server.speakHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(res.Notice, res))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			slog.Warn("Server.historyHandler: invalid limit", "limit", raw)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := s.sessions.History(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, "Server.historyHandler", err)
		return
	}
	items := lo.Map(entries, func(e models.HistoryEntry, _ int) HistoryItem {
		return HistoryItem{Text: e.Text, Time: e.Time, Display: e.Display()}
	})
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

func (s *Server) audioHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		writeError(w, "Server.audioHandler", err)
		return
	}
	clip, ok := s.speaker.LastClip(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No audio available"))
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Audio)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Utterance-Id", clip.UtteranceID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip.Audio); err != nil {
		slog.Debug("Server.audioHandler: write failed", "error", err, "session_id", id)
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.hub == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Websocket speech not enabled"))
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		writeError(w, "Server.wsHandler", err)
		return
	}
	s.hub.ServeWS(w, r, id)
}
