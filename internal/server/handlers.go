package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sociagent/internal/generation"
	"sociagent/internal/orchestrator"
	"sociagent/internal/store"
)

// chatApology is the floor answer when even the generation fallback fails.
// The chat surface never returns an error payload to the platform.
const chatApology = "Sorry, I can't answer that right now. Please try again in a little while."

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.agent.SwitchAccount(r.Context(), req.UserID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"response": true})
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	err := s.agent.ReloadPersona(r.Context(), store.Persona{
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"response": true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID           string   `json:"user_id"`
		ReplyLanguage    string   `json:"reply_language"`
		TopicalNamespace string   `json:"topical_namespace"`
		Communities      []string `json:"communities"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	err := s.agent.ReloadConfig(r.Context(), store.AccountConfig{
		UserID:           req.UserID,
		ReplyLanguage:    req.ReplyLanguage,
		TopicalNamespace: req.TopicalNamespace,
		Communities:      req.Communities,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"response": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	report, err := s.agent.RunDecisionCycle(r.Context())
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveAccount) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": true,
		"report":   report,
	})
}

func (s *Server) handleCheckSchedule(w http.ResponseWriter, r *http.Request) {
	posted, err := s.agent.CheckSchedule(r.Context())
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveAccount) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": true,
		"posted":   posted,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatMessage string `json:"chat_message"`
		SenderID    string `json:"sender_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ChatMessage == "" || req.SenderID == "" {
		s.writeError(w, http.StatusBadRequest, "chat_message and sender_id are required")
		return
	}

	parts, err := s.agent.Chat(r.Context(), req.SenderID, req.ChatMessage)
	if errors.Is(err, orchestrator.ErrNoActiveAccount) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		// The platform always gets text back.
		s.logger.Warn("chat failed, answering with apology",
			zap.String("sender", req.SenderID), zap.Error(err))
		parts = []string{chatApology}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"response": parts})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL       string `json:"image_url"`
		CaptionMessage string `json:"caption_message"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageURL == "" || req.CaptionMessage == "" {
		s.writeError(w, http.StatusBadRequest, "image_url and caption_message are required")
		return
	}

	post, err := s.agent.SchedulePost(r.Context(), req.ImageURL, req.CaptionMessage)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveAccount) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduled_time": post.ScheduledTime.Format(time.RFC3339),
		"reason":         post.Reason,
	})
}

func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageDescription  string   `json:"image_description"`
		CaptionKeywords   []string `json:"caption_keywords"`
		AdditionalContext string   `json:"additional_context"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageDescription == "" {
		s.writeError(w, http.StatusBadRequest, "image_description is required")
		return
	}

	caption, err := s.agent.Caption(r.Context(), generation.CaptionRequest{
		ImageDescription: req.ImageDescription,
		Keywords:         req.CaptionKeywords,
		Extra:            req.AdditionalContext,
	})
	if errors.Is(err, orchestrator.ErrNoActiveAccount) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("caption failed, answering with apology", zap.Error(err))
		caption = chatApology
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"response": caption})
}

func (s *Server) handleAutomationStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		MinInterval string `json:"min_interval"`
		MaxInterval string `json:"max_interval"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	minIv, err := parseOptionalDuration(req.MinInterval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid min_interval: "+err.Error())
		return
	}
	maxIv, err := parseOptionalDuration(req.MaxInterval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid max_interval: "+err.Error())
		return
	}
	ok, msg := s.auto.Start(req.UserID, minIv, maxIv)
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]interface{}{"response": ok, "message": msg})
}

func (s *Server) handleAutomationStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ok, msg := s.auto.Stop(req.UserID)
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]interface{}{"response": ok, "message": msg})
}

// parseOptionalDuration treats the empty string as "use the default".
func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": s.auto.StatusAll(),
	})
}
