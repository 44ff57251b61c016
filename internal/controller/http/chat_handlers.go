package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type createChatRequest struct {
	StudentRef  string `json:"student_ref"`
	TeacherRef  string `json:"teacher_ref"`
	CourseLabel string `json:"course_label"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentRef == "" || req.TeacherRef == "" {
		writeError(w, http.StatusBadRequest, "missing_participant")
		return
	}

	// не-админ может создавать только чат с собственным участием
	if claims.Role != "admin" {
		self := func(ref string) bool {
			return ref == claims.Subject || (claims.Email != "" && strings.EqualFold(ref, claims.Email))
		}
		if !self(req.StudentRef) && !self(req.TeacherRef) {
			writeError(w, http.StatusForbidden, "not_a_participant")
			return
		}
	}

	conversationID, err := s.chats.GetOrCreateConversation(r.Context(), req.StudentRef, req.TeacherRef, req.CourseLabel)
	if err != nil {
		s.logger.Error("Create chat failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "conversation_unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conversationID})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	conversations, err := s.inbox.SnapshotConversations(r.Context(), claims.Subject, claims.Email)
	if err != nil {
		s.logger.Error("List chats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	ok, err := s.canAccessChat(r, chatID)
	if err != nil {
		s.logger.Error("Chat access check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	messages, err := s.chats.ListMessages(r.Context(), chatID)
	if err != nil {
		s.logger.Error("List messages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ok, err := s.canAccessChat(r, chatID)
	if err != nil {
		s.logger.Error("Chat access check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	msg, err := s.chats.SendMessage(r.Context(), chatID, claims.Subject, req.Text)
	if err != nil {
		s.logger.Error("Send message failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (s *Server) handleMarkChatRead(w http.ResponseWriter, r *http.Request) {
	s.handleChatAction(w, r, s.chats.MarkConversationRead)
}

func (s *Server) handleHideChat(w http.ResponseWriter, r *http.Request) {
	s.handleChatAction(w, r, s.chats.HideConversation)
}

func (s *Server) handleUnhideChat(w http.ResponseWriter, r *http.Request) {
	s.handleChatAction(w, r, s.chats.UnhideConversation)
}

// handleChatAction общий каркас для read/hide/unhide: проверка доступа и
// вызов операции от имени зрителя
func (s *Server) handleChatAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, conversationID, participantRef string) error) {
	claims := claimsFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	ok, err := s.canAccessChat(r, chatID)
	if err != nil {
		s.logger.Error("Chat access check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not_a_participant")
		return
	}

	if err := action(r.Context(), chatID, claims.Subject); err != nil {
		s.logger.Error("Chat action failed", zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
