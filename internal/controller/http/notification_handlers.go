package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleListUnreadNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	notifications, err := s.notifications.ListUnread(r.Context(), claims.Subject)
	if err != nil {
		s.logger.Error("List unread notifications failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")

	if err := s.notifications.MarkRead(r.Context(), notificationID); err != nil {
		s.logger.Error("Mark notification read failed",
			zap.String("notification_id", notificationID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
