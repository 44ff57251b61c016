package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type createAssignmentRequest struct {
	StudentRef    string `json:"student_ref"`
	TeacherRef    string `json:"teacher_ref"`
	CourseLabel   string `json:"course_label"`
	SessionLimit  int    `json:"session_limit"`
	AllowZoomLink bool   `json:"allow_zoom_link"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentRef == "" || req.TeacherRef == "" {
		writeError(w, http.StatusBadRequest, "missing_participant")
		return
	}

	assignment, err := s.assignments.CreateAssignment(
		r.Context(),
		req.StudentRef,
		req.TeacherRef,
		req.CourseLabel,
		req.SessionLimit,
		req.AllowZoomLink,
	)
	if err != nil {
		if assignment == nil {
			s.logger.Error("Create assignment failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		// назначение записано, провалились только уведомления
		s.logger.Warn("Assignment notifications failed",
			zap.String("assignment_id", assignment.ID),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"assignment": assignment})
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	viewerRef := claims.Subject
	if claims.Role == "admin" {
		viewerRef = "admin"
	}

	assignments, err := s.assignments.ListForViewer(r.Context(), viewerRef)
	if err != nil {
		s.logger.Error("List assignments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"assignments": assignments})
}
