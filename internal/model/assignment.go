package model

import "time"

// Assignment административная запись "этот студент и этот учитель должны
// общаться по этому курсу". ConversationID заполняется лениво: запись без
// чата — кандидат на бэкфилл (воркером или при открытии инбокса учителем).
type Assignment struct {
	ID             string    `json:"id"`
	StudentKey     string    `json:"student_key"`
	TeacherKey     string    `json:"teacher_key"`
	CourseLabel    string    `json:"course_label"`
	SessionLimit   int       `json:"session_limit"`
	AllowZoomLink  bool      `json:"allow_zoom_link"`
	ConversationID string    `json:"conversation_id,omitempty"` // пусто = чат ещё не создан
	CreatedAt      time.Time `json:"created_at"`
}
