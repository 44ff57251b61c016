package model

import "time"

// Conversation чат между одним студентом и одним учителем (плюс админ как
// наблюдатель), в рамках одного курса. На тройку (student_key, teacher_key,
// course_label) существует не более одного чата — это гарантирует уникальный
// индекс в БД.
type Conversation struct {
	ID              string         `json:"id"`
	StudentKey      string         `json:"student_key"`
	TeacherKey      string         `json:"teacher_key"`
	CourseLabel     string         `json:"course_label"` // пустая строка — тоже валидный курс
	ParticipantKeys []string       `json:"participant_keys"`
	LegacyTeacherID string         `json:"legacy_teacher_id,omitempty"` // старые записи индексированы скалярами
	LegacyStudentID string         `json:"legacy_student_id,omitempty"`
	LastMessage     string         `json:"last_message"`
	LastMessageTime time.Time      `json:"last_message_time"`
	Unread          map[string]int `json:"unread"`
	HiddenFor       []string       `json:"hidden_for"`
	CreatedAt       time.Time      `json:"created_at"`
}

// HiddenForKey проверяет скрыл ли участник чат у себя
func (c *Conversation) HiddenForKey(key string) bool {
	for _, k := range c.HiddenFor {
		if k == key {
			return true
		}
	}
	return false
}

// HasParticipant проверяет входит ли ключ в участников чата
func (c *Conversation) HasParticipant(key string) bool {
	for _, k := range c.ParticipantKeys {
		if k == key {
			return true
		}
	}
	return false
}
