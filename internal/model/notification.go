package model

import (
	"encoding/json"
	"time"
)

// Notification types
const (
	NotificationBatchCreated = "batch_created" // назначен новый батч (assignment)
	NotificationChatCreated  = "chat_created"  // создан новый чат
)

// Notification одноразовое уведомление конкретному получателю.
// Создаётся один раз, мутируется максимум один раз (отметка о прочтении),
// никогда не удаляется. Дедупликации нет — дубли допустимы.
type Notification struct {
	ID          string          `json:"id"`
	RecipientID string          `json:"recipient_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Details     json.RawMessage `json:"details,omitempty"`
	Read        bool            `json:"read"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}
