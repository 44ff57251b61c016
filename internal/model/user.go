package model

import "time"

// Role определяет ролевую таблицу, в которой живёт пользователь
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// AdminKey сентинельный идентификатор административного наблюдателя в чатах
const AdminKey = "admin"

// User пользователь одной из ролевых таблиц (admins / teachers / students).
// AuthID назначается внешним провайдером авторизации и может не совпадать
// с ID таблицы, дублироваться или отсутствовать — резолвер обязан
// переживать такие записи.
type User struct {
	ID             string    `json:"id"`
	AuthID         string    `json:"auth_id"`
	Email          string    `json:"email"` // всегда в нижнем регистре
	DisplayName    string    `json:"display_name"`
	Status         string    `json:"status"`
	Role           Role      `json:"role"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"` // 0 = не привязан
	CreatedAt      time.Time `json:"created_at"`
}
