package model

import "time"

// Message сообщение внутри чата. Принадлежит только своему чату:
// добавляется один раз, дальше меняется только ReadBy.
// SenderName денормализован — это последний источник для резолвинга
// отображаемого имени, когда пользователь не находится ни в одной таблице.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	ReceiverID     string    `json:"receiver_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
	ReadBy         []string  `json:"read_by"`
}
