package repository

import (
	"context"
	"fmt"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = "id, conversation_id, sender_id, sender_name, receiver_id, text, sent_at, read_by"

type MessageRepository struct {
	*base.Repository
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{Repository: base.NewRepository(pool)}
}

// Create добавляет сообщение в чат
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, receiver_id, text, read_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sent_at
	`

	err := r.QueryRow(
		ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		msg.ReceiverID,
		msg.Text,
		msg.ReadBy,
	).Scan(&msg.SentAt)

	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	return nil
}

// ListByConversation получает сообщения чата в порядке отправки
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at
	`, messageColumns)

	rows, err := r.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var msg model.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.ReceiverID,
			&msg.Text,
			&msg.SentAt,
			&msg.ReadBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// MarkReadBy помечает все сообщения чата прочитанными участником
func (r *MessageRepository) MarkReadBy(ctx context.Context, conversationID, participantKey string) error {
	query := `
		UPDATE messages
		SET read_by = array_append(read_by, $2)
		WHERE conversation_id = $1 AND NOT ($2 = ANY(read_by))
	`

	_, err := r.ExecAffected(ctx, query, conversationID, participantKey)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// LatestSenderName возвращает имя отправителя из самого свежего сообщения,
// отправленного любым из перечисленных идентификаторов в этом чате.
// Пустая строка — такого сообщения нет.
func (r *MessageRepository) LatestSenderName(ctx context.Context, conversationID string, senderKeys []string) (string, error) {
	if conversationID == "" || len(senderKeys) == 0 {
		return "", nil
	}

	query := `
		SELECT sender_name FROM messages
		WHERE conversation_id = $1 AND sender_id = ANY($2) AND sender_name <> ''
		ORDER BY sent_at DESC
		LIMIT 1
	`

	var name string
	err := r.QueryRow(ctx, query, conversationID, senderKeys).Scan(&name)
	if err != nil {
		if base.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("latest sender name: %w", err)
	}
	return name, nil
}
