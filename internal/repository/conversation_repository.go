package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationColumns = `id, student_key, teacher_key, course_label, participant_keys,
	legacy_teacher_id, legacy_student_id, last_message, last_message_time, unread, hidden_for, created_at`

type ConversationRepository struct {
	*base.Repository
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{Repository: base.NewRepository(pool)}
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.StudentKey,
		&conv.TeacherKey,
		&conv.CourseLabel,
		&conv.ParticipantKeys,
		&conv.LegacyTeacherID,
		&conv.LegacyStudentID,
		&conv.LastMessage,
		&conv.LastMessageTime,
		&conv.Unread,
		&conv.HiddenFor,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepository) queryConversations(ctx context.Context, query string, args ...interface{}) ([]*model.Conversation, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, nil
}

// Create вставляет новый чат. При конфликте по тройке (student_key,
// teacher_key, course_label) ничего не вставляет и возвращает false —
// вызывающий обязан перечитать существующую запись.
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) (bool, error) {
	query := `
		INSERT INTO conversations (id, student_key, teacher_key, course_label, participant_keys, unread)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_key, teacher_key, course_label) DO NOTHING
	`

	affected, err := r.ExecAffected(
		ctx, query,
		conv.ID,
		conv.StudentKey,
		conv.TeacherKey,
		conv.CourseLabel,
		conv.ParticipantKeys,
		conv.Unread,
	)
	if err != nil {
		return false, fmt.Errorf("create conversation: %w", err)
	}

	return affected > 0, nil
}

// GetByID получает чат по ID
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	query := fmt.Sprintf("SELECT %s FROM conversations WHERE id = $1", conversationColumns)

	conv, err := scanConversation(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation by id: %w", err)
	}
	return conv, nil
}

// FindByTriple ищет чат, у которого студент и учитель совпадают с любым из
// вариантов их идентификаторов, а курс — в точности. Так находятся чаты,
// созданные под другим "каноническим" вариантом идентификатора.
func (r *ConversationRepository) FindByTriple(ctx context.Context, studentKeys, teacherKeys []string, courseLabel string) (*model.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE student_key = ANY($1) AND teacher_key = ANY($2) AND course_label = $3
		LIMIT 1
	`, conversationColumns)

	conv, err := scanConversation(r.QueryRow(ctx, query, studentKeys, teacherKeys, courseLabel))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conversation by triple: %w", err)
	}
	return conv, nil
}

// ListByParticipant получает чаты, в participant_keys которых есть хотя бы
// один из ключей
func (r *ConversationRepository) ListByParticipant(ctx context.Context, keys []string) ([]*model.Conversation, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM conversations WHERE participant_keys && $1", conversationColumns)

	convs, err := r.queryConversations(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("list conversations by participant: %w", err)
	}
	return convs, nil
}

// ListByLegacyTeacher получает чаты, индексированные старым скалярным полем учителя
func (r *ConversationRepository) ListByLegacyTeacher(ctx context.Context, keys []string) ([]*model.Conversation, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM conversations WHERE legacy_teacher_id = ANY($1)", conversationColumns)

	convs, err := r.queryConversations(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("list conversations by legacy teacher: %w", err)
	}
	return convs, nil
}

// ListByLegacyStudent получает чаты, индексированные старым скалярным полем студента
func (r *ConversationRepository) ListByLegacyStudent(ctx context.Context, keys []string) ([]*model.Conversation, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM conversations WHERE legacy_student_id = ANY($1)", conversationColumns)

	convs, err := r.queryConversations(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("list conversations by legacy student: %w", err)
	}
	return convs, nil
}

// ListAll получает все чаты (только для административной консоли)
func (r *ConversationRepository) ListAll(ctx context.Context) ([]*model.Conversation, error) {
	query := fmt.Sprintf("SELECT %s FROM conversations", conversationColumns)

	convs, err := r.queryConversations(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all conversations: %w", err)
	}
	return convs, nil
}

// RecordMessage обновляет последнее сообщение и инкрементирует счётчики
// непрочитанного всем участникам кроме отправителя одним атомарным апдейтом
func (r *ConversationRepository) RecordMessage(ctx context.Context, conversationID, senderKey, text string, sentAt time.Time) error {
	query := `
		UPDATE conversations
		SET last_message = $2,
		    last_message_time = $3,
		    unread = (
		        SELECT COALESCE(jsonb_object_agg(key, CASE WHEN key = $4 THEN cnt ELSE cnt + 1 END), '{}')
		        FROM (
		            SELECT k AS key, COALESCE((unread->>k)::int, 0) AS cnt
		            FROM unnest(participant_keys) AS k
		        ) participants
		    )
		WHERE id = $1
	`

	affected, err := r.ExecAffected(ctx, query, conversationID, text, sentAt, senderKey)
	if err != nil {
		return fmt.Errorf("record message on conversation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}

// ResetUnread сбрасывает счётчик непрочитанного участника в ноль
func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID, participantKey string) error {
	query := `
		UPDATE conversations
		SET unread = jsonb_set(unread, ARRAY[$2], '0')
		WHERE id = $1
	`

	_, err := r.ExecAffected(ctx, query, conversationID, participantKey)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// SetHidden скрывает или показывает чат для конкретного участника
func (r *ConversationRepository) SetHidden(ctx context.Context, conversationID, participantKey string, hidden bool) error {
	var query string
	if hidden {
		query = `
			UPDATE conversations
			SET hidden_for = array_append(hidden_for, $2)
			WHERE id = $1 AND NOT ($2 = ANY(hidden_for))
		`
	} else {
		query = `
			UPDATE conversations
			SET hidden_for = array_remove(hidden_for, $2)
			WHERE id = $1
		`
	}

	_, err := r.ExecAffected(ctx, query, conversationID, participantKey)
	if err != nil {
		return fmt.Errorf("set hidden: %w", err)
	}
	return nil
}
