package repository

import (
	"context"
	"fmt"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

const assignmentColumns = "id, student_key, teacher_key, course_label, session_limit, allow_zoom_link, conversation_id, created_at"

type AssignmentRepository struct {
	*base.Repository
}

func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{Repository: base.NewRepository(pool)}
}

// Create создаёт назначение
func (r *AssignmentRepository) Create(ctx context.Context, a *model.Assignment) error {
	query := `
		INSERT INTO assignments (id, student_key, teacher_key, course_label, session_limit, allow_zoom_link, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.QueryRow(
		ctx, query,
		a.ID,
		a.StudentKey,
		a.TeacherKey,
		a.CourseLabel,
		a.SessionLimit,
		a.AllowZoomLink,
		a.ConversationID,
	).Scan(&a.CreatedAt)

	if err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}

	return nil
}

func (r *AssignmentRepository) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]*model.Assignment, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*model.Assignment
	for rows.Next() {
		var a model.Assignment
		err := rows.Scan(
			&a.ID,
			&a.StudentKey,
			&a.TeacherKey,
			&a.CourseLabel,
			&a.SessionLimit,
			&a.AllowZoomLink,
			&a.ConversationID,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		list = append(list, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return list, nil
}

// ListWithoutConversation получает назначения без материализованного чата
func (r *AssignmentRepository) ListWithoutConversation(ctx context.Context) ([]*model.Assignment, error) {
	query := fmt.Sprintf("SELECT %s FROM assignments WHERE conversation_id = '' ORDER BY created_at", assignmentColumns)

	list, err := r.queryAssignments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assignments without conversation: %w", err)
	}
	return list, nil
}

// ListByTeacher получает назначения учителя по любому из его идентификаторов
func (r *AssignmentRepository) ListByTeacher(ctx context.Context, keys []string) ([]*model.Assignment, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM assignments WHERE teacher_key = ANY($1) ORDER BY created_at", assignmentColumns)

	list, err := r.queryAssignments(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("list assignments by teacher: %w", err)
	}
	return list, nil
}

// ListByStudent получает назначения студента по любому из его идентификаторов
func (r *AssignmentRepository) ListByStudent(ctx context.Context, keys []string) ([]*model.Assignment, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM assignments WHERE student_key = ANY($1) ORDER BY created_at", assignmentColumns)

	list, err := r.queryAssignments(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("list assignments by student: %w", err)
	}
	return list, nil
}

// ListAll получает все назначения (для административной консоли)
func (r *AssignmentRepository) ListAll(ctx context.Context) ([]*model.Assignment, error) {
	query := fmt.Sprintf("SELECT %s FROM assignments ORDER BY created_at", assignmentColumns)

	list, err := r.queryAssignments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all assignments: %w", err)
	}
	return list, nil
}

// GetByID получает назначение по ID
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*model.Assignment, error) {
	query := fmt.Sprintf("SELECT %s FROM assignments WHERE id = $1", assignmentColumns)

	list, err := r.queryAssignments(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get assignment by id: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// AttachConversation привязывает материализованный чат к назначению.
// Привязка выполняется только если чата ещё нет — повторный бэкфилл
// ничего не перезаписывает.
func (r *AssignmentRepository) AttachConversation(ctx context.Context, assignmentID, conversationID string) error {
	query := `
		UPDATE assignments
		SET conversation_id = $2
		WHERE id = $1 AND conversation_id = ''
	`

	_, err := r.ExecAffected(ctx, query, assignmentID, conversationID)
	if err != nil {
		return fmt.Errorf("attach conversation to assignment: %w", err)
	}
	return nil
}
