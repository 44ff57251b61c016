package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// assignmentStore операции репозитория назначений
type assignmentStore interface {
	Create(ctx context.Context, a *model.Assignment) error
	ListByTeacher(ctx context.Context, keys []string) ([]*model.Assignment, error)
	ListByStudent(ctx context.Context, keys []string) ([]*model.Assignment, error)
	ListWithoutConversation(ctx context.Context) ([]*model.Assignment, error)
	ListAll(ctx context.Context) ([]*model.Assignment, error)
	AttachConversation(ctx context.Context, assignmentID, conversationID string) error
}

// batchNotifier создание уведомлений о назначении (generic Create)
type batchNotifier interface {
	Create(ctx context.Context, recipientKey, typ, title, message string, details interface{}) (string, error)
}

// AssignmentService административные назначения "студент + учитель + курс".
// Создание назначения сразу материализует чат и рассылает уведомления
// batch_created обеим сторонам.
type AssignmentService struct {
	store    assignmentStore
	roles    roleChecker
	resolver identityResolver
	chats    conversationCreator
	notifier batchNotifier
	logger   *zap.Logger
}

func NewAssignmentService(
	store assignmentStore,
	roles roleChecker,
	resolver identityResolver,
	chats conversationCreator,
	notifier batchNotifier,
	logger *zap.Logger,
) *AssignmentService {
	return &AssignmentService{
		store:    store,
		roles:    roles,
		resolver: resolver,
		chats:    chats,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateAssignment создаёт назначение, материализует чат и уведомляет обе
// стороны. Назначение валидно даже если уведомления не записались — их
// провал возвращается агрегированной ошибкой, отката нет.
func (s *AssignmentService) CreateAssignment(ctx context.Context, studentRef, teacherRef, courseLabel string, sessionLimit int, allowZoomLink bool) (*model.Assignment, error) {
	studentKey := s.resolver.ResolveVariants(ctx, studentRef)[0]
	teacherKey := s.resolver.ResolveVariants(ctx, teacherRef)[0]

	assignment := &model.Assignment{
		ID:            uuid.NewString(),
		StudentKey:    studentKey,
		TeacherKey:    teacherKey,
		CourseLabel:   courseLabel,
		SessionLimit:  sessionLimit,
		AllowZoomLink: allowZoomLink,
	}

	if err := s.store.Create(ctx, assignment); err != nil {
		return nil, err
	}

	conversationID, err := s.chats.GetOrCreateConversation(ctx, studentKey, teacherKey, courseLabel)
	if err != nil {
		// чат досоздаст бэкфилл, назначение уже записано
		s.logger.Warn("Assignment conversation creation failed",
			zap.String("assignment_id", assignment.ID),
			zap.Error(err),
		)
	} else {
		if err := s.store.AttachConversation(ctx, assignment.ID, conversationID); err != nil {
			s.logger.Warn("Assignment attach failed",
				zap.String("assignment_id", assignment.ID),
				zap.Error(err),
			)
		} else {
			assignment.ConversationID = conversationID
		}
	}

	meta := map[string]interface{}{
		"batch_id":        assignment.ID,
		"chat_id":         assignment.ConversationID,
		"course_name":     courseLabel,
		"session_limit":   sessionLimit,
		"allow_zoom_link": allowZoomLink,
	}

	_, teacherErr := s.notifier.Create(ctx, teacherKey, model.NotificationBatchCreated,
		"New batch",
		fmt.Sprintf("You have been assigned a new batch for course %q", courseLabel),
		meta,
	)
	_, studentErr := s.notifier.Create(ctx, studentKey, model.NotificationBatchCreated,
		"New batch",
		fmt.Sprintf("You have been enrolled in a new batch for course %q", courseLabel),
		meta,
	)

	if teacherErr != nil || studentErr != nil {
		return assignment, errors.Join(teacherErr, studentErr)
	}

	s.logger.Info("Assignment created",
		zap.String("assignment_id", assignment.ID),
		zap.String("conversation_id", assignment.ConversationID),
	)

	return assignment, nil
}

// ListForViewer получает назначения, видимые зрителю его роли
func (s *AssignmentService) ListForViewer(ctx context.Context, viewerRef string) ([]*model.Assignment, error) {
	keys := s.resolver.ResolveVariants(ctx, viewerRef)

	if viewerRef == model.AdminKey {
		return s.store.ListAll(ctx)
	}
	if isAdmin, err := s.roles.IsAdmin(ctx, keys); err == nil && isAdmin {
		return s.store.ListAll(ctx)
	}
	if isTeacher, err := s.roles.IsTeacher(ctx, keys); err == nil && isTeacher {
		return s.store.ListByTeacher(ctx, keys)
	}
	return s.store.ListByStudent(ctx, keys)
}

// BackfillConversations материализует чаты для всех назначений без чата.
// Идемпотентно: повторный проход по уже материализованным ничего не создаёт.
func (s *AssignmentService) BackfillConversations(ctx context.Context) error {
	assignments, err := s.store.ListWithoutConversation(ctx)
	if err != nil {
		return fmt.Errorf("list backfill candidates: %w", err)
	}

	for _, a := range assignments {
		conversationID, err := s.chats.GetOrCreateConversation(ctx, a.StudentKey, a.TeacherKey, a.CourseLabel)
		if err != nil {
			s.logger.Warn("Backfill conversation failed",
				zap.String("assignment_id", a.ID),
				zap.Error(err),
			)
			continue
		}
		if err := s.store.AttachConversation(ctx, a.ID, conversationID); err != nil {
			s.logger.Warn("Backfill attach failed",
				zap.String("assignment_id", a.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
