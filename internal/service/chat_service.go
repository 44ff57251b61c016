package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Параметры ожидания на внутрипроцессной блокировке. Ожидание ограничено:
// бесконечный ретрай при длительной конкуренции — известный риск исходной
// схемы, здесь он закрыт, а корректность в любом случае держит уникальный
// индекс в БД.
const (
	lockMaxAttempts  = 40
	lockInitialDelay = 25 * time.Millisecond
	lockMaxDelay     = 400 * time.Millisecond
	lockTTL          = 10 * time.Second
)

// conversationStore операции репозитория чатов, нужные директории
type conversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindByTriple(ctx context.Context, studentKeys, teacherKeys []string, courseLabel string) (*model.Conversation, error)
	RecordMessage(ctx context.Context, conversationID, senderKey, text string, sentAt time.Time) error
	ResetUnread(ctx context.Context, conversationID, participantKey string) error
	SetHidden(ctx context.Context, conversationID, participantKey string, hidden bool) error
}

// messageStore операции репозитория сообщений
type messageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)
	MarkReadBy(ctx context.Context, conversationID, participantKey string) error
}

// identityResolver резолвер идентификаторов (см. IdentityService)
type identityResolver interface {
	ResolveVariants(ctx context.Context, ref string) []string
	ResolveDisplayName(ctx context.Context, ref, conversationID string) string
}

// chatNotifier создание парных уведомлений о новом чате
type chatNotifier interface {
	CreateChatAssignmentNotifications(ctx context.Context, teacherKey, studentKey string, meta ChatMeta) error
}

// Locker межпроцессная блокировка (Redis). nil допустим: тогда от гонок
// между процессами защищает только уникальный индекс.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ChatMeta данные нового чата для уведомлений
type ChatMeta struct {
	ChatID        string `json:"chat_id"`
	CourseName    string `json:"course_name"`
	SessionLimit  int    `json:"session_limit"`
	AllowZoomLink bool   `json:"allow_zoom_link"`
}

// ChatService идемпотентный get-or-create чатов плюс операции над
// сообщениями. Канонические ключи участников выбираются детерминированно —
// первый вариант из резолвера; чаты, созданные под другим вариантом,
// находятся расширенным по вариантам поиском до попытки вставки.
type ChatService struct {
	convs    conversationStore
	messages messageStore
	resolver identityResolver
	notifier chatNotifier
	locker   Locker
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]struct{}
}

func NewChatService(
	convs conversationStore,
	messages messageStore,
	resolver identityResolver,
	notifier chatNotifier,
	locker Locker,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		convs:    convs,
		messages: messages,
		resolver: resolver,
		notifier: notifier,
		locker:   locker,
		logger:   logger,
		locks:    make(map[string]struct{}),
	}
}

// GetOrCreateConversation возвращает id существующего чата для тройки
// (студент, учитель, курс) или создаёт новый. Два конкурентных вызова с
// одинаковыми аргументами вернут один и тот же id. Пустой courseLabel —
// полноценный ключ, а не отсутствие курса.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, studentRef, teacherRef, courseLabel string) (string, error) {
	studentKeys := s.resolver.ResolveVariants(ctx, studentRef)
	teacherKeys := s.resolver.ResolveVariants(ctx, teacherRef)

	studentKey := studentKeys[0]
	teacherKey := teacherKeys[0]
	lockKey := tripleLockKey(studentKey, teacherKey, courseLabel)

	release, err := s.acquireLock(ctx, lockKey)
	if err != nil {
		return "", err
	}
	defer release()

	existing, err := s.convs.FindByTriple(ctx, studentKeys, teacherKeys, courseLabel)
	if err != nil {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}
	if existing != nil {
		return existing.ID, nil
	}

	conv := &model.Conversation{
		ID:          uuid.NewString(),
		StudentKey:  studentKey,
		TeacherKey:  teacherKey,
		CourseLabel: courseLabel,
		ParticipantKeys: []string{
			studentKey,
			teacherKey,
			model.AdminKey,
		},
		Unread: map[string]int{
			studentKey:     0,
			teacherKey:     0,
			model.AdminKey: 0,
		},
	}

	inserted, err := s.convs.Create(ctx, conv)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	if !inserted {
		// кто-то успел раньше (другой процесс) — перечитываем его запись
		existing, err := s.convs.FindByTriple(ctx, studentKeys, teacherKeys, courseLabel)
		if err != nil {
			return "", fmt.Errorf("reread conversation after conflict: %w", err)
		}
		if existing == nil {
			return "", fmt.Errorf("conversation unavailable after insert conflict")
		}
		return existing.ID, nil
	}

	s.logger.Info("Conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("student_key", studentKey),
		zap.String("teacher_key", teacherKey),
		zap.String("course_label", courseLabel),
	)

	// уведомления best-effort: чат уже создан и валиден, даже если
	// уведомить не вышло
	err = s.notifier.CreateChatAssignmentNotifications(ctx, teacherKey, studentKey, ChatMeta{
		ChatID:     conv.ID,
		CourseName: courseLabel,
	})
	if err != nil {
		s.logger.Error("Chat notifications failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	return conv.ID, nil
}

// GetConversation получает чат по ID
func (s *ChatService) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return s.convs.GetByID(ctx, conversationID)
}

// CanAccess проверяет, относится ли чат к пользователю хотя бы одним из
// вариантов его идентификатора
func (s *ChatService) CanAccess(ctx context.Context, conversationID, ref string) (bool, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return false, nil
	}

	for _, variant := range s.resolver.ResolveVariants(ctx, ref) {
		if conv.HasParticipant(variant) {
			return true, nil
		}
		if variant == conv.StudentKey || variant == conv.TeacherKey {
			return true, nil
		}
		if variant != "" && (variant == conv.LegacyStudentID || variant == conv.LegacyTeacherID) {
			return true, nil
		}
	}
	return false, nil
}

// SendMessage добавляет сообщение и обновляет last_message и счётчики
// непрочитанного одним атомарным апдейтом чата
func (s *ChatService) SendMessage(ctx context.Context, conversationID, senderRef, text string) (*model.Message, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation not found")
	}

	senderKey := s.participantKeyFor(ctx, conv, senderRef)

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderKey,
		SenderName:     s.resolver.ResolveDisplayName(ctx, senderRef, conversationID),
		ReceiverID:     otherParticipant(conv, senderKey),
		Text:           text,
		ReadBy:         []string{senderKey},
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if err := s.convs.RecordMessage(ctx, conversationID, senderKey, text, msg.SentAt); err != nil {
		return nil, fmt.Errorf("update conversation after message: %w", err)
	}

	return msg, nil
}

// ListMessages получает сообщения чата
func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	return s.messages.ListByConversation(ctx, conversationID)
}

// MarkConversationRead сбрасывает счётчик непрочитанного участника и
// помечает его сообщения прочитанными
func (s *ChatService) MarkConversationRead(ctx context.Context, conversationID, participantRef string) error {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation not found")
	}

	key := s.participantKeyFor(ctx, conv, participantRef)

	if err := s.convs.ResetUnread(ctx, conversationID, key); err != nil {
		return err
	}
	if err := s.messages.MarkReadBy(ctx, conversationID, key); err != nil {
		return err
	}
	return nil
}

// HideConversation скрывает чат только для этого участника
func (s *ChatService) HideConversation(ctx context.Context, conversationID, participantRef string) error {
	return s.setHidden(ctx, conversationID, participantRef, true)
}

// UnhideConversation возвращает чат в инбокс участника
func (s *ChatService) UnhideConversation(ctx context.Context, conversationID, participantRef string) error {
	return s.setHidden(ctx, conversationID, participantRef, false)
}

func (s *ChatService) setHidden(ctx context.Context, conversationID, participantRef string, hidden bool) error {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation not found")
	}

	key := s.participantKeyFor(ctx, conv, participantRef)
	return s.convs.SetHidden(ctx, conversationID, key, hidden)
}

// participantKeyFor находит, каким именно ключом участник записан в этом
// чате. Если ни один вариант не совпал — используется сам ref.
func (s *ChatService) participantKeyFor(ctx context.Context, conv *model.Conversation, ref string) string {
	for _, variant := range s.resolver.ResolveVariants(ctx, ref) {
		if conv.HasParticipant(variant) {
			return variant
		}
	}
	return ref
}

// otherParticipant второй человек в чате (не отправитель и не админ)
func otherParticipant(conv *model.Conversation, senderKey string) string {
	for _, key := range conv.ParticipantKeys {
		if key != senderKey && key != model.AdminKey {
			return key
		}
	}
	return ""
}

// acquireLock берёт внутрипроцессную блокировку тройки и, если настроен
// Redis, межпроцессную. Занятая блокировка ждётся поллингом с растущей
// задержкой, число попыток ограничено. Возвращённый release обязателен к
// вызову на всех путях, включая ошибочные.
func (s *ChatService) acquireLock(ctx context.Context, lockKey string) (func(), error) {
	delay := lockInitialDelay

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		if s.tryLockLocal(lockKey) {
			if s.locker == nil {
				return func() { s.unlockLocal(lockKey) }, nil
			}

			acquired, err := s.locker.Acquire(ctx, lockKey, lockTTL)
			if err != nil {
				// Redis недоступен: деградируем до локальной блокировки,
				// межпроцессные гонки ловит уникальный индекс
				s.logger.Warn("Distributed lock unavailable", zap.Error(err))
				return func() { s.unlockLocal(lockKey) }, nil
			}
			if acquired {
				return func() {
					if err := s.locker.Release(ctx, lockKey); err != nil {
						s.logger.Warn("Distributed lock release failed", zap.Error(err))
					}
					s.unlockLocal(lockKey)
				}, nil
			}
			// тройку держит другой процесс — отпускаем локальную и ждём
			s.unlockLocal(lockKey)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		delay *= 2
		if delay > lockMaxDelay {
			delay = lockMaxDelay
		}
	}

	return nil, fmt.Errorf("conversation lock contention: %s", lockKey)
}

func (s *ChatService) tryLockLocal(lockKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[lockKey]; held {
		return false
	}
	s.locks[lockKey] = struct{}{}
	return true
}

func (s *ChatService) unlockLocal(lockKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey)
}

// tripleLockKey ключ блокировки — отсортированная тройка, чтобы порядок
// аргументов не влиял на ключ
func tripleLockKey(studentKey, teacherKey, courseLabel string) string {
	parts := []string{studentKey, teacherKey, courseLabel}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
