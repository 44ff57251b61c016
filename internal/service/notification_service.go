package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/watch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// notificationStore операции репозитория уведомлений
type notificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListUnread(ctx context.Context, recipientKeys []string) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// Deliverer дополнительный канал доставки уведомлений (Telegram).
// Вызывается best-effort после успешной записи.
type Deliverer interface {
	Deliver(ctx context.Context, n *model.Notification) error
}

// eventSource подписка на события изменений (см. watch.Hub)
type eventSource interface {
	Subscribe(channel string) (<-chan watch.Event, func())
}

// NotificationService одноразовые уведомления и живая лента непрочитанного.
// Дедупликации нет: дубль уведомления об одном событии допустим и дешевле,
// чем распределённая проверка уникальности.
type NotificationService struct {
	store     notificationStore
	resolver  identityResolver
	hub       eventSource
	deliverer Deliverer
	logger    *zap.Logger
}

func NewNotificationService(
	store notificationStore,
	resolver identityResolver,
	hub eventSource,
	deliverer Deliverer,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		store:     store,
		resolver:  resolver,
		hub:       hub,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Create создаёт уведомление. Всегда новая запись, без дедупликации.
func (s *NotificationService) Create(ctx context.Context, recipientKey, typ, title, message string, details interface{}) (string, error) {
	var raw json.RawMessage
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return "", fmt.Errorf("encode notification details: %w", err)
		}
		raw = encoded
	}

	n := &model.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientKey,
		Type:        typ,
		Title:       title,
		Message:     message,
		Details:     raw,
	}

	if err := s.store.Create(ctx, n); err != nil {
		return "", err
	}

	if s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, n); err != nil {
			s.logger.Warn("Notification delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("recipient", recipientKey),
				zap.Error(err),
			)
		}
	}

	return n.ID, nil
}

// CreateChatAssignmentNotifications создаёт ровно два уведомления о новом
// чате — учителю и студенту. Частичный провал (одно записалось, второе нет)
// отдаётся вызывающему одной агрегированной ошибкой, компенсирующего отката
// успешной записи нет.
func (s *NotificationService) CreateChatAssignmentNotifications(ctx context.Context, teacherKey, studentKey string, meta ChatMeta) error {
	_, teacherErr := s.Create(ctx, teacherKey, model.NotificationChatCreated,
		"New chat",
		fmt.Sprintf("You have a new chat for course %q", meta.CourseName),
		meta,
	)

	_, studentErr := s.Create(ctx, studentKey, model.NotificationChatCreated,
		"New chat",
		fmt.Sprintf("You have a new chat for course %q", meta.CourseName),
		meta,
	)

	if teacherErr != nil || studentErr != nil {
		return errors.Join(teacherErr, studentErr)
	}
	return nil
}

// ListUnread одноразовая выборка непрочитанных уведомлений получателя
func (s *NotificationService) ListUnread(ctx context.Context, recipientKey string) ([]*model.Notification, error) {
	return s.store.ListUnread(ctx, s.resolver.ResolveVariants(ctx, recipientKey))
}

// WatchUnread живая лента непрочитанных уведомлений. onUpdate получает
// полный актуальный список при каждом изменении. Возвращённая функция
// отмены безопасна для повторных вызовов.
func (s *NotificationService) WatchUnread(ctx context.Context, recipientKey string, onUpdate func([]*model.Notification)) (func(), error) {
	keys := s.resolver.ResolveVariants(ctx, recipientKey)
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}

	initial, err := s.store.ListUnread(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load unread notifications: %w", err)
	}

	events, unsubscribe := s.hub.Subscribe(watch.ChannelNotifications)
	stop := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			close(stop)
		})
	}

	go func() {
		onUpdate(initial)

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				// перечитываем только если событие касается получателя
				n, err := s.store.GetByID(ctx, event.Payload)
				if err != nil {
					s.logger.Warn("Notification reread failed", zap.String("id", event.Payload), zap.Error(err))
					continue
				}
				if n == nil || !keySet[n.RecipientID] {
					continue
				}
				list, err := s.store.ListUnread(ctx, keys)
				if err != nil {
					s.logger.Warn("Unread list reread failed", zap.Error(err))
					continue
				}
				onUpdate(list)
			case <-stop:
				return
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return cancel, nil
}

// MarkRead помечает уведомление прочитанным. Идемпотентно.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}
