package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Имена каналов pg_notify — должны совпадать с триггерами в миграциях
const (
	ChannelConversations = "conversations_changed"
	ChannelAssignments   = "assignments_changed"
	ChannelNotifications = "notifications_changed"
)

// Event уведомление об изменении строки. Payload — id изменённой записи.
// Доставка как минимум однажды: подписчик обязан перечитывать запись и
// мерджить идемпотентно.
type Event struct {
	Channel string
	Payload string
}

// Hub слушает LISTEN/NOTIFY постгреса на выделенном соединении и раздаёт
// события подписчикам. Подписчики с переполненным буфером пропускают
// событие (с предупреждением в лог) — они в любом случае перечитывают
// состояние при следующем событии.
type Hub struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	channels []string

	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
}

// NewHub создаёт хаб для перечисленных каналов
func NewHub(pool *pgxpool.Pool, logger *zap.Logger, channels ...string) *Hub {
	if len(channels) == 0 {
		channels = []string{ChannelConversations, ChannelAssignments, ChannelNotifications}
	}
	return &Hub{
		pool:     pool,
		logger:   logger,
		channels: channels,
		subs:     make(map[string]map[int]chan Event),
	}
}

// Subscribe подписывает на события канала. Возвращённая функция отписки
// безопасна для повторных вызовов.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[int]chan Event)
	}
	h.nextID++
	id := h.nextID
	h.subs[channel][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Run держит соединение-слушатель, переподключаясь с бэкоффом.
// Блокируется до отмены контекста.
func (h *Hub) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := h.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h.logger.Warn("Watch hub connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (h *Hub) listen(ctx context.Context) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, channel := range h.channels {
		// channel — константа из этого пакета, но экранируем на всякий случай
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
	}

	h.logger.Info("Watch hub listening", zap.Strings("channels", h.channels))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		h.dispatch(Event{Channel: notification.Channel, Payload: notification.Payload})
	}
}

func (h *Hub) dispatch(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[event.Channel] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Watch subscriber buffer full, event dropped",
				zap.String("channel", event.Channel),
				zap.Int("subscriber", id),
			)
		}
	}
}
