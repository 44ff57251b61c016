package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/model"
)

// chatIDSource поиск привязанного Telegram chat id по идентификаторам
type chatIDSource interface {
	GetTelegramChatID(ctx context.Context, keys []string) (int64, error)
}

// identityResolver варианты идентификаторов получателя
type identityResolver interface {
	ResolveVariants(ctx context.Context, ref string) []string
}

// Notifier доставляет уведомления в Telegram пользователям, привязавшим
// чат. Только отправка — входящие апдейты бот не обрабатывает.
type Notifier struct {
	bot      *bot.Bot
	users    chatIDSource
	resolver identityResolver
	logger   *zap.Logger
}

// NewNotifier создаёт Telegram-канал доставки
func NewNotifier(token string, users chatIDSource, resolver identityResolver, logger *zap.Logger) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Notifier{
		bot:      b,
		users:    users,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// Deliver отправляет уведомление в Telegram, если получатель привязал чат.
// Непривязанный получатель — не ошибка.
func (n *Notifier) Deliver(ctx context.Context, notification *model.Notification) error {
	keys := n.resolver.ResolveVariants(ctx, notification.RecipientID)

	chatID, err := n.users.GetTelegramChatID(ctx, keys)
	if err != nil {
		return fmt.Errorf("lookup telegram chat id: %w", err)
	}
	if chatID == 0 {
		return nil
	}

	text := notification.Title
	if notification.Message != "" {
		text += "\n" + notification.Message
	}

	_, err = n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}

	n.logger.Debug("Notification delivered to telegram",
		zap.String("notification_id", notification.ID),
		zap.Int64("chat_id", chatID),
	)

	return nil
}
