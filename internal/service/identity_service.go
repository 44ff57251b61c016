package service

import (
	"context"
	"strings"

	"github.com/edwork/tutorhub/internal/model"
	"go.uber.org/zap"
)

// UnknownUserName заглушка, когда ни одна стратегия не нашла имя
const UnknownUserName = "Unknown user"

// userDirectory нужные резолверу методы ролевых таблиц
type userDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	FindByAuthID(ctx context.Context, authID string) ([]*model.User, error)
	FindByEmail(ctx context.Context, email string) ([]*model.User, error)
}

// senderNameSource источник имени отправителя из истории чата
type senderNameSource interface {
	LatestSenderName(ctx context.Context, conversationID string, senderKeys []string) (string, error)
}

// IdentityService сводит разъехавшиеся идентификаторы одного человека.
// Исторически auth id, id документа и email назначались независимо, и записи
// в разных коллекциях ссылаются на пользователя кем попало. Резолвер никогда
// не падает: любая ошибка поиска трактуется как "не найдено".
type IdentityService struct {
	users    userDirectory
	messages senderNameSource
	logger   *zap.Logger
}

func NewIdentityService(users userDirectory, messages senderNameSource, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		users:    users,
		messages: messages,
		logger:   logger,
	}
}

// ResolveVariants возвращает все идентификаторы, которые могут указывать на
// того же человека, что и ref. Первый элемент — всегда сам ref, дальше
// детерминированный порядок (таблицы admins/teachers/students, id раньше
// auth_id). Несматченный ref вырождается в одноэлементный набор.
func (s *IdentityService) ResolveVariants(ctx context.Context, ref string) []string {
	variants := []string{ref}
	seen := map[string]bool{ref: true}

	add := func(value string) {
		if value != "" && !seen[value] {
			seen[value] = true
			variants = append(variants, value)
		}
	}

	// ref как id документа
	if user, err := s.users.GetByID(ctx, ref); err != nil {
		s.logger.Debug("Variant lookup by id failed", zap.String("ref", ref), zap.Error(err))
	} else if user != nil {
		add(user.AuthID)
		add(user.Email)
	}

	// ref как auth id
	if users, err := s.users.FindByAuthID(ctx, ref); err != nil {
		s.logger.Debug("Variant lookup by auth id failed", zap.String("ref", ref), zap.Error(err))
	} else {
		for _, user := range users {
			add(user.ID)
			add(user.Email)
		}
	}

	// ref как email
	if looksLikeEmail(ref) {
		if users, err := s.users.FindByEmail(ctx, ref); err != nil {
			s.logger.Debug("Variant lookup by email failed", zap.String("ref", ref), zap.Error(err))
		} else {
			for _, user := range users {
				add(user.ID)
				add(user.AuthID)
			}
		}
	}

	return variants
}

// nameStrategy одна именованная стратегия резолвинга отображаемого имени
type nameStrategy struct {
	name    string
	resolve func(ctx context.Context) (string, error)
}

// ResolveDisplayName находит человекочитаемое имя для ref. Стратегии
// пробуются строго по порядку, побеждает первая успешная. Гарантии, что у
// человека вообще есть находимое имя, нет — поэтому стабильная подпись
// важнее точности, и цепочка заканчивается заглушкой.
func (s *IdentityService) ResolveDisplayName(ctx context.Context, ref, conversationID string) string {
	chain := []nameStrategy{
		{
			name: "document_id",
			resolve: func(ctx context.Context) (string, error) {
				user, err := s.users.GetByID(ctx, ref)
				if err != nil || user == nil {
					return "", err
				}
				return user.DisplayName, nil
			},
		},
		{
			name: "auth_id",
			resolve: func(ctx context.Context) (string, error) {
				users, err := s.users.FindByAuthID(ctx, ref)
				if err != nil {
					return "", err
				}
				for _, user := range users {
					if user.DisplayName != "" {
						return user.DisplayName, nil
					}
				}
				return "", nil
			},
		},
		{
			name: "email",
			resolve: func(ctx context.Context) (string, error) {
				if !looksLikeEmail(ref) {
					return "", nil
				}
				users, err := s.users.FindByEmail(ctx, ref)
				if err != nil {
					return "", err
				}
				for _, user := range users {
					if user.DisplayName != "" {
						return user.DisplayName, nil
					}
				}
				return "", nil
			},
		},
		{
			name: "last_message_sender",
			resolve: func(ctx context.Context) (string, error) {
				if conversationID == "" {
					return "", nil
				}
				return s.messages.LatestSenderName(ctx, conversationID, s.ResolveVariants(ctx, ref))
			},
		},
		{
			name: "email_local_part",
			resolve: func(ctx context.Context) (string, error) {
				if !looksLikeEmail(ref) {
					return "", nil
				}
				return strings.SplitN(ref, "@", 2)[0], nil
			},
		},
	}

	for _, strategy := range chain {
		name, err := strategy.resolve(ctx)
		if err != nil {
			// ошибка поиска = не найдено, спускаемся по цепочке дальше
			s.logger.Debug("Name strategy failed",
				zap.String("strategy", strategy.name),
				zap.String("ref", ref),
				zap.Error(err),
			)
			continue
		}
		if name != "" {
			return name
		}
	}

	return UnknownUserName
}

func looksLikeEmail(ref string) bool {
	at := strings.Index(ref, "@")
	return at > 0 && at < len(ref)-1
}
