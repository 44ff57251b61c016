package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/watch"
	"go.uber.org/zap"
)

// conversationLister выборки чатов, нужные агрегатору
type conversationLister interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListByParticipant(ctx context.Context, keys []string) ([]*model.Conversation, error)
	ListByLegacyTeacher(ctx context.Context, keys []string) ([]*model.Conversation, error)
	ListByLegacyStudent(ctx context.Context, keys []string) ([]*model.Conversation, error)
	ListAll(ctx context.Context) ([]*model.Conversation, error)
}

// assignmentSource назначения и привязка материализованных чатов
type assignmentSource interface {
	GetByID(ctx context.Context, id string) (*model.Assignment, error)
	ListByTeacher(ctx context.Context, keys []string) ([]*model.Assignment, error)
	ListByStudent(ctx context.Context, keys []string) ([]*model.Assignment, error)
	ListWithoutConversation(ctx context.Context) ([]*model.Assignment, error)
	AttachConversation(ctx context.Context, assignmentID, conversationID string) error
}

// roleChecker проверка принадлежности ролевым таблицам
type roleChecker interface {
	IsAdmin(ctx context.Context, keys []string) (bool, error)
	IsTeacher(ctx context.Context, keys []string) (bool, error)
}

// conversationCreator ленивый get-or-create чата (см. ChatService)
type conversationCreator interface {
	GetOrCreateConversation(ctx context.Context, studentRef, teacherRef, courseLabel string) (string, error)
}

// viewerProfile классифицированный зритель: все варианты его
// идентификаторов и роль
type viewerProfile struct {
	keys      []string
	keySet    map[string]bool
	isAdmin   bool
	isTeacher bool
}

// InboxService собирает единый живой список чатов зрителя из нескольких
// несогласованно индексированных выборок. Мердж идемпотентен и коммутативен
// (последняя запись по id побеждает), поэтому порядок доставки событий между
// подписками не важен. Объединённой картой владеет единственная горутина —
// колбэки подписок шлют события, а не мутируют общее состояние.
type InboxService struct {
	convs       conversationLister
	assignments assignmentSource
	roles       roleChecker
	resolver    identityResolver
	chats       conversationCreator
	hub         eventSource
	logger      *zap.Logger
}

func NewInboxService(
	convs conversationLister,
	assignments assignmentSource,
	roles roleChecker,
	resolver identityResolver,
	chats conversationCreator,
	hub eventSource,
	logger *zap.Logger,
) *InboxService {
	return &InboxService{
		convs:       convs,
		assignments: assignments,
		roles:       roles,
		resolver:    resolver,
		chats:       chats,
		hub:         hub,
		logger:      logger,
	}
}

// WatchConversations открывает живой инбокс зрителя. onUpdate получает
// полный дедуплицированный список при каждом изменении; чаты, скрытые
// зрителем, отфильтрованы (админ видит и скрытые). Возвращённая функция
// отмены закрывает все подписки и безопасна для повторных вызовов.
func (s *InboxService) WatchConversations(ctx context.Context, viewerRef, viewerEmail string, onUpdate func([]*model.Conversation)) (func(), error) {
	profile := s.classify(ctx, viewerRef, viewerEmail)

	convEvents, unsubscribeConvs := s.hub.Subscribe(watch.ChannelConversations)
	assignmentEvents, unsubscribeAssignments := s.hub.Subscribe(watch.ChannelAssignments)

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribeConvs()
			unsubscribeAssignments()
			close(stop)
		})
	}

	go func() {
		state := make(map[string]*model.Conversation)

		s.loadInto(ctx, profile, state)
		s.backfillAssignments(ctx, profile)
		s.emit(profile, state, onUpdate)

		for {
			select {
			case event, ok := <-convEvents:
				if !ok {
					return
				}
				if s.applyConversationEvent(ctx, profile, state, event.Payload) {
					s.emit(profile, state, onUpdate)
				}
			case event, ok := <-assignmentEvents:
				if !ok {
					return
				}
				s.applyAssignmentEvent(ctx, profile, event.Payload)
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

// SnapshotConversations одноразовый вариант того же фан-аута и мерджа
func (s *InboxService) SnapshotConversations(ctx context.Context, viewerRef, viewerEmail string) ([]*model.Conversation, error) {
	profile := s.classify(ctx, viewerRef, viewerEmail)

	state := make(map[string]*model.Conversation)
	s.loadInto(ctx, profile, state)

	return s.visibleList(profile, state), nil
}

// classify определяет роль зрителя. Стратегии по порядку: сентинель "admin",
// таблица админов, таблица учителей, иначе студент. Ошибки проверок
// трактуются как "не найден".
func (s *InboxService) classify(ctx context.Context, viewerRef, viewerEmail string) *viewerProfile {
	keys := s.resolver.ResolveVariants(ctx, viewerRef)
	if viewerEmail != "" {
		email := strings.ToLower(viewerEmail)
		found := false
		for _, k := range keys {
			if k == email {
				found = true
				break
			}
		}
		if !found {
			keys = append(keys, email)
		}
	}

	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}

	profile := &viewerProfile{keys: keys, keySet: keySet}

	if viewerRef == model.AdminKey {
		profile.isAdmin = true
		return profile
	}

	if isAdmin, err := s.roles.IsAdmin(ctx, keys); err != nil {
		s.logger.Debug("Admin check failed", zap.String("viewer", viewerRef), zap.Error(err))
	} else if isAdmin {
		profile.isAdmin = true
		return profile
	}

	if isTeacher, err := s.roles.IsTeacher(ctx, keys); err != nil {
		s.logger.Debug("Teacher check failed", zap.String("viewer", viewerRef), zap.Error(err))
	} else if isTeacher {
		profile.isTeacher = true
	}

	return profile
}

// loadInto выполняет начальный фан-аут выборок и сливает результаты в state.
// Ошибки отдельных выборок не фатальны — инбокс деградирует до частичного.
func (s *InboxService) loadInto(ctx context.Context, profile *viewerProfile, state map[string]*model.Conversation) {
	merge := func(convs []*model.Conversation, err error, source string) {
		if err != nil {
			s.logger.Warn("Inbox load failed", zap.String("source", source), zap.Error(err))
			return
		}
		for _, conv := range convs {
			state[conv.ID] = conv
		}
	}

	if profile.isAdmin {
		// полный скан допустим только для административной консоли
		convs, err := s.convs.ListAll(ctx)
		merge(convs, err, "list_all")
		return
	}

	convs, err := s.convs.ListByParticipant(ctx, profile.keys)
	merge(convs, err, "participant")

	if profile.isTeacher {
		convs, err = s.convs.ListByLegacyTeacher(ctx, profile.keys)
		merge(convs, err, "legacy_teacher")
	} else {
		convs, err = s.convs.ListByLegacyStudent(ctx, profile.keys)
		merge(convs, err, "legacy_student")
	}
}

// backfillAssignments материализует чаты для назначений зрителя, у которых
// чата ещё нет. Созданные чаты придут в state событиями.
func (s *InboxService) backfillAssignments(ctx context.Context, profile *viewerProfile) {
	var (
		assignments []*model.Assignment
		err         error
	)

	switch {
	case profile.isAdmin:
		assignments, err = s.assignments.ListWithoutConversation(ctx)
	case profile.isTeacher:
		assignments, err = s.assignments.ListByTeacher(ctx, profile.keys)
	default:
		assignments, err = s.assignments.ListByStudent(ctx, profile.keys)
	}
	if err != nil {
		s.logger.Warn("Assignment backfill list failed", zap.Error(err))
		return
	}

	for _, a := range assignments {
		if a.ConversationID != "" {
			continue
		}
		s.materializeAssignment(ctx, a)
	}
}

func (s *InboxService) materializeAssignment(ctx context.Context, a *model.Assignment) {
	conversationID, err := s.chats.GetOrCreateConversation(ctx, a.StudentKey, a.TeacherKey, a.CourseLabel)
	if err != nil {
		s.logger.Warn("Assignment conversation backfill failed",
			zap.String("assignment_id", a.ID),
			zap.Error(err),
		)
		return
	}
	if err := s.assignments.AttachConversation(ctx, a.ID, conversationID); err != nil {
		s.logger.Warn("Assignment attach failed",
			zap.String("assignment_id", a.ID),
			zap.Error(err),
		)
	}
}

// applyConversationEvent перечитывает изменённый чат и обновляет state.
// Возвращает true, если state изменился и нужен emit.
func (s *InboxService) applyConversationEvent(ctx context.Context, profile *viewerProfile, state map[string]*model.Conversation, conversationID string) bool {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		s.logger.Warn("Conversation reread failed", zap.String("id", conversationID), zap.Error(err))
		return false
	}

	if conv == nil || !s.visibleTo(profile, conv) {
		if _, present := state[conversationID]; present {
			delete(state, conversationID)
			return true
		}
		return false
	}

	state[conv.ID] = conv
	return true
}

func (s *InboxService) applyAssignmentEvent(ctx context.Context, profile *viewerProfile, assignmentID string) {
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		s.logger.Warn("Assignment reread failed", zap.String("id", assignmentID), zap.Error(err))
		return
	}
	if a == nil || a.ConversationID != "" {
		return
	}
	if !profile.isAdmin && !profile.keySet[a.TeacherKey] && !profile.keySet[a.StudentKey] {
		return
	}
	s.materializeAssignment(ctx, a)
}

// visibleTo относится ли чат к зрителю вообще (независимо от hidden_for)
func (s *InboxService) visibleTo(profile *viewerProfile, conv *model.Conversation) bool {
	if profile.isAdmin {
		return true
	}
	for _, key := range conv.ParticipantKeys {
		if profile.keySet[key] {
			return true
		}
	}
	// старые записи без participant_keys индексированы скалярами
	if conv.TeacherKey != "" && profile.keySet[conv.TeacherKey] {
		return true
	}
	if conv.StudentKey != "" && profile.keySet[conv.StudentKey] {
		return true
	}
	if conv.LegacyTeacherID != "" && profile.keySet[conv.LegacyTeacherID] {
		return true
	}
	return conv.LegacyStudentID != "" && profile.keySet[conv.LegacyStudentID]
}

// visibleList строит итоговый список: дедуплицированный по id (state —
// карта), без скрытых зрителем чатов (админ видит скрытые), свежие сверху
func (s *InboxService) visibleList(profile *viewerProfile, state map[string]*model.Conversation) []*model.Conversation {
	list := make([]*model.Conversation, 0, len(state))

	for _, conv := range state {
		if !profile.isAdmin && s.hiddenForViewer(profile, conv) {
			continue
		}
		list = append(list, conv)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastMessageTime.After(list[j].LastMessageTime)
	})

	return list
}

func (s *InboxService) hiddenForViewer(profile *viewerProfile, conv *model.Conversation) bool {
	for _, key := range conv.HiddenFor {
		if profile.keySet[key] {
			return true
		}
	}
	return false
}

func (s *InboxService) emit(profile *viewerProfile, state map[string]*model.Conversation, onUpdate func([]*model.Conversation)) {
	onUpdate(s.visibleList(profile, state))
}
