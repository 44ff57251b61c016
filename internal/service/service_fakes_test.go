package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/watch"
)

// fakeUserDirectory ролевые таблицы в памяти
type fakeUserDirectory struct {
	users []*model.User
	// findErr ломает все выборки — для проверки деградации
	findErr error
}

func (f *fakeUserDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserDirectory) FindByAuthID(_ context.Context, authID string) ([]*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var found []*model.User
	for _, u := range f.users {
		if u.AuthID == authID {
			found = append(found, u)
		}
	}
	return found, nil
}

func (f *fakeUserDirectory) FindByEmail(_ context.Context, email string) ([]*model.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var found []*model.User
	for _, u := range f.users {
		if u.Email == email {
			found = append(found, u)
		}
	}
	return found, nil
}

func (f *fakeUserDirectory) IsAdmin(_ context.Context, keys []string) (bool, error) {
	return f.hasRole(keys, model.RoleAdmin), nil
}

func (f *fakeUserDirectory) IsTeacher(_ context.Context, keys []string) (bool, error) {
	return f.hasRole(keys, model.RoleTeacher), nil
}

func (f *fakeUserDirectory) hasRole(keys []string, role model.Role) bool {
	for _, u := range f.users {
		if u.Role != role {
			continue
		}
		for _, k := range keys {
			if k == u.ID || (u.AuthID != "" && k == u.AuthID) || (u.Email != "" && k == u.Email) {
				return true
			}
		}
	}
	return false
}

// fakeMessageStore сообщения в памяти
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*model.Message
}

func (f *fakeMessageStore) Create(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessageStore) ListByConversation(_ context.Context, conversationID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			list = append(list, m)
		}
	}
	return list, nil
}

func (f *fakeMessageStore) MarkReadBy(_ context.Context, conversationID, participantKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ConversationID != conversationID {
			continue
		}
		seen := false
		for _, k := range m.ReadBy {
			if k == participantKey {
				seen = true
				break
			}
		}
		if !seen {
			m.ReadBy = append(m.ReadBy, participantKey)
		}
	}
	return nil
}

func (f *fakeMessageStore) LatestSenderName(_ context.Context, conversationID string, senderKeys []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		m := f.messages[i]
		if m.ConversationID != conversationID || m.SenderName == "" {
			continue
		}
		for _, k := range senderKeys {
			if m.SenderID == k {
				return m.SenderName, nil
			}
		}
	}
	return "", nil
}

// fakeConversationStore чаты в памяти с честной уникальностью тройки
type fakeConversationStore struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{convs: make(map[string]*model.Conversation)}
}

func (f *fakeConversationStore) Create(_ context.Context, conv *model.Conversation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.convs {
		if existing.StudentKey == conv.StudentKey &&
			existing.TeacherKey == conv.TeacherKey &&
			existing.CourseLabel == conv.CourseLabel {
			return false, nil
		}
	}
	clone := *conv
	clone.CreatedAt = time.Now()
	f.convs[conv.ID] = &clone
	return true, nil
}

func (f *fakeConversationStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, nil
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeConversationStore) FindByTriple(_ context.Context, studentKeys, teacherKeys []string, courseLabel string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.CourseLabel != courseLabel {
			continue
		}
		if contains(studentKeys, conv.StudentKey) && contains(teacherKeys, conv.TeacherKey) {
			clone := *conv
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeConversationStore) RecordMessage(_ context.Context, conversationID, senderKey, text string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation not found")
	}
	conv.LastMessage = text
	conv.LastMessageTime = sentAt
	for _, key := range conv.ParticipantKeys {
		if key != senderKey {
			conv.Unread[key]++
		}
	}
	return nil
}

func (f *fakeConversationStore) ResetUnread(_ context.Context, conversationID, participantKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[conversationID]; ok {
		conv.Unread[participantKey] = 0
	}
	return nil
}

func (f *fakeConversationStore) SetHidden(_ context.Context, conversationID, participantKey string, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil
	}
	if hidden {
		if !conv.HiddenForKey(participantKey) {
			conv.HiddenFor = append(conv.HiddenFor, participantKey)
		}
		return nil
	}
	var kept []string
	for _, k := range conv.HiddenFor {
		if k != participantKey {
			kept = append(kept, k)
		}
	}
	conv.HiddenFor = kept
	return nil
}

func (f *fakeConversationStore) ListByParticipant(_ context.Context, keys []string) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Conversation
	for _, conv := range f.convs {
		for _, key := range keys {
			if conv.HasParticipant(key) {
				clone := *conv
				list = append(list, &clone)
				break
			}
		}
	}
	return list, nil
}

func (f *fakeConversationStore) ListByLegacyTeacher(_ context.Context, keys []string) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Conversation
	for _, conv := range f.convs {
		if conv.LegacyTeacherID != "" && contains(keys, conv.LegacyTeacherID) {
			clone := *conv
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (f *fakeConversationStore) ListByLegacyStudent(_ context.Context, keys []string) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Conversation
	for _, conv := range f.convs {
		if conv.LegacyStudentID != "" && contains(keys, conv.LegacyStudentID) {
			clone := *conv
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (f *fakeConversationStore) ListAll(_ context.Context) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Conversation
	for _, conv := range f.convs {
		clone := *conv
		list = append(list, &clone)
	}
	return list, nil
}

func (f *fakeConversationStore) put(conv *model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[conv.ID] = conv
}

// fakeAssignmentStore назначения в памяти
type fakeAssignmentStore struct {
	mu          sync.Mutex
	assignments map[string]*model.Assignment
}

func newFakeAssignmentStore() *fakeAssignmentStore {
	return &fakeAssignmentStore{assignments: make(map[string]*model.Assignment)}
}

func (f *fakeAssignmentStore) Create(_ context.Context, a *model.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = time.Now()
	clone := *a
	f.assignments[a.ID] = &clone
	return nil
}

func (f *fakeAssignmentStore) GetByID(_ context.Context, id string) (*model.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

func (f *fakeAssignmentStore) ListByTeacher(_ context.Context, keys []string) ([]*model.Assignment, error) {
	return f.filter(func(a *model.Assignment) bool { return contains(keys, a.TeacherKey) }), nil
}

func (f *fakeAssignmentStore) ListByStudent(_ context.Context, keys []string) ([]*model.Assignment, error) {
	return f.filter(func(a *model.Assignment) bool { return contains(keys, a.StudentKey) }), nil
}

func (f *fakeAssignmentStore) ListWithoutConversation(_ context.Context) ([]*model.Assignment, error) {
	return f.filter(func(a *model.Assignment) bool { return a.ConversationID == "" }), nil
}

func (f *fakeAssignmentStore) ListAll(_ context.Context) ([]*model.Assignment, error) {
	return f.filter(func(*model.Assignment) bool { return true }), nil
}

func (f *fakeAssignmentStore) AttachConversation(_ context.Context, assignmentID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.assignments[assignmentID]; ok && a.ConversationID == "" {
		a.ConversationID = conversationID
	}
	return nil
}

func (f *fakeAssignmentStore) filter(keep func(*model.Assignment) bool) []*model.Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Assignment
	for _, a := range f.assignments {
		if keep(a) {
			clone := *a
			list = append(list, &clone)
		}
	}
	return list
}

// fakeNotificationStore уведомления в памяти
type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications []*model.Notification
	// createErrFor провал записи для конкретного получателя
	createErrFor map[string]error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{createErrFor: make(map[string]error)}
}

func (f *fakeNotificationStore) Create(_ context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[n.RecipientID]; err != nil {
		return err
	}
	n.CreatedAt = time.Now()
	clone := *n
	f.notifications = append(f.notifications, &clone)
	return nil
}

func (f *fakeNotificationStore) GetByID(_ context.Context, id string) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == id {
			clone := *n
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeNotificationStore) ListUnread(_ context.Context, recipientKeys []string) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*model.Notification
	for _, n := range f.notifications {
		if !n.Read && contains(recipientKeys, n.RecipientID) {
			clone := *n
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (f *fakeNotificationStore) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == id && !n.Read {
			now := time.Now()
			n.Read = true
			n.ReadAt = &now
		}
	}
	return nil
}

// fakeHub ручная подача событий в подписки
type fakeHub struct {
	mu   sync.Mutex
	subs map[string][]chan watch.Event
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: make(map[string][]chan watch.Event)}
}

func (h *fakeHub) Subscribe(channel string) (<-chan watch.Event, func()) {
	ch := make(chan watch.Event, 16)
	h.mu.Lock()
	h.subs[channel] = append(h.subs[channel], ch)
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, sub := range h.subs[channel] {
				if sub == ch {
					h.subs[channel] = append(h.subs[channel][:i], h.subs[channel][i+1:]...)
					break
				}
			}
		})
	}
}

func (h *fakeHub) emit(channel, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[channel] {
		ch <- watch.Event{Channel: channel, Payload: payload}
	}
}

func (h *fakeHub) subscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

// noopNotifier чат-уведомления, считающие вызовы
type noopNotifier struct {
	mu    sync.Mutex
	calls []ChatMeta
}

func (n *noopNotifier) CreateChatAssignmentNotifications(_ context.Context, _, _ string, meta ChatMeta) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, meta)
	return nil
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
