package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/watch"
)

// recordingDeliverer считает доставки и умеет ломаться
type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []*model.Notification
	err       error
}

func (d *recordingDeliverer) Deliver(_ context.Context, n *model.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, n)
	return nil
}

type notificationFixture struct {
	service   *NotificationService
	store     *fakeNotificationStore
	hub       *fakeHub
	deliverer *recordingDeliverer
}

func newNotificationFixture() *notificationFixture {
	store := newFakeNotificationStore()
	hub := newFakeHub()
	deliverer := &recordingDeliverer{}
	resolver := &stubResolver{variants: map[string][]string{}, names: map[string]string{}}

	return &notificationFixture{
		service:   NewNotificationService(store, resolver, hub, deliverer, zap.NewNop()),
		store:     store,
		hub:       hub,
		deliverer: deliverer,
	}
}

func waitNotificationUpdate(t *testing.T, updates <-chan []*model.Notification) []*model.Notification {
	t.Helper()
	select {
	case list := <-updates:
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification update")
		return nil
	}
}

func TestCreateNotification(t *testing.T) {
	f := newNotificationFixture()

	id, err := f.service.Create(context.Background(), "kate", model.NotificationChatCreated,
		"New chat", "You have a new chat", ChatMeta{ChatID: "conv-1", CourseName: "math"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "kate", stored.RecipientID)
	require.False(t, stored.Read)

	var meta ChatMeta
	require.NoError(t, json.Unmarshal(stored.Details, &meta))
	require.Equal(t, "conv-1", meta.ChatID)
	require.Equal(t, "math", meta.CourseName)

	require.Len(t, f.deliverer.delivered, 1)
}

func TestCreateNotificationDeliveryFailureTolerated(t *testing.T) {
	f := newNotificationFixture()
	f.deliverer.err = fmt.Errorf("telegram down")

	id, err := f.service.Create(context.Background(), "kate", model.NotificationChatCreated,
		"New chat", "", nil)
	require.NoError(t, err)

	// запись состоялась, провал доставки не откатывает её
	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCreateChatAssignmentNotifications(t *testing.T) {
	f := newNotificationFixture()

	meta := ChatMeta{ChatID: "conv-1", CourseName: "math", SessionLimit: 8}
	err := f.service.CreateChatAssignmentNotifications(context.Background(), "teacher-1", "student-1", meta)
	require.NoError(t, err)

	require.Len(t, f.store.notifications, 2)

	recipients := map[string]bool{}
	for _, n := range f.store.notifications {
		recipients[n.RecipientID] = true
		require.Equal(t, model.NotificationChatCreated, n.Type)

		var got ChatMeta
		require.NoError(t, json.Unmarshal(n.Details, &got))
		require.Equal(t, meta, got)
	}
	require.True(t, recipients["teacher-1"])
	require.True(t, recipients["student-1"])
}

func TestCreateChatAssignmentNotificationsPartialFailure(t *testing.T) {
	f := newNotificationFixture()
	f.store.createErrFor["teacher-1"] = fmt.Errorf("insert failed")

	err := f.service.CreateChatAssignmentNotifications(context.Background(),
		"teacher-1", "student-1", ChatMeta{ChatID: "conv-1"})
	require.Error(t, err)

	// успешная запись студенту не откатывается
	require.Len(t, f.store.notifications, 1)
	require.Equal(t, "student-1", f.store.notifications[0].RecipientID)
}

func TestListUnreadUsesVariants(t *testing.T) {
	f := newNotificationFixture()
	resolver := &stubResolver{variants: map[string][]string{
		"auth-k": {"auth-k", "kate"},
	}}
	f.service = NewNotificationService(f.store, resolver, f.hub, nil, zap.NewNop())

	_, err := f.service.Create(context.Background(), "kate", model.NotificationBatchCreated, "New batch", "", nil)
	require.NoError(t, err)

	// уведомление записано на id документа, запрос пришёл с auth id
	list, err := f.service.ListUnread(context.Background(), "auth-k")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestWatchUnreadLifecycle(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()

	updates := make(chan []*model.Notification, 16)
	cancel, err := f.service.WatchUnread(ctx, "kate", func(list []*model.Notification) {
		updates <- list
	})
	require.NoError(t, err)
	defer cancel()

	require.Empty(t, waitNotificationUpdate(t, updates))

	// чужое уведомление не генерирует emit
	foreignID, err := f.service.Create(ctx, "someone-else", model.NotificationBatchCreated, "New batch", "", nil)
	require.NoError(t, err)
	f.hub.emit(watch.ChannelNotifications, foreignID)

	ownID, err := f.service.Create(ctx, "kate", model.NotificationChatCreated, "New chat", "", nil)
	require.NoError(t, err)
	f.hub.emit(watch.ChannelNotifications, ownID)

	list := waitNotificationUpdate(t, updates)
	require.Len(t, list, 1)
	require.Equal(t, ownID, list[0].ID)

	// прочитанное уходит из ленты
	require.NoError(t, f.service.MarkRead(ctx, ownID))
	f.hub.emit(watch.ChannelNotifications, ownID)

	require.Empty(t, waitNotificationUpdate(t, updates))

	cancel()
	cancel() // повторная отмена безопасна
	require.Equal(t, 0, f.hub.subscriberCount(watch.ChannelNotifications))
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()

	id, err := f.service.Create(ctx, "kate", model.NotificationChatCreated, "New chat", "", nil)
	require.NoError(t, err)

	require.NoError(t, f.service.MarkRead(ctx, id))

	first, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, first.Read)
	require.NotNil(t, first.ReadAt)

	require.NoError(t, f.service.MarkRead(ctx, id))

	second, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first.ReadAt, second.ReadAt)
}
