package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edwork/tutorhub/internal/model"
)

type assignmentFixture struct {
	service       *AssignmentService
	assignments   *fakeAssignmentStore
	convs         *fakeConversationStore
	users         *fakeUserDirectory
	notifications *fakeNotificationStore
}

func newAssignmentFixture() *assignmentFixture {
	assignments := newFakeAssignmentStore()
	convs := newFakeConversationStore()
	users := &fakeUserDirectory{}
	notifications := newFakeNotificationStore()
	hub := newFakeHub()
	resolver := &stubResolver{variants: map[string][]string{}, names: map[string]string{}}

	notifier := NewNotificationService(notifications, resolver, hub, nil, zap.NewNop())
	chats := NewChatService(convs, &fakeMessageStore{}, resolver, notifier, nil, zap.NewNop())

	return &assignmentFixture{
		service:       NewAssignmentService(assignments, users, resolver, chats, notifier, zap.NewNop()),
		assignments:   assignments,
		convs:         convs,
		users:         users,
		notifications: notifications,
	}
}

func TestCreateAssignmentMaterializesChat(t *testing.T) {
	f := newAssignmentFixture()

	assignment, err := f.service.CreateAssignment(context.Background(),
		"student-1", "teacher-1", "math", 8, true)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	require.NotEmpty(t, assignment.ConversationID)
	require.Equal(t, 8, assignment.SessionLimit)
	require.True(t, assignment.AllowZoomLink)

	conv, err := f.convs.GetByID(context.Background(), assignment.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, "math", conv.CourseLabel)

	// chat_created обеим сторонам плюс batch_created обеим сторонам
	types := map[string]int{}
	for _, n := range f.notifications.notifications {
		types[n.Type]++
	}
	require.Equal(t, 2, types[model.NotificationChatCreated])
	require.Equal(t, 2, types[model.NotificationBatchCreated])
}

func TestCreateAssignmentReusesExistingChat(t *testing.T) {
	f := newAssignmentFixture()
	ctx := context.Background()

	first, err := f.service.CreateAssignment(ctx, "student-1", "teacher-1", "math", 8, false)
	require.NoError(t, err)

	second, err := f.service.CreateAssignment(ctx, "student-1", "teacher-1", "math", 16, false)
	require.NoError(t, err)

	// два назначения на одну тройку делят один чат
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.ConversationID, second.ConversationID)

	all, err := f.convs.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCreateAssignmentSurvivesNotificationFailure(t *testing.T) {
	f := newAssignmentFixture()
	f.notifications.createErrFor["teacher-1"] = context.DeadlineExceeded

	assignment, err := f.service.CreateAssignment(context.Background(),
		"student-1", "teacher-1", "math", 8, false)

	// назначение валидно и возвращается вместе с ошибкой уведомлений
	require.Error(t, err)
	require.NotNil(t, assignment)
	require.NotEmpty(t, assignment.ID)

	stored, getErr := f.assignments.GetByID(context.Background(), assignment.ID)
	require.NoError(t, getErr)
	require.NotNil(t, stored)
}

func TestListForViewer(t *testing.T) {
	f := newAssignmentFixture()
	ctx := context.Background()
	f.users.users = []*model.User{
		{ID: "admin-1", Role: model.RoleAdmin},
		{ID: "teacher-1", Role: model.RoleTeacher},
	}

	_, err := f.service.CreateAssignment(ctx, "student-1", "teacher-1", "math", 8, false)
	require.NoError(t, err)
	_, err = f.service.CreateAssignment(ctx, "student-2", "teacher-2", "physics", 8, false)
	require.NoError(t, err)

	list, err := f.service.ListForViewer(ctx, "teacher-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "teacher-1", list[0].TeacherKey)

	list, err = f.service.ListForViewer(ctx, "student-2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "student-2", list[0].StudentKey)

	list, err = f.service.ListForViewer(ctx, "admin-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = f.service.ListForViewer(ctx, model.AdminKey)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestBackfillConversationsIdempotent(t *testing.T) {
	f := newAssignmentFixture()
	ctx := context.Background()

	require.NoError(t, f.assignments.Create(ctx, &model.Assignment{
		ID:          "a-1",
		StudentKey:  "student-1",
		TeacherKey:  "teacher-1",
		CourseLabel: "math",
	}))
	require.NoError(t, f.assignments.Create(ctx, &model.Assignment{
		ID:          "a-2",
		StudentKey:  "student-2",
		TeacherKey:  "teacher-1",
		CourseLabel: "math",
	}))

	require.NoError(t, f.service.BackfillConversations(ctx))

	for _, id := range []string{"a-1", "a-2"} {
		a, err := f.assignments.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotEmpty(t, a.ConversationID)
	}

	all, err := f.convs.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// повторный проход ничего не создаёт
	require.NoError(t, f.service.BackfillConversations(ctx))

	all, err = f.convs.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
