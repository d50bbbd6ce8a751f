package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Name() string { return "mock" }

func (m *MockChannel) Send(ctx context.Context, n *Notification, recipient *models.User) error {
	args := m.Called(ctx, n, recipient)
	return args.Error(0)
}

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockSES struct {
	mock.Mock
}

func (m *MockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	return &sesv2.SendEmailOutput{}, args.Error(0)
}

type MockSNS struct {
	mock.Mock
}

func (m *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	return &sns.PublishOutput{}, args.Error(0)
}

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func clock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestEnqueueIsIdempotent(t *testing.T) {
	outbox := NewMemoryOutbox()
	now := fixedNow
	svc := NewService(outbox, zap.NewNop()).WithClock(clock(&now))
	ctx := context.Background()

	req := Request{
		RecipientID:    uuid.New(),
		Subject:        "Review requested",
		Type:           TypeHandoff,
		IdempotencyKey: HandoffKey(uuid.New(), models.StatePendingReview, uuid.New(), uuid.New()),
	}
	first, err := svc.Enqueue(ctx, req)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, outbox.All(), 1)
	assert.Equal(t, PriorityNormal, outbox.All()[0].Priority)
}

func TestEnqueueRequiresRecipient(t *testing.T) {
	svc := NewService(NewMemoryOutbox(), zap.NewNop())
	_, err := svc.Enqueue(context.Background(), Request{Subject: "x"})
	assert.Error(t, err)
}

func TestReminderIsHeldUntilDeliverAfter(t *testing.T) {
	outbox := NewMemoryOutbox()
	now := fixedNow
	svc := NewService(outbox, zap.NewNop()).WithClock(clock(&now))
	later := fixedNow.Add(48 * time.Hour)

	_, err := svc.Enqueue(context.Background(), Request{
		RecipientID: uuid.New(), Subject: "Reminder", Type: TypeReminder, DeliverAfter: &later,
	})
	require.NoError(t, err)

	due, err := outbox.Due(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = outbox.Due(context.Background(), later, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDispatcherDeliversAndMarksSent(t *testing.T) {
	outbox := NewMemoryOutbox()
	now := fixedNow
	svc := NewService(outbox, zap.NewNop()).WithClock(clock(&now))
	recipient := &models.User{ID: uuid.New(), Email: "r@example.com", IsActive: true}

	users := new(MockUsers)
	users.On("GetUser", mock.Anything, recipient.ID).Return(recipient, nil)
	channel := new(MockChannel)
	channel.On("Send", mock.Anything, mock.Anything, recipient).Return(nil).Once()

	_, err := svc.Enqueue(context.Background(), Request{RecipientID: recipient.ID, Subject: "s", Type: TypeHandoff})
	require.NoError(t, err)

	d := NewDispatcher(outbox, users, []Channel{channel}, DispatcherConfig{}, zap.NewNop()).WithClock(clock(&now))
	sent, failed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, StatusSent, outbox.All()[0].Status)

	sent, _, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	channel.AssertExpectations(t)
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	outbox := NewMemoryOutbox()
	now := fixedNow
	svc := NewService(outbox, zap.NewNop()).WithClock(clock(&now))
	recipient := &models.User{ID: uuid.New(), IsActive: true}

	users := new(MockUsers)
	users.On("GetUser", mock.Anything, recipient.ID).Return(recipient, nil)
	channel := new(MockChannel)
	channel.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("throttled"))

	_, err := svc.Enqueue(context.Background(), Request{RecipientID: recipient.ID, Subject: "s", Type: TypeOverdue})
	require.NoError(t, err)

	d := NewDispatcher(outbox, users, []Channel{channel},
		DispatcherConfig{MaxAttempts: 2, Backoff: time.Minute}, zap.NewNop()).WithClock(clock(&now))

	_, failed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	row := outbox.All()[0]
	assert.Equal(t, StatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, fixedNow.Add(time.Minute), row.NextAttemptAt)

	// Not due again until the backoff elapses.
	_, failed, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	now = fixedNow.Add(time.Minute)
	_, failed, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	row = outbox.All()[0]
	assert.Equal(t, StatusFailed, row.Status)
	assert.Equal(t, 2, row.Attempts)
	assert.Contains(t, row.LastError, "throttled")
}

func TestEmailChannel(t *testing.T) {
	ses := new(MockSES)
	ses.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return *in.FromEmailAddress == "edms@example.com" &&
			in.Destination.ToAddresses[0] == "r@example.com" &&
			*in.Content.Simple.Subject.Data == "Approval requested"
	})).Return(nil)

	ch := NewEmailChannel(ses, "edms@example.com")
	n := &Notification{Subject: "Approval requested", Message: "SOP-0001 awaits approval"}
	require.NoError(t, ch.Send(context.Background(), n, &models.User{ID: uuid.New(), Email: "r@example.com"}))
	assert.Error(t, ch.Send(context.Background(), n, &models.User{ID: uuid.New()}))
	ses.AssertExpectations(t)
}

func TestTopicChannel(t *testing.T) {
	client := new(MockSNS)
	wfID := uuid.New()
	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return *in.TopicArn == "arn:aws:sns:eu-west-1:1:edms" &&
			*in.MessageAttributes["workflow_id"].StringValue == wfID.String() &&
			*in.MessageAttributes["notification_type"].StringValue == TypeRejection
	})).Return(nil)

	ch := NewTopicChannel(client, "arn:aws:sns:eu-west-1:1:edms")
	n := &Notification{Subject: "Rejected", Message: "m", Type: TypeRejection, Priority: PriorityHigh, WorkflowID: &wfID}
	require.NoError(t, ch.Send(context.Background(), n, &models.User{ID: uuid.New()}))
	client.AssertExpectations(t)
}
