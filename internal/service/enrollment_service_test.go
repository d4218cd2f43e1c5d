package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/repository"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
)

type mockEventReader struct {
	events map[int64]*models.Event
	err    error
}

func (m *mockEventReader) FindByID(ctx context.Context, id int64) (*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	if event, ok := m.events[id]; ok {
		copy := *event
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type enrollmentKey struct {
	userID  int64
	eventID int64
}

type mockEnrollmentRepo struct {
	events    *mockEventReader
	nextID    int64
	byPair    map[enrollmentKey]*models.Enrollment
	createErr error
	listErr   error
	roster    []models.RosterEntry
}

func newMockEnrollmentRepo(events *mockEventReader) *mockEnrollmentRepo {
	return &mockEnrollmentRepo{events: events, byPair: make(map[enrollmentKey]*models.Enrollment)}
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	event, ok := m.events.events[enrollment.EventID]
	if !ok {
		return repository.ErrUnknownEvent
	}
	enrollment.Status = models.InitialEnrollmentStatus(event.Paid)
	enrollment.Amount = event.ExpectedAmount()
	key := enrollmentKey{enrollment.UserID, enrollment.EventID}
	if _, exists := m.byPair[key]; exists {
		return repository.ErrDuplicateEnrollment
	}
	m.nextID++
	enrollment.ID = m.nextID
	copy := *enrollment
	m.byPair[key] = &copy
	return nil
}

func (m *mockEnrollmentRepo) FindByUserAndEvent(ctx context.Context, userID, eventID int64) (*models.EnrollmentDetail, error) {
	if enrollment, ok := m.byPair[enrollmentKey{userID, eventID}]; ok {
		return &models.EnrollmentDetail{Enrollment: *enrollment}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListByUser(ctx context.Context, userID int64) ([]models.EnrollmentDetail, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var details []models.EnrollmentDetail
	for key, enrollment := range m.byPair {
		if key.userID == userID {
			details = append(details, models.EnrollmentDetail{Enrollment: *enrollment})
		}
	}
	return details, nil
}

func (m *mockEnrollmentRepo) ListByEvent(ctx context.Context, eventID int64) ([]models.RosterEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.roster, nil
}

func paidEvent(id int64, cost string) *models.Event {
	return &models.Event{ID: id, Title: "Taller de Go", Paid: true, Cost: decimal.RequireFromString(cost), Status: models.EventStatusActive}
}

func freeEvent(id int64) *models.Event {
	return &models.Event{ID: id, Title: "Charla abierta", Paid: false, Cost: decimal.Zero, Status: models.EventStatusActive}
}

func newEnrollmentServiceForTest(events ...*models.Event) (*EnrollmentService, *mockEnrollmentRepo) {
	reader := &mockEventReader{events: make(map[int64]*models.Event)}
	for _, e := range events {
		reader.events[e.ID] = e
	}
	repo := newMockEnrollmentRepo(reader)
	return NewEnrollmentService(reader, repo, NewMetricsService(), validator.New(), zap.NewNop()), repo
}

func student(id int64) models.Actor {
	return models.Actor{UserID: id, Role: models.RoleStudent}
}

func TestEnrollmentServiceCreatePaidEvent(t *testing.T) {
	svc, repo := newEnrollmentServiceForTest(paidEvent(3, "50.00"))

	result, err := svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: 3})
	require.NoError(t, err)
	assert.True(t, result.RequiresPayment)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "50.00", result.Amount.StringFixed(2))
	assert.Equal(t, models.EnrollmentStatusPending, result.Status)
	assert.Equal(t, models.EnrollmentStatusPending, repo.byPair[enrollmentKey{7, 3}].Status)
}

func TestEnrollmentServiceCreateFreeEvent(t *testing.T) {
	svc, repo := newEnrollmentServiceForTest(freeEvent(4))

	result, err := svc.Create(context.Background(), student(9), models.CreateEnrollmentRequest{UserID: 9, EventID: 4})
	require.NoError(t, err)
	assert.False(t, result.RequiresPayment)
	assert.True(t, result.Amount.IsZero())
	assert.Equal(t, models.EnrollmentStatusAccepted, result.Status)
	assert.Equal(t, models.EnrollmentStatusAccepted, repo.byPair[enrollmentKey{9, 4}].Status)
}

func TestEnrollmentServiceCreateTwiceConflicts(t *testing.T) {
	svc, _ := newEnrollmentServiceForTest(paidEvent(3, "50"), freeEvent(4))

	for _, eventID := range []int64{3, 4} {
		_, err := svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: eventID})
		require.NoError(t, err)

		_, err = svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: eventID})
		require.Error(t, err)
		assert.ErrorIs(t, err, appErrors.ErrDuplicateEnrollment)
		assert.Equal(t, 400, appErrors.FromError(err).Status)
	}
}

func TestEnrollmentServiceCreateKeepsAmountWhenEventChanges(t *testing.T) {
	event := paidEvent(3, "50.00")
	svc, repo := newEnrollmentServiceForTest(event)

	result, err := svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: 3})
	require.NoError(t, err)
	assert.Equal(t, "50.00", result.Amount.StringFixed(2))

	event.Paid = false
	event.Cost = decimal.Zero

	stored := repo.byPair[enrollmentKey{7, 3}]
	assert.Equal(t, models.EnrollmentStatusPending, stored.Status)
	assert.Equal(t, "50.00", stored.Amount.StringFixed(2))
	assert.True(t, stored.RequiresPayment())
}

func TestEnrollmentServiceCreateErrors(t *testing.T) {
	tests := []struct {
		name    string
		actor   models.Actor
		req     models.CreateEnrollmentRequest
		repoErr error
		want    *appErrors.Error
	}{
		{name: "unknown event", actor: student(7), req: models.CreateEnrollmentRequest{UserID: 7, EventID: 99}, want: appErrors.ErrEventNotFound},
		{name: "other user", actor: student(8), req: models.CreateEnrollmentRequest{UserID: 7, EventID: 3}, want: appErrors.ErrForbidden},
		{name: "missing event id", actor: student(7), req: models.CreateEnrollmentRequest{UserID: 7}, want: appErrors.ErrValidation},
		{name: "unknown user", actor: models.Actor{UserID: 1, Role: models.RoleAdmin}, req: models.CreateEnrollmentRequest{UserID: 7, EventID: 3}, repoErr: repository.ErrUnknownUser, want: appErrors.ErrUserNotFound},
		{name: "driver failure", actor: student(7), req: models.CreateEnrollmentRequest{UserID: 7, EventID: 3}, repoErr: errors.New("connection reset"), want: appErrors.ErrInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newEnrollmentServiceForTest(paidEvent(3, "50"))
			repo.createErr = tc.repoErr
			_, err := svc.Create(context.Background(), tc.actor, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEnrollmentServiceAdminEnrollsOthers(t *testing.T) {
	svc, repo := newEnrollmentServiceForTest(freeEvent(4))
	admin := models.Actor{UserID: 1, Role: models.RoleAdmin}

	_, err := svc.Create(context.Background(), admin, models.CreateEnrollmentRequest{UserID: 9, EventID: 4})
	require.NoError(t, err)
	assert.Contains(t, repo.byPair, enrollmentKey{9, 4})
}

func TestEnrollmentServiceGetForEvent(t *testing.T) {
	svc, _ := newEnrollmentServiceForTest(paidEvent(3, "50"))

	detail, err := svc.GetForEvent(context.Background(), student(7), 7, 3)
	require.NoError(t, err)
	assert.Nil(t, detail)

	_, err = svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: 3})
	require.NoError(t, err)

	detail, err = svc.GetForEvent(context.Background(), student(7), 7, 3)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, int64(3), detail.EventID)

	_, err = svc.GetForEvent(context.Background(), student(8), 7, 3)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestEnrollmentServiceListByUser(t *testing.T) {
	svc, _ := newEnrollmentServiceForTest(paidEvent(3, "50"))

	list, err := svc.ListByUser(context.Background(), student(7), 7)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, err = svc.Create(context.Background(), student(7), models.CreateEnrollmentRequest{UserID: 7, EventID: 3})
	require.NoError(t, err)

	list, err = svc.ListByUser(context.Background(), models.Actor{UserID: 2, Role: models.RoleResponsible}, 7)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEnrollmentServiceListByEvent(t *testing.T) {
	svc, repo := newEnrollmentServiceForTest(paidEvent(3, "50"))
	repo.roster = []models.RosterEntry{{StudentName: "Ana Torres"}}

	roster, err := svc.ListByEvent(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	_, err = svc.ListByEvent(context.Background(), 42)
	assert.ErrorIs(t, err, appErrors.ErrEventNotFound)
}
