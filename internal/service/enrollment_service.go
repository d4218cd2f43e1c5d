package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/repository"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
)

type enrollmentEventReader interface {
	FindByID(ctx context.Context, id int64) (*models.Event, error)
}

type enrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByUserAndEvent(ctx context.Context, userID, eventID int64) (*models.EnrollmentDetail, error)
	ListByUser(ctx context.Context, userID int64) ([]models.EnrollmentDetail, error)
	ListByEvent(ctx context.Context, eventID int64) ([]models.RosterEntry, error)
}

// EnrollmentService registers users in events.
type EnrollmentService struct {
	events      enrollmentEventReader
	enrollments enrollmentRepository
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(events enrollmentEventReader, enrollments enrollmentRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{events: events, enrollments: enrollments, metrics: metrics, validator: validate, logger: logger}
}

// Create enrolls req.UserID in req.EventID. The repository derives the status
// (PEN for paid events, ACE for free ones) and the amount due from the event
// row inside the insert transaction; no payment row is created here.
func (s *EnrollmentService) Create(ctx context.Context, actor models.Actor, req models.CreateEnrollmentRequest) (*models.EnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if !actor.CanActFor(req.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot enroll another user")
	}

	enrollment := &models.Enrollment{
		UserID:     req.UserID,
		EventID:    req.EventID,
		Motivation: req.Motivation,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			return nil, appErrors.ErrDuplicateEnrollment
		case errors.Is(err, repository.ErrUnknownUser):
			return nil, appErrors.ErrUserNotFound
		case errors.Is(err, repository.ErrUnknownEvent):
			return nil, appErrors.ErrEventNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.RecordEnrollment(enrollment.Status)
	s.logger.Info("enrollment created",
		zap.Int64("enrollment_id", enrollment.ID),
		zap.Int64("user_id", enrollment.UserID),
		zap.Int64("event_id", enrollment.EventID),
		zap.String("estado", string(enrollment.Status)),
	)

	return &models.EnrollmentResult{
		EnrollmentID:    enrollment.ID,
		RequiresPayment: enrollment.RequiresPayment(),
		Amount:          enrollment.Amount,
		Status:          enrollment.Status,
	}, nil
}

// GetForEvent returns the user's enrollment in the event, or nil when there is none.
func (s *EnrollmentService) GetForEvent(ctx context.Context, actor models.Actor, userID, eventID int64) (*models.EnrollmentDetail, error) {
	if !actor.CanActFor(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's enrollments")
	}
	detail, err := s.enrollments.FindByUserAndEvent(ctx, userID, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// ListByUser returns every enrollment of a user.
func (s *EnrollmentService) ListByUser(ctx context.Context, actor models.Actor, userID int64) ([]models.EnrollmentDetail, error) {
	if !actor.CanActFor(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's enrollments")
	}
	details, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if details == nil {
		details = []models.EnrollmentDetail{}
	}
	return details, nil
}

// ListByEvent returns the roster of an event.
func (s *EnrollmentService) ListByEvent(ctx context.Context, eventID int64) ([]models.RosterEntry, error) {
	if _, err := s.events.FindByID(ctx, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEventNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	roster, err := s.enrollments.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	if roster == nil {
		roster = []models.RosterEntry{}
	}
	return roster, nil
}
