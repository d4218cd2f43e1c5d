package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
)

const eventDateLayout = "2006-01-02"

type eventRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	Create(ctx context.Context, event *models.Event) error
	Update(ctx context.Context, event *models.Event) error
}

// EventService manages the event catalogue.
type EventService struct {
	repo      eventRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEventService creates an EventService.
func NewEventService(repo eventRepository, validate *validator.Validate, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EventService{repo: repo, validator: validate, logger: logger}
}

// List returns events matching the filter.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single event.
func (s *EventService) Get(ctx context.Context, id int64) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEventNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return event, nil
}

// Create publishes a new event.
func (s *EventService) Create(ctx context.Context, req models.EventRequest) (*models.Event, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}
	s.logger.Info("event created", zap.Int64("event_id", event.ID), zap.String("tipo", string(event.Type)))
	return event, nil
}

// Update replaces the attributes of an existing event.
func (s *EventService) Update(ctx context.Context, id int64, req models.EventRequest) (*models.Event, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		return nil, err
	}
	event.ID = id
	if err := s.repo.Update(ctx, event); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEventNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event")
	}
	return event, nil
}

func (s *EventService) buildEvent(req models.EventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}

	start, err := time.Parse(eventDateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fechaInicio")
	}
	end, err := time.Parse(eventDateLayout, req.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fechaFin")
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fechaFin must not precede fechaInicio")
	}

	cost := req.Cost
	if req.Paid {
		if !cost.IsPositive() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "paid events require a positive cost")
		}
	} else {
		cost = decimal.Zero
	}
	if req.PassingGrade.IsNegative() || req.PassingGrade.GreaterThan(decimal.NewFromInt(100)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notaAprobacion must be between 0 and 100")
	}

	status := req.Status
	if status == "" {
		status = models.EventStatusActive
	}

	return &models.Event{
		Title:         req.Title,
		Description:   req.Description,
		Type:          req.Type,
		Paid:          req.Paid,
		Cost:          cost.Round(2),
		MinAttendance: req.MinAttendance,
		PassingGrade:  req.PassingGrade.Round(2),
		StartDate:     start,
		EndDate:       end,
		Status:        status,
	}, nil
}
