package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

type eventService interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error)
	Get(ctx context.Context, id int64) (*models.Event, error)
	Create(ctx context.Context, req models.EventRequest) (*models.Event, error)
	Update(ctx context.Context, id int64, req models.EventRequest) (*models.Event, error)
}

type rosterService interface {
	ListByEvent(ctx context.Context, eventID int64) ([]models.RosterEntry, error)
}

// EventHandler exposes the event catalogue.
type EventHandler struct {
	events  eventService
	rosters rosterService
}

// NewEventHandler constructs the handler.
func NewEventHandler(events eventService, rosters rosterService) *EventHandler {
	return &EventHandler{events: events, rosters: rosters}
}

// List godoc
// @Summary List events
// @Tags Events
// @Produce json
// @Param tipo query string false "CUR, TAL, SEM or CON"
// @Param estado query string false "ACT, CER or CAN"
// @Param esPagado query bool false "Paid filter"
// @Param q query string false "Title search"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /eventos [get]
func (h *EventHandler) List(c *gin.Context) {
	filter := models.EventFilter{
		Search:   strings.TrimSpace(c.Query("q")),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "pageSize", 20),
	}
	if raw := c.Query("tipo"); raw != "" {
		t := models.EventType(strings.ToUpper(raw))
		filter.Type = &t
	}
	if raw := c.Query("estado"); raw != "" {
		s := models.EventStatus(strings.ToUpper(raw))
		filter.Status = &s
	}
	if raw := c.Query("esPagado"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "esPagado must be a boolean"))
			return
		}
		filter.Paid = &paid
	}

	events, pagination, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// Get godoc
// @Summary Get event
// @Tags Events
// @Produce json
// @Param id path int true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /eventos/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	event, err := h.events.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Create godoc
// @Summary Create event
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body models.EventRequest true "Event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /eventos [post]
func (h *EventHandler) Create(c *gin.Context) {
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.events.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Update godoc
// @Summary Replace event
// @Tags Events
// @Accept json
// @Produce json
// @Param id path int true "Event ID"
// @Param payload body models.EventRequest true "Event payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /eventos/{id} [put]
func (h *EventHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.events.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Roster godoc
// @Summary Event roster
// @Tags Events
// @Produce json
// @Param id path int true "Event ID"
// @Success 200 {object} response.Envelope
// @Router /eventos/{id}/inscripciones [get]
func (h *EventHandler) Roster(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	roster, err := h.rosters.ListByEvent(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}
