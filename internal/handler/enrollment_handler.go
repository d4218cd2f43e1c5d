package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

type enrollmentService interface {
	Create(ctx context.Context, actor models.Actor, req models.CreateEnrollmentRequest) (*models.EnrollmentResult, error)
	GetForEvent(ctx context.Context, actor models.Actor, userID, eventID int64) (*models.EnrollmentDetail, error)
	ListByUser(ctx context.Context, actor models.Actor, userID int64) ([]models.EnrollmentDetail, error)
}

// EnrollmentHandler exposes the student enrollment endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Enroll godoc
// @Summary Enroll a student in an event
// @Description Free events are accepted immediately; paid events stay pending until a payment is validated.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path int true "Student ID"
// @Param payload body models.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /estudiantes/{id}/inscribir [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.UserID = userID

	result, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Lookup godoc
// @Summary Find the student's enrollment in an event
// @Description Returns null data when the student is not enrolled.
// @Tags Enrollments
// @Produce json
// @Param id path int true "Student ID"
// @Param eventoId query int true "Event ID"
// @Success 200 {object} response.Envelope
// @Router /estudiantes/{id}/inscripcion [get]
func (h *EnrollmentHandler) Lookup(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	eventID, err := strconv.ParseInt(c.Query("eventoId"), 10, 64)
	if err != nil || eventID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "eventoId is required"))
		return
	}

	detail, err := h.service.GetForEvent(c.Request.Context(), actor, userID, eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if detail == nil {
		response.JSON(c, http.StatusOK, nil, nil)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// List godoc
// @Summary List the student's enrollments
// @Tags Enrollments
// @Produce json
// @Param id path int true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /estudiantes/{id}/inscripciones [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollments, err := h.service.ListByUser(c.Request.Context(), actor, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}
