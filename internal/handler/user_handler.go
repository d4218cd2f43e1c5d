package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventos-api/internal/models"
	appErrors "github.com/noah-isme/eventos-api/pkg/errors"
	"github.com/noah-isme/eventos-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id int64) (*models.User, error)
	Register(ctx context.Context, req models.CreateUserRequest, actor *models.Actor) (*models.User, error)
	UpdateStatus(ctx context.Context, id int64, req models.UpdateUserStatusRequest) (*models.User, error)
}

// UserHandler handles account endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param rol query string false "Role filter"
// @Param estado query string false "Status filter"
// @Param q query string false "Search term"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /usuarios [get]
func (h *UserHandler) List(c *gin.Context) {
	filter := models.UserFilter{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "pageSize", 20),
		Search:   strings.TrimSpace(c.Query("q")),
	}
	if role := c.Query("rol"); role != "" {
		r := models.UserRole(strings.ToUpper(role))
		if !r.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rol filter"))
			return
		}
		filter.Role = &r
	}
	if status := c.Query("estado"); status != "" {
		s := models.UserStatus(strings.ToUpper(status))
		filter.Status = &s
	}

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user
// @Tags Users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /usuarios/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	user, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, user, nil)
}

// Register godoc
// @Summary Register account
// @Description Public sign-up. Only an authenticated administrator may set a role other than EST.
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.CreateUserRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /usuarios [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	var actor *models.Actor
	if a, ok := actorFromContext(c); ok {
		actor = &a
	}

	user, err := h.service.Register(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// UpdateStatus godoc
// @Summary Activate or deactivate account
// @Tags Users
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param payload body models.UpdateUserStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /usuarios/{id}/estado [patch]
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.UpdateUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.service.UpdateStatus(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, user, nil)
}
