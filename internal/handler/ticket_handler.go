package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/novadesk/novadesk-api/internal/models"
	"github.com/novadesk/novadesk-api/internal/service"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
	"github.com/novadesk/novadesk-api/pkg/response"
)

// TicketHandler handles incident ticket endpoints.
type TicketHandler struct {
	service *service.TicketService
}

// NewTicketHandler creates a new ticket handler.
func NewTicketHandler(svc *service.TicketService) *TicketHandler {
	return &TicketHandler{service: svc}
}

// List godoc
// @Summary List tickets
// @Description List tickets with pagination and filtering
// @Tags Tickets
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param priority query string false "Priority filter"
// @Param customer_id query string false "Customer filter"
// @Param assignee_id query string false "Assignee filter"
// @Param search query string false "Search term"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /tickets [get]
func (h *TicketHandler) List(c *gin.Context) {
	var filter models.TicketFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	if status := c.Query("status"); status != "" {
		s := models.TicketStatus(status)
		filter.Status = &s
	}
	if priority := c.Query("priority"); priority != "" {
		p := models.TicketPriority(priority)
		filter.Priority = &p
	}

	filter.CustomerID = c.Query("customer_id")
	filter.AssigneeID = c.Query("assignee_id")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	tickets, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, tickets, pagination)
}

// Get godoc
// @Summary Get ticket
// @Description Get ticket detail
// @Tags Tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tickets/{id} [get]
func (h *TicketHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ticket, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, ticket, nil)
}

// Create godoc
// @Summary Create ticket
// @Description Open a new incident ticket
// @Tags Tickets
// @Accept json
// @Produce json
// @Param payload body service.CreateTicketRequest true "Ticket payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tickets [post]
func (h *TicketHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid ticket payload"))
		return
	}

	ticket, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, ticket)
}

// Update godoc
// @Summary Update ticket
// @Description Edit ticket title, description and priority
// @Tags Tickets
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body service.UpdateTicketRequest true "Ticket payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tickets/{id} [put]
func (h *TicketHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	var req service.UpdateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid ticket payload"))
		return
	}

	ticket, err := h.service.Update(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, ticket, nil)
}

// Assign godoc
// @Summary Assign ticket
// @Description Set or clear the ticket assignee
// @Tags Tickets
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body service.AssignTicketRequest true "Assignee payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tickets/{id}/assign [patch]
func (h *TicketHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	var req service.AssignTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignee payload"))
		return
	}

	ticket, err := h.service.Assign(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, ticket, nil)
}

// Transition godoc
// @Summary Transition ticket
// @Description Move a ticket through its workflow
// @Tags Tickets
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body service.TransitionTicketRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tickets/{id}/status [patch]
func (h *TicketHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	var req service.TransitionTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	ticket, err := h.service.Transition(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, ticket, nil)
}

// Delete godoc
// @Summary Delete ticket
// @Description Permanently remove a ticket
// @Tags Tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 204 "No Content"
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tickets/{id} [delete]
func (h *TicketHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	if err := h.service.Delete(c.Request.Context(), claims.UserID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
