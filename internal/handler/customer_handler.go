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

// CustomerHandler handles customer record endpoints.
type CustomerHandler struct {
	service *service.CustomerService
}

// NewCustomerHandler creates a new customer handler.
func NewCustomerHandler(svc *service.CustomerService) *CustomerHandler {
	return &CustomerHandler{service: svc}
}

// List godoc
// @Summary List customers
// @Description List customers with pagination and filtering
// @Tags Customers
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param active query bool false "Active filter"
// @Param search query string false "Search term"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /customers [get]
func (h *CustomerHandler) List(c *gin.Context) {
	var filter models.CustomerFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.Active = &val
		}
	}

	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	customers, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, customers, pagination)
}

// Get godoc
// @Summary Get customer
// @Description Get customer detail
// @Tags Customers
// @Produce json
// @Param id path string true "Customer ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /customers/{id} [get]
func (h *CustomerHandler) Get(c *gin.Context) {
	id := c.Param("id")

	customer, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, customer, nil)
}

// Create godoc
// @Summary Create customer
// @Description Create a new customer record
// @Tags Customers
// @Accept json
// @Produce json
// @Param payload body service.CreateCustomerRequest true "Customer payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /customers [post]
func (h *CustomerHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid customer payload"))
		return
	}

	customer, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, customer)
}

// Update godoc
// @Summary Update customer
// @Description Update a customer record
// @Tags Customers
// @Accept json
// @Produce json
// @Param id path string true "Customer ID"
// @Param payload body service.UpdateCustomerRequest true "Customer payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /customers/{id} [put]
func (h *CustomerHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	var req service.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid customer payload"))
		return
	}

	customer, err := h.service.Update(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, customer, nil)
}

// Deactivate godoc
// @Summary Deactivate customer
// @Description Soft-delete a customer record
// @Tags Customers
// @Produce json
// @Param id path string true "Customer ID"
// @Success 204 "No Content"
// @Failure 404 {object} response.Envelope
// @Router /customers/{id} [delete]
func (h *CustomerHandler) Deactivate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")

	if err := h.service.Deactivate(c.Request.Context(), claims.UserID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
