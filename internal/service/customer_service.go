package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/novadesk/novadesk-api/internal/models"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

type customerRepository interface {
	List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error)
	FindByID(ctx context.Context, id string) (*models.Customer, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, customer *models.Customer) error
	Update(ctx context.Context, customer *models.Customer) error
	Deactivate(ctx context.Context, id string, updatedAt time.Time) error
}

// CreateCustomerRequest holds the payload for creating customers.
type CreateCustomerRequest struct {
	Name    string `json:"name" validate:"required"`
	Company string `json:"company"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// UpdateCustomerRequest holds the payload for updating customers.
type UpdateCustomerRequest struct {
	Name    string `json:"name" validate:"required"`
	Company string `json:"company"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
	Active  bool   `json:"active"`
}

// CustomerService handles customer-record use cases.
type CustomerService struct {
	repo      customerRepository
	audit     auditRecorder
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCustomerService constructs the customer service.
func NewCustomerService(repo customerRepository, audit auditRecorder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CustomerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

func customerCacheKey(id string) string {
	return "customers:" + id
}

// List returns customers and pagination metadata.
func (s *CustomerService) List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, *models.Pagination, error) {
	customers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list customers")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return customers, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single customer, preferring the read cache.
func (s *CustomerService) Get(ctx context.Context, id string) (*models.Customer, error) {
	var cached models.Customer
	if hit, err := s.cache.Get(ctx, customerCacheKey(id), &cached); err == nil && hit {
		return &cached, nil
	}

	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "customer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load customer")
	}

	_ = s.cache.Set(ctx, customerCacheKey(id), customer, 0)
	return customer, nil
}

// Create registers a new customer record.
func (s *CustomerService) Create(ctx context.Context, actorID string, req CreateCustomerRequest) (*models.Customer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid customer payload")
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check customer email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "customer email already exists")
	}

	customer := &models.Customer{
		Name:    req.Name,
		Company: req.Company,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Notes:   req.Notes,
		Active:  true,
	}
	if err := s.repo.Create(ctx, customer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create customer")
	}

	s.writeAudit(ctx, actorID, customer.ID, `{"op":"create"}`)
	return customer, nil
}

// Update replaces the mutable fields of a customer.
func (s *CustomerService) Update(ctx context.Context, actorID, id string, req UpdateCustomerRequest) (*models.Customer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid customer payload")
	}

	customer, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check customer email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "customer email already exists")
	}

	customer.Name = req.Name
	customer.Company = req.Company
	customer.Email = req.Email
	customer.Phone = req.Phone
	customer.Address = req.Address
	customer.Notes = req.Notes
	customer.Active = req.Active

	if err := s.repo.Update(ctx, customer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update customer")
	}

	_ = s.cache.Invalidate(ctx, customerCacheKey(id))
	s.writeAudit(ctx, actorID, customer.ID, `{"op":"update"}`)
	return customer, nil
}

// Deactivate marks a customer inactive without removing history.
func (s *CustomerService) Deactivate(ctx context.Context, actorID, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate customer")
	}
	_ = s.cache.Invalidate(ctx, customerCacheKey(id))
	s.writeAudit(ctx, actorID, id, `{"op":"deactivate"}`)
	return nil
}

func (s *CustomerService) writeAudit(ctx context.Context, actorID, customerID, details string) {
	if s.audit == nil {
		return
	}
	err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionCustomerWrite,
		Resource:   "customers",
		ResourceID: &customerID,
		NewValues:  []byte(details),
	})
	if err != nil {
		s.logger.Warn("failed to record customer audit log", zap.Error(err))
	}
}
