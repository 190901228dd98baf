package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/novadesk-api/internal/models"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

type mockCustomerRepo struct {
	customers map[string]*models.Customer
	findCalls int
}

func newMockCustomerRepo(customers ...*models.Customer) *mockCustomerRepo {
	m := &mockCustomerRepo{customers: map[string]*models.Customer{}}
	for _, c := range customers {
		m.customers[c.ID] = c
	}
	return m
}

func (m *mockCustomerRepo) List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error) {
	out := make([]models.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockCustomerRepo) FindByID(ctx context.Context, id string) (*models.Customer, error) {
	m.findCalls++
	if c, ok := m.customers[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCustomerRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	for _, c := range m.customers {
		if c.Email == email && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCustomerRepo) Create(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = "c-" + customer.Email
	}
	m.customers[customer.ID] = customer
	return nil
}

func (m *mockCustomerRepo) Update(ctx context.Context, customer *models.Customer) error {
	m.customers[customer.ID] = customer
	return nil
}

func (m *mockCustomerRepo) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	if c, ok := m.customers[id]; ok {
		c.Active = false
	}
	return nil
}

// memoryCache is an in-process CacheRepository used to exercise the
// read-through path without Redis.
type memoryCache struct {
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(m.data, pattern)
	return nil
}

func seedCustomer() *models.Customer {
	return &models.Customer{
		ID:      "c1",
		Name:    "Avery Patel",
		Company: "Northwind",
		Email:   "avery@northwind.example",
		Active:  true,
	}
}

func TestCustomerCreate(t *testing.T) {
	repo := newMockCustomerRepo()
	audit := &mockAudit{}
	svc := NewCustomerService(repo, audit, nil, nil, nil)

	customer, err := svc.Create(context.Background(), "admin-1", CreateCustomerRequest{
		Name:  "Avery Patel",
		Email: "avery@northwind.example",
	})
	require.NoError(t, err)
	assert.True(t, customer.Active)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionCustomerWrite, audit.entries[0].Action)
}

func TestCustomerCreateDuplicateEmail(t *testing.T) {
	repo := newMockCustomerRepo(seedCustomer())
	svc := NewCustomerService(repo, nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), "admin-1", CreateCustomerRequest{
		Name:  "Another Avery",
		Email: "avery@northwind.example",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCustomerUpdateKeepingOwnEmail(t *testing.T) {
	repo := newMockCustomerRepo(seedCustomer())
	svc := NewCustomerService(repo, nil, nil, nil, nil)

	// The uniqueness check excludes the customer's own row.
	updated, err := svc.Update(context.Background(), "admin-1", "c1", UpdateCustomerRequest{
		Name:   "Avery Patel",
		Email:  "avery@northwind.example",
		Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Avery Patel", updated.Name)
}

func TestCustomerUpdateConflictingEmail(t *testing.T) {
	other := &models.Customer{ID: "c2", Name: "Blair Quinn", Email: "blair@example.com", Active: true}
	repo := newMockCustomerRepo(seedCustomer(), other)
	svc := NewCustomerService(repo, nil, nil, nil, nil)

	_, err := svc.Update(context.Background(), "admin-1", "c1", UpdateCustomerRequest{
		Name:   "Avery Patel",
		Email:  "blair@example.com",
		Active: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCustomerGetNotFound(t *testing.T) {
	svc := NewCustomerService(newMockCustomerRepo(), nil, nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCustomerGetReadsThroughCache(t *testing.T) {
	repo := newMockCustomerRepo(seedCustomer())
	cache := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	svc := NewCustomerService(repo, nil, cache, nil, nil)

	first, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	second, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, 1, repo.findCalls)
}

func TestCustomerDeactivateInvalidatesCache(t *testing.T) {
	repo := newMockCustomerRepo(seedCustomer())
	mem := newMemoryCache()
	cache := NewCacheService(mem, nil, time.Minute, nil, true)
	svc := NewCustomerService(repo, nil, cache, nil, nil)

	_, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, mem.data)

	require.NoError(t, svc.Deactivate(context.Background(), "admin-1", "c1"))
	assert.Empty(t, mem.data)

	fresh, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, fresh.Active)
}

func TestCustomerServiceWorksWithoutCache(t *testing.T) {
	repo := newMockCustomerRepo(seedCustomer())
	svc := NewCustomerService(repo, nil, nil, nil, nil)

	customer, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", customer.ID)
}
