package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/novadesk-api/internal/models"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

type profileUserRepo struct {
	users      map[string]*models.User
	listCalled models.UserFilter
	activeSet  *bool
}

func newProfileUserRepo(users ...*models.User) *profileUserRepo {
	m := &profileUserRepo{users: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *profileUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.listCalled = filter
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *profileUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *profileUserRepo) UpdateProfile(ctx context.Context, id, firstName, lastName string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.FirstName = firstName
		u.LastName = lastName
		u.UpdatedAt = updatedAt
	}
	return nil
}

func (m *profileUserRepo) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	m.activeSet = &active
	if u, ok := m.users[id]; ok {
		u.Active = active
	}
	return nil
}

func profileTestUser() *models.User {
	return &models.User{
		ID:        "u1",
		Username:  "msantos",
		Email:     "msantos@example.com",
		FirstName: "Mara",
		LastName:  "Santos",
		Role:      models.RoleUser,
		Active:    true,
	}
}

func TestUserListDefaultsPagination(t *testing.T) {
	repo := newProfileUserRepo(profileTestUser())
	svc := NewUserService(repo, &spyNotifier{}, nil, nil)

	users, page, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)
}

func TestUserGetNotFound(t *testing.T) {
	svc := NewUserService(newProfileUserRepo(), &spyNotifier{}, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUpdateProfile(t *testing.T) {
	repo := newProfileUserRepo(profileTestUser())
	notifier := &spyNotifier{}
	svc := NewUserService(repo, notifier, nil, nil)

	user, err := svc.UpdateProfile(context.Background(), "u1", models.UpdateProfileRequest{
		FirstName: "Marina",
		LastName:  "Santos-Lee",
	})
	require.NoError(t, err)
	assert.Equal(t, "Marina", user.FirstName)
	assert.Equal(t, "Santos-Lee", user.LastName)
	assert.Equal(t, 1, notifier.profileUpdates)
}

func TestUpdateProfileRequiresFirstName(t *testing.T) {
	svc := NewUserService(newProfileUserRepo(profileTestUser()), &spyNotifier{}, nil, nil)

	_, err := svc.UpdateProfile(context.Background(), "u1", models.UpdateProfileRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSetActive(t *testing.T) {
	repo := newProfileUserRepo(profileTestUser())
	svc := NewUserService(repo, &spyNotifier{}, nil, nil)

	require.NoError(t, svc.SetActive(context.Background(), "u1", false))
	require.NotNil(t, repo.activeSet)
	assert.False(t, *repo.activeSet)
	assert.False(t, repo.users["u1"].Active)
}
