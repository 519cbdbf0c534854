package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/repository"
)

type memoryUserRepo struct {
	byEmail map[string]*models.User
	nextID  uint
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{byEmail: make(map[string]*models.User), nextID: 1}
}

func (m *memoryUserRepo) Create(user *models.User) error {
	user.ID = m.nextID
	m.nextID++
	m.byEmail[user.Email] = user
	return nil
}

func (m *memoryUserRepo) GetByEmail(email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryUserRepo) GetByID(id uint) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func newAuthService(tokenInfoURL string) (*AuthService, *memoryUserRepo) {
	users := newMemoryUserRepo()
	repos := &repository.RepositoryManager{Users: users}
	return NewAuthService(repos, tokenInfoURL, testLogger()), users
}

func TestSignupHashesPassword(t *testing.T) {
	svc, users := newAuthService("")

	user, err := svc.Signup("Ada Lovelace", "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	assert.Equal(t, "local", user.Provider)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))
	assert.Contains(t, users.byEmail, "ada@example.com")
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newAuthService("")

	_, err := svc.Signup("Ada", "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	_, err = svc.Signup("Other", "ada@example.com", "another-pass")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	svc, _ := newAuthService("")

	_, err := svc.Signup("Ada", "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	user, err := svc.Login("ada@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FullName)

	_, err = svc.Login("ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGoogleAuthCreatesUserOnFirstSight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-123", r.URL.Query().Get("id_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"g@example.com","name":"Grace Hopper"}`))
	}))
	defer server.Close()

	svc, users := newAuthService(server.URL)

	user, err := svc.GoogleAuth(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "google", user.Provider)
	assert.Equal(t, "Grace Hopper", user.FullName)

	// Second call resolves the same account instead of creating another.
	again, err := svc.GoogleAuth(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Len(t, users.byEmail, 1)
}

func TestGoogleAuthRejectsInvalidToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_description":"Invalid Value"}`))
	}))
	defer server.Close()

	svc, _ := newAuthService(server.URL)

	_, err := svc.GoogleAuth(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Value")
}
