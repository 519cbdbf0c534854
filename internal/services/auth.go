package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// AuthService handles local signup/login and Google token verification.
type AuthService struct {
	repoManager  *repository.RepositoryManager
	httpClient   *http.Client
	tokenInfoURL string
	logger       *logrus.Logger
}

// NewAuthService creates an auth service. tokenInfoURL points at Google's
// tokeninfo endpoint and is overridable for tests.
func NewAuthService(repoManager *repository.RepositoryManager, tokenInfoURL string, logger *logrus.Logger) *AuthService {
	return &AuthService{
		repoManager:  repoManager,
		httpClient:   &http.Client{},
		tokenInfoURL: tokenInfoURL,
		logger:       logger,
	}
}

// Signup registers a local account with a bcrypt-hashed password.
func (a *AuthService) Signup(fullName, email, password string) (*models.User, error) {
	if _, err := a.repoManager.Users.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		FullName:     fullName,
		Email:        email,
		PasswordHash: string(hash),
		Provider:     "local",
	}
	if err := a.repoManager.Users.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	a.logger.WithField("email", email).Info("User registered")
	return user, nil
}

// Login verifies a local account's password.
func (a *AuthService) Login(email, password string) (*models.User, error) {
	user, err := a.repoManager.Users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

type googleTokenInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Error string `json:"error_description"`
}

// GoogleAuth validates a Google ID token against the tokeninfo endpoint and
// creates the account on first sight.
func (a *AuthService) GoogleAuth(ctx context.Context, token string) (*models.User, error) {
	endpoint := a.tokenInfoURL + "?id_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build token verification request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	defer resp.Body.Close()

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode token info: %w", err)
	}
	if resp.StatusCode != http.StatusOK || info.Email == "" {
		if info.Error != "" {
			return nil, fmt.Errorf("invalid google token: %s", info.Error)
		}
		return nil, fmt.Errorf("invalid google token")
	}

	user, err := a.repoManager.Users.GetByEmail(info.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = &models.User{
		FullName: info.Name,
		Email:    info.Email,
		Provider: "google",
	}
	if err := a.repoManager.Users.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	a.logger.WithField("email", info.Email).Info("Google user registered")
	return user, nil
}

// ForgotPassword acknowledges a reset request without revealing whether the
// account exists.
func (a *AuthService) ForgotPassword(email string) {
	if _, err := a.repoManager.Users.GetByEmail(email); err != nil {
		a.logger.WithField("email", email).Debug("Password reset requested for unknown email")
		return
	}
	a.logger.WithField("email", email).Info("Password reset requested")
}
