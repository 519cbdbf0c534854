package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/models"
	"github.com/velia-labs/imagematch/internal/services"
	"github.com/velia-labs/imagematch/pkg/utils"
)

// AuthHandler serves signup, login and Google auth.
type AuthHandler struct {
	authService *services.AuthService
	logger      *logrus.Logger
}

func NewAuthHandler(authService *services.AuthService, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

func (h *AuthHandler) HandleSignup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid signup request", err)
		return
	}

	user, err := h.authService.Signup(req.FullName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			utils.ErrorResponse(c, http.StatusConflict, "Email already registered", nil)
			return
		}
		h.logger.WithError(err).Error("Signup failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Signup failed", err)
		return
	}

	c.JSON(http.StatusCreated, models.AuthResponse{
		Message: "Account created",
		User:    models.AuthUser{FullName: user.FullName, Email: user.Email},
	})
}

func (h *AuthHandler) HandleLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid login request", err)
		return
	}

	user, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid email or password", nil)
			return
		}
		h.logger.WithError(err).Error("Login failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Login failed", err)
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{
		Message: "Login successful",
		User:    models.AuthUser{FullName: user.FullName, Email: user.Email},
	})
}

func (h *AuthHandler) HandleGoogleAuth(c *gin.Context) {
	var req models.GoogleAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid auth request", err)
		return
	}

	user, err := h.authService.GoogleAuth(c.Request.Context(), req.Token)
	if err != nil {
		h.logger.WithError(err).Warn("Google auth failed")
		utils.ErrorResponse(c, http.StatusUnauthorized, "Token verification failed", err)
		return
	}

	c.JSON(http.StatusOK, models.GoogleAuthResponse{
		Message: "Login successful",
		UserID:  strconv.FormatUint(uint64(user.ID), 10),
		Email:   user.Email,
	})
}

func (h *AuthHandler) HandleForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	h.authService.ForgotPassword(req.Email)
	c.JSON(http.StatusOK, gin.H{"message": "If the account exists, a reset email has been sent"})
}
