package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/presencegate/server/internal/middleware"
	"github.com/presencegate/server/internal/services"
)

// AuthHandler handles instructor authentication requests
type AuthHandler struct {
	instructors *services.InstructorService
	jwtConfig   middleware.JWTConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(instructors *services.InstructorService, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		instructors: instructors,
		jwtConfig: middleware.JWTConfig{
			Secret:     jwtSecret,
			Expiration: 24 * time.Hour,
		},
	}
}

// Register handles instructor registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instructor, err := h.instructors.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := middleware.GenerateToken(instructor.ID.String(), instructor.Email, h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, services.AuthResponse{
		InstructorID: instructor.ID.String(),
		Email:        instructor.Email,
		Token:        token,
	})
}

// Login handles instructor login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instructor, err := h.instructors.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	token, err := middleware.GenerateToken(instructor.ID.String(), instructor.Email, h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, services.AuthResponse{
		InstructorID: instructor.ID.String(),
		Email:        instructor.Email,
		Token:        token,
	})
}
