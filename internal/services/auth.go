package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/presencegate/server/internal/models"
	"github.com/presencegate/server/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// InstructorService handles instructor account operations
type InstructorService struct {
	db *storage.DB
}

// NewInstructorService creates a new instructor service
func NewInstructorService(db *storage.DB) *InstructorService {
	return &InstructorService{db: db}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	InstructorID string `json:"instructor_id"`
	Email        string `json:"email"`
	Token        string `json:"token"`
}

// Register creates a new instructor account
func (s *InstructorService) Register(ctx context.Context, req RegisterRequest) (*models.Instructor, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM instructors WHERE email = $1)",
		req.Email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check instructor existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("instructor already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	instructor := &models.Instructor{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO instructors (id, email, password_hash) VALUES ($1, $2, $3)`,
		instructor.ID, instructor.Email, instructor.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create instructor: %w", err)
	}

	return instructor, nil
}

// Login authenticates an instructor
func (s *InstructorService) Login(ctx context.Context, req LoginRequest) (*models.Instructor, error) {
	var instructor models.Instructor
	err := s.db.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash FROM instructors WHERE email = $1",
		req.Email).Scan(&instructor.ID, &instructor.Email, &instructor.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(instructor.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return &instructor, nil
}
