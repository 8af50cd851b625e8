package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/models"
	"github.com/presencegate/server/internal/storage"
)

// ErrNoSessionKey is returned when a code cannot be sealed because the
// student has no live session key (not logged in, or the key expired).
var ErrNoSessionKey = errors.New("no session key")

// SessionService owns attendance session lifecycle: creating sessions,
// registering students, and assigning each registered student the sealed
// code for their current round.
type SessionService struct {
	db       *storage.DB
	students *StudentStateService
	keys     *SessionKeyService
	pool     *PoolService
	qrStates *QRStateService

	maxRounds   int
	maxAttempts int
}

// NewSessionService creates a new session service.
func NewSessionService(db *storage.DB, students *StudentStateService, keys *SessionKeyService, pool *PoolService, qrStates *QRStateService, maxRounds, maxAttempts int) *SessionService {
	return &SessionService{
		db:          db,
		students:    students,
		keys:        keys,
		pool:        pool,
		qrStates:    qrStates,
		maxRounds:   maxRounds,
		maxAttempts: maxAttempts,
	}
}

// CreateSessionRequest represents a session creation request
type CreateSessionRequest struct {
	Name        string `json:"name" binding:"required"`
	MaxRounds   int    `json:"max_rounds"`
	MinPoolSize int    `json:"min_pool_size"`
}

// CreateSession opens a new session owned by an instructor.
func (s *SessionService) CreateSession(ctx context.Context, instructorID uuid.UUID, req CreateSessionRequest) (*models.AttendanceSession, error) {
	session := &models.AttendanceSession{
		ID:           uuid.New(),
		InstructorID: instructorID,
		Name:         req.Name,
		MaxRounds:    req.MaxRounds,
		MinPoolSize:  req.MinPoolSize,
		Status:       "active",
		CreatedAt:    time.Now(),
	}
	if session.MaxRounds == 0 {
		session.MaxRounds = s.maxRounds
	}

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO attendance_sessions (id, instructor_id, name, max_rounds, min_pool_size, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.InstructorID, session.Name, session.MaxRounds, session.MinPoolSize, session.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceSession, error) {
	var session models.AttendanceSession
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, instructor_id, name, max_rounds, min_pool_size, status, created_at
		 FROM attendance_sessions WHERE id = $1`,
		sessionID).Scan(&session.ID, &session.InstructorID, &session.Name,
		&session.MaxRounds, &session.MinPoolSize, &session.Status, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("session not found")
	}
	return &session, nil
}

// RegisterStudent enrolls a student's device into a session, seeds the
// pending progress record, and assigns the first-round code.
func (s *SessionService) RegisterStudent(ctx context.Context, sessionID uuid.UUID, studentID uint, deviceID string) (*models.Registration, error) {
	reg := &models.Registration{
		ID:        uuid.New(),
		SessionID: sessionID,
		StudentID: studentID,
		DeviceID:  deviceID,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO registrations (id, session_id, student_id, device_id)
		 VALUES ($1, $2, $3, $4)`,
		reg.ID, reg.SessionID, reg.StudentID, reg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to register student: %w", err)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &models.StudentState{
		Registered:     true,
		RegistrationID: reg.ID.String(),
		Status:         models.StatusPending,
		CurrentRound:   1,
		MaxAttempts:    s.maxAttempts,
		MaxRounds:      session.MaxRounds,
	}
	if err := s.students.Save(ctx, studentID, sessionID.String(), state); err != nil {
		return nil, err
	}

	// A student who has not logged in yet gets their first code on the
	// next rotation tick instead.
	if _, err := s.AssignCode(ctx, sessionID.String(), studentID); err != nil && !errors.Is(err, ErrNoSessionKey) {
		return nil, err
	}
	return reg, nil
}

// AssignCode generates the broadcast code for a student's current round,
// seals it under their session key, and swaps it into the pool. The
// previous code, if any, is retired.
func (s *SessionService) AssignCode(ctx context.Context, sessionID string, studentID uint) (string, error) {
	state, err := s.students.Load(ctx, studentID, sessionID)
	if err != nil {
		return "", err
	}
	if !state.Registered {
		return "", fmt.Errorf("student %d is not registered for session %s", studentID, sessionID)
	}

	key, err := s.keys.SessionKey(ctx, studentID)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", fmt.Errorf("student %d: %w", studentID, ErrNoSessionKey)
	}

	payload := models.QRPayload{
		Version:   1,
		SessionID: sessionID,
		UserID:    studentID,
		Round:     state.CurrentRound,
		Timestamp: time.Now().UnixMilli(),
		Nonce:     crypto.NewNonce(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	envelope, err := crypto.Seal(data, key.Key)
	if err != nil {
		return "", fmt.Errorf("failed to seal payload: %w", err)
	}

	if err := s.qrStates.Issue(ctx, payload.Nonce); err != nil {
		return "", err
	}
	if state.ActiveNonce != "" {
		if err := s.pool.Retire(ctx, sessionID, state.ActiveNonce); err != nil {
			return "", err
		}
	}
	if err := s.pool.PublishReal(ctx, sessionID, payload.Nonce, envelope); err != nil {
		return "", err
	}

	state.ActiveNonce = payload.Nonce
	if err := s.students.Save(ctx, studentID, sessionID, state); err != nil {
		return "", err
	}
	return envelope, nil
}

// RotateCodes refreshes every active student's code and rebalances the
// pool. This is the per-tick broadcast driver.
func (s *SessionService) RotateCodes(ctx context.Context, sessionID uuid.UUID) (*BalanceReport, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT student_id FROM registrations WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var studentIDs []uint
	for rows.Next() {
		var id uint
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		studentIDs = append(studentIDs, id)
	}

	if err := s.rotateStudents(ctx, sessionID.String(), studentIDs); err != nil {
		return nil, err
	}

	return s.pool.Balance(ctx, sessionID.String())
}

// rotateStudents reassigns codes for every student still in play. A
// student whose session key is gone (logged out, or key TTL expired)
// keeps their current state and is picked up again once they log back
// in; one keyless student must never stall the broadcast for the rest.
func (s *SessionService) rotateStudents(ctx context.Context, sessionID string, studentIDs []uint) error {
	for _, studentID := range studentIDs {
		state, err := s.students.Load(ctx, studentID, sessionID)
		if err != nil {
			return err
		}
		if state.Status == models.StatusCompleted || state.Status == models.StatusFailed {
			continue
		}
		if _, err := s.AssignCode(ctx, sessionID, studentID); err != nil {
			if errors.Is(err, ErrNoSessionKey) {
				log.Printf("skipping code rotation for student %d: no live session key", studentID)
				continue
			}
			return err
		}
	}
	return nil
}
