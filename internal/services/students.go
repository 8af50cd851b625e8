package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/models"
)

// StudentStateService holds the per-(student, session) progress records
// in the KV store for the duration of a live session.
type StudentStateService struct {
	store kv.Store
}

// NewStudentStateService creates the progress store.
func NewStudentStateService(store kv.Store) *StudentStateService {
	return &StudentStateService{store: store}
}

func studentKey(studentID uint, sessionID string) string {
	return fmt.Sprintf("student:%s:%d", sessionID, studentID)
}

// Load returns the progress record, or an unregistered zero state when
// the student never registered for the session.
func (s *StudentStateService) Load(ctx context.Context, studentID uint, sessionID string) (*models.StudentState, error) {
	data, ok, err := s.store.Get(ctx, studentKey(studentID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load student state: %w", err)
	}
	if !ok {
		return &models.StudentState{}, nil
	}
	var state models.StudentState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to decode student state: %w", err)
	}
	return &state, nil
}

// Save persists the mutated record.
func (s *StudentStateService) Save(ctx context.Context, studentID uint, sessionID string, state *models.StudentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode student state: %w", err)
	}
	if err := s.store.Set(ctx, studentKey(studentID, sessionID), string(data), 0); err != nil {
		return fmt.Errorf("failed to store student state: %w", err)
	}
	return nil
}
