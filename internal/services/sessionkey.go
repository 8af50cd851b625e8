package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/models"
)

// SessionKeyService derives and holds the per-device symmetric keys. One
// key exists per logged-in student; it is created when the attestation
// ceremony hands over the shared secret and destroyed on logout or TTL
// expiry.
type SessionKeyService struct {
	store kv.Store
	ttl   time.Duration
}

// NewSessionKeyService creates a new session key service.
func NewSessionKeyService(store kv.Store, ttl time.Duration) *SessionKeyService {
	return &SessionKeyService{store: store, ttl: ttl}
}

func sessionKeyKey(userID uint) string {
	return fmt.Sprintf("sesskey:%d", userID)
}

// Establish derives the session key from the DH shared secret and the
// device credential and stores it under the service TTL. The same inputs
// always derive the same key, so the client can derive it independently.
func (s *SessionKeyService) Establish(ctx context.Context, userID uint, deviceID string, sharedSecret []byte) (*models.SessionKey, error) {
	keyBytes, err := crypto.DeriveSessionKey(sharedSecret, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	key := &models.SessionKey{
		Key:       keyBytes,
		UserID:    userID,
		DeviceID:  deviceID,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session key: %w", err)
	}
	if err := s.store.Set(ctx, sessionKeyKey(userID), string(data), s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session key: %w", err)
	}
	return key, nil
}

// SessionKey returns the live key for a student, or nil when none exists.
func (s *SessionKeyService) SessionKey(ctx context.Context, userID uint) (*models.SessionKey, error) {
	data, ok, err := s.store.Get(ctx, sessionKeyKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load session key: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var key models.SessionKey
	if err := json.Unmarshal([]byte(data), &key); err != nil {
		return nil, fmt.Errorf("failed to decode session key: %w", err)
	}
	return &key, nil
}

// Destroy removes the key on logout.
func (s *SessionKeyService) Destroy(ctx context.Context, userID uint) error {
	return s.store.Del(ctx, sessionKeyKey(userID))
}

// HasActiveKey satisfies the session-lookup capability port.
func (s *SessionKeyService) HasActiveKey(ctx context.Context, userID uint) (bool, error) {
	_, ok, err := s.store.Get(ctx, sessionKeyKey(userID))
	return ok, err
}
