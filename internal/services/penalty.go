package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/presencegate/server/internal/kv"
)

// PenaltyService enforces the device enrollment cooldown. It shares the
// KV store discipline of the attendance pipeline but is otherwise
// independent of it: the counter increments on every enrollment and the
// store expires it after the cooldown window.
type PenaltyService struct {
	store    kv.Store
	window   time.Duration
	maxBurst int64
}

// NewPenaltyService creates the cooldown counter service.
func NewPenaltyService(store kv.Store, window time.Duration, maxPerWindow int) *PenaltyService {
	return &PenaltyService{store: store, window: window, maxBurst: int64(maxPerWindow)}
}

func penaltyKey(userID uint) string {
	return fmt.Sprintf("penalty:enroll:%d", userID)
}

// RecordEnrollment counts one enrollment and reports whether the user is
// still within the allowed budget. The window is anchored to the first
// enrollment by the store's increment-with-expiry primitive.
func (s *PenaltyService) RecordEnrollment(ctx context.Context, userID uint) (allowed bool, err error) {
	count, err := s.store.IncrWithTTL(ctx, penaltyKey(userID), s.window)
	if err != nil {
		return false, fmt.Errorf("failed to record enrollment: %w", err)
	}
	return count <= s.maxBurst, nil
}

// Allowed reports whether the user may enroll right now without counting
// an enrollment.
func (s *PenaltyService) Allowed(ctx context.Context, userID uint) (bool, error) {
	data, ok, err := s.store.Get(ctx, penaltyKey(userID))
	if err != nil {
		return false, fmt.Errorf("failed to read enrollment counter: %w", err)
	}
	if !ok {
		return true, nil
	}
	count, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse enrollment counter: %w", err)
	}
	return count < s.maxBurst, nil
}
