package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/models"
)

// BalanceReport summarizes one balancing pass over a session's pool.
type BalanceReport struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Total    int `json:"total"`
	Students int `json:"students"`
	Fakes    int `json:"fakes"`
}

// PoolStats is the current composition of a session's broadcast pool.
type PoolStats struct {
	Total    int `json:"total"`
	Students int `json:"students"`
	Fakes    int `json:"fakes"`
}

// PoolService keeps every live session's broadcast pool topped up with
// decoy codes so that an observer can never tell which envelope belongs
// to which student. Decoys are sealed under a key that is generated and
// immediately discarded, which makes them permanently undecryptable --
// including by this server.
type PoolService struct {
	store       kv.Store
	minPoolSize int
	maxRounds   int
}

// NewPoolService creates the balancer. maxRounds feeds the modulus for
// decoy round numbers and is clamped to at least 1.
func NewPoolService(store kv.Store, minPoolSize, maxRounds int) *PoolService {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &PoolService{
		store:       store,
		minPoolSize: minPoolSize,
		maxRounds:   maxRounds,
	}
}

func poolKey(sessionID string) string  { return "pool:" + sessionID }
func realKey(sessionID string) string  { return "pool:" + sessionID + ":real" }
func fakesKey(sessionID string) string { return "pool:" + sessionID + ":fakes" }

// PublishReal places a student's sealed code into the broadcast pool.
func (s *PoolService) PublishReal(ctx context.Context, sessionID, nonce, envelope string) error {
	if err := s.store.HSet(ctx, poolKey(sessionID), nonce, envelope); err != nil {
		return fmt.Errorf("failed to publish code: %w", err)
	}
	if err := s.store.SAdd(ctx, realKey(sessionID), nonce); err != nil {
		return fmt.Errorf("failed to index code: %w", err)
	}
	return nil
}

// Retire removes a consumed or superseded real code from the pool.
func (s *PoolService) Retire(ctx context.Context, sessionID, nonce string) error {
	if err := s.store.HDel(ctx, poolKey(sessionID), nonce); err != nil {
		return err
	}
	return s.store.SRem(ctx, realKey(sessionID), nonce)
}

// CalculateFakesNeeded returns how many decoys a pool with realCount
// real codes requires to stay at the minimum size.
func (s *PoolService) CalculateFakesNeeded(realCount int) int {
	if need := s.minPoolSize - realCount; need > 0 {
		return need
	}
	return 0
}

// Balance brings the pool to its target composition: total never below
// minPoolSize, surplus decoys removed as real codes join, real codes
// never touched.
func (s *PoolService) Balance(ctx context.Context, sessionID string) (*BalanceReport, error) {
	real, err := s.store.SMembers(ctx, realKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read real codes: %w", err)
	}
	fakes, err := s.store.SMembers(ctx, fakesKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read decoys: %w", err)
	}

	report := &BalanceReport{Students: len(real), Fakes: len(fakes)}
	target := s.CalculateFakesNeeded(len(real))

	switch {
	case len(fakes) < target:
		added, err := s.addFakes(ctx, sessionID, target-len(fakes))
		if err != nil {
			return nil, err
		}
		report.Added = added
	case len(fakes) > target:
		surplus := fakes[:len(fakes)-target]
		if err := s.store.HDel(ctx, poolKey(sessionID), surplus...); err != nil {
			return nil, fmt.Errorf("failed to drop decoys: %w", err)
		}
		if err := s.store.SRem(ctx, fakesKey(sessionID), surplus...); err != nil {
			return nil, fmt.Errorf("failed to unindex decoys: %w", err)
		}
		report.Removed = len(surplus)
	}

	report.Fakes = target
	report.Total = report.Students + report.Fakes
	return report, nil
}

// InjectFakes force-adds a specific number of decoys regardless of the
// current balance.
func (s *PoolService) InjectFakes(ctx context.Context, sessionID string, count int) error {
	_, err := s.addFakes(ctx, sessionID, count)
	return err
}

// PoolStats reports the live pool composition.
func (s *PoolService) PoolStats(ctx context.Context, sessionID string) (*PoolStats, error) {
	real, err := s.store.SMembers(ctx, realKey(sessionID))
	if err != nil {
		return nil, err
	}
	fakes, err := s.store.SMembers(ctx, fakesKey(sessionID))
	if err != nil {
		return nil, err
	}
	return &PoolStats{
		Total:    len(real) + len(fakes),
		Students: len(real),
		Fakes:    len(fakes),
	}, nil
}

// Snapshot returns every envelope currently in the pool, real and decoy
// interleaved by map order.
func (s *PoolService) Snapshot(ctx context.Context, sessionID string) ([]string, error) {
	pool, err := s.store.HGetAll(ctx, poolKey(sessionID))
	if err != nil {
		return nil, err
	}
	envelopes := make([]string, 0, len(pool))
	for _, envelope := range pool {
		envelopes = append(envelopes, envelope)
	}
	return envelopes, nil
}

// addFakes seals count decoy payloads under throwaway keys. The key for
// each decoy lives only inside this loop iteration.
func (s *PoolService) addFakes(ctx context.Context, sessionID string, count int) (int, error) {
	for i := 0; i < count; i++ {
		payload := models.QRPayload{
			Version:   1,
			SessionID: sessionID,
			UserID:    randomUint(),
			Round:     1 + randomUint()%uint(s.maxRounds),
			Timestamp: time.Now().UnixMilli(),
			Nonce:     crypto.NewNonce(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return i, fmt.Errorf("failed to encode decoy: %w", err)
		}

		envelope, err := crypto.Seal(data, crypto.EphemeralKey())
		if err != nil {
			return i, fmt.Errorf("failed to seal decoy: %w", err)
		}

		if err := s.store.HSet(ctx, poolKey(sessionID), payload.Nonce, envelope); err != nil {
			return i, fmt.Errorf("failed to publish decoy: %w", err)
		}
		if err := s.store.SAdd(ctx, fakesKey(sessionID), payload.Nonce); err != nil {
			return i, fmt.Errorf("failed to index decoy: %w", err)
		}
	}
	return count, nil
}

// randomUint draws a plausible-looking user id for decoy payloads from
// the CSPRNG, so decoys are not distinguishable by their identity fields.
func randomUint() uint {
	b := crypto.MustRandom(4)
	return uint(binary.BigEndian.Uint32(b))
}
