package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/models"
)

// QRStateService tracks broadcast nonces in the KV store. A nonce exists
// while the issuance key lives (TTL-bound); consumption is a separate
// SetNX key so that two racing requests resolve to exactly one winner.
type QRStateService struct {
	store kv.Store
	ttl   time.Duration
}

// NewQRStateService creates the nonce lifecycle store.
func NewQRStateService(store kv.Store, ttl time.Duration) *QRStateService {
	return &QRStateService{store: store, ttl: ttl}
}

func qrKey(nonce string) string       { return "qr:" + nonce }
func consumedKey(nonce string) string { return "qr:consumed:" + nonce }

// Issue registers a freshly generated nonce. Expiry is declarative: the
// store drops the key after the TTL and the nonce reads back as absent.
func (s *QRStateService) Issue(ctx context.Context, nonce string) error {
	return s.store.Set(ctx, qrKey(nonce), strconv.FormatInt(time.Now().UnixMilli(), 10), s.ttl)
}

// Load returns the state of a nonce. Unknown and expired nonces are
// synthesized as {Exists:false, Consumed:false}.
func (s *QRStateService) Load(ctx context.Context, nonce string) (*models.QRState, error) {
	_, exists, err := s.store.Get(ctx, qrKey(nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to load qr state: %w", err)
	}

	consumedAt, consumed, err := s.store.Get(ctx, consumedKey(nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption state: %w", err)
	}

	state := &models.QRState{Exists: exists, Consumed: consumed}
	if consumed {
		if ms, err := strconv.ParseInt(consumedAt, 10, 64); err == nil {
			t := time.UnixMilli(ms)
			state.ConsumedAt = &t
		}
	}
	return state, nil
}

// Consume marks the nonce consumed. Exactly one caller wins under
// concurrency; the consumption record outlives the issuance TTL so a
// replay after expiry still reads as consumed.
func (s *QRStateService) Consume(ctx context.Context, nonce string) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	won, err := s.store.SetNX(ctx, consumedKey(nonce), now, 24*time.Hour)
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return won, nil
}
