package pipeline

import (
	"context"

	"github.com/presencegate/server/internal/models"
)

// KeyLookup resolves the session key on record for a student. A student
// with no live key yields (nil, nil).
type KeyLookup interface {
	SessionKey(ctx context.Context, studentID uint) (*models.SessionKey, error)
}

// QRStates is the nonce lifecycle store. Load never fails on an unknown
// nonce; it reports Exists=false. Consume is atomic: when two requests
// race on the same nonce, exactly one call returns true.
type QRStates interface {
	Load(ctx context.Context, nonce string) (*models.QRState, error)
	Consume(ctx context.Context, nonce string) (bool, error)
}

// Students is the per-(student, session) progress store. Load returns an
// unregistered zero state when no registration exists.
type Students interface {
	Load(ctx context.Context, studentID uint, sessionID string) (*models.StudentState, error)
	Save(ctx context.Context, studentID uint, sessionID string, state *models.StudentState) error
}

// Attempts is the persistence collaborator keyed by
// (registrationID, roundNumber). RecordAttempt has create-if-absent
// semantics: re-delivery of an already-recorded round is a no-op.
type Attempts interface {
	RecordAttempt(ctx context.Context, registrationID string, round int, responseTimeMs int64) error
	RecordResult(ctx context.Context, registrationID string, report models.ScoreReport) (*models.AttendanceResult, error)
}

// Scorer turns completed round response times into the final verdict.
type Scorer interface {
	Calculate(responseTimes []int64, maxRounds int) models.ScoreReport
}
