package models

import (
	"time"

	"github.com/google/uuid"
)

// Student status values within one attendance session.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Final attendance verdicts produced by the certainty scorer.
const (
	VerdictPresent  = "PRESENT"
	VerdictDoubtful = "DOUBTFUL"
	VerdictAbsent   = "ABSENT"
)

// QRPayload is one broadcast code instance, generated once per tick and
// never mutated afterwards.
type QRPayload struct {
	Version   int    `json:"v"`
	SessionID string `json:"sid"`
	UserID    uint   `json:"uid"`
	Round     uint   `json:"r"`
	Timestamp int64  `json:"ts"`
	Nonce     string `json:"n"`
}

// QRState tracks the lifecycle of one broadcast nonce. A nonce that was
// never created, or already expired out of the store, reads back as
// Exists=false rather than an error.
type QRState struct {
	Exists     bool       `json:"exists"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// StudentState is the per-(student, session) progress record.
type StudentState struct {
	Registered      bool    `json:"registered"`
	RegistrationID  string  `json:"registration_id"`
	Status          string  `json:"status"`
	CurrentRound    uint    `json:"current_round"`
	ActiveNonce     string  `json:"active_nonce"`
	RoundsCompleted []int64 `json:"rounds_completed"`
	CurrentAttempt  int     `json:"current_attempt"`
	MaxAttempts     int     `json:"max_attempts"`
	MaxRounds       int     `json:"max_rounds"`
}

// SessionKey is the symmetric key bound to one enrolled device for the
// lifetime of a login.
type SessionKey struct {
	Key       []byte    `json:"key"`
	UserID    uint      `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ResponseTimeStats is the immutable statistical summary of a student's
// completed rounds.
type ResponseTimeStats struct {
	Avg       int64 `json:"avg"`
	StdDev    int64 `json:"std_dev"`
	Min       int64 `json:"min"`
	Max       int64 `json:"max"`
	Certainty int   `json:"certainty"`
}

// PenaltyCounter governs the device enrollment cooldown. It lives in the
// KV store under a 24h TTL, independent of the scan pipeline.
type PenaltyCounter struct {
	EnrollmentCount  int64     `json:"enrollment_count"`
	LastEnrollmentAt time.Time `json:"last_enrollment_at"`
}

// AttendanceSession is one live classroom session owned by an instructor.
type AttendanceSession struct {
	ID           uuid.UUID `db:"id" json:"id"`
	InstructorID uuid.UUID `db:"instructor_id" json:"instructor_id"`
	Name         string    `db:"name" json:"name"`
	MaxRounds    int       `db:"max_rounds" json:"max_rounds"`
	MinPoolSize  int       `db:"min_pool_size" json:"min_pool_size"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Registration ties a student's enrolled device to one session.
type Registration struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	StudentID uint      `db:"student_id" json:"student_id"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RoundAttempt is the persisted record of one accepted round, unique on
// (registration_id, round_number).
type RoundAttempt struct {
	ID             uuid.UUID `db:"id" json:"id"`
	RegistrationID uuid.UUID `db:"registration_id" json:"registration_id"`
	RoundNumber    int       `db:"round_number" json:"round_number"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AttendanceResult is the scored final verdict for one registration.
type AttendanceResult struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	RegistrationID  uuid.UUID         `db:"registration_id" json:"registration_id"`
	Stats           ResponseTimeStats `db:"-" json:"stats"`
	RoundsCompleted int               `db:"rounds_completed" json:"rounds_completed"`
	FullCompletion  bool              `db:"full_completion" json:"full_completion"`
	FinalStatus     string            `db:"final_status" json:"final_status"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
}

// Instructor is a staff account that may open sessions.
type Instructor struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// EnrolledDevice is the active attested credential for one student, as
// returned by the device-lookup port.
type EnrolledDevice struct {
	UserID       uint      `db:"user_id" json:"user_id"`
	CredentialID string    `db:"credential_id" json:"credential_id"`
	PublicKey    []byte    `db:"public_key" json:"-"`
	Active       bool      `db:"active" json:"active"`
	EnrolledAt   time.Time `db:"enrolled_at" json:"enrolled_at"`
}
