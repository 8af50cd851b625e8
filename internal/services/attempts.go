package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/presencegate/server/internal/models"
	"github.com/presencegate/server/internal/storage"
)

// AttemptRepository persists accepted rounds and final results, keyed by
// (registration, round). Inserts are create-if-absent so a re-delivered
// completion never duplicates a record.
type AttemptRepository struct {
	db *storage.DB
}

// NewAttemptRepository creates the repository.
func NewAttemptRepository(db *storage.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// RecordAttempt stores one accepted round. A conflicting insert for the
// same (registration, round) is a no-op.
func (r *AttemptRepository) RecordAttempt(ctx context.Context, registrationID string, round int, responseTimeMs int64) error {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return fmt.Errorf("invalid registration id: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO round_attempts (id, registration_id, round_number, response_time_ms, status)
		 VALUES ($1, $2, $3, $4, 'accepted')
		 ON CONFLICT (registration_id, round_number) DO NOTHING`,
		uuid.New(), regID, round, responseTimeMs)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecordResult stores the scored verdict for a completed registration.
func (r *AttemptRepository) RecordResult(ctx context.Context, registrationID string, report models.ScoreReport) (*models.AttendanceResult, error) {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return nil, fmt.Errorf("invalid registration id: %w", err)
	}

	result := &models.AttendanceResult{
		ID:              uuid.New(),
		RegistrationID:  regID,
		Stats:           report.Stats,
		RoundsCompleted: report.RoundsCompleted,
		FullCompletion:  report.IsFullCompletion,
		FinalStatus:     report.FinalStatus,
		CreatedAt:       time.Now(),
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO attendance_results
		   (id, registration_id, avg_ms, std_dev_ms, min_ms, max_ms, certainty, rounds_completed, full_completion, final_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (registration_id) DO NOTHING`,
		result.ID, result.RegistrationID,
		result.Stats.Avg, result.Stats.StdDev, result.Stats.Min, result.Stats.Max,
		result.Stats.Certainty, result.RoundsCompleted, result.FullCompletion, result.FinalStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to record result: %w", err)
	}
	return result, nil
}

// ResultByRegistration fetches a stored verdict.
func (r *AttemptRepository) ResultByRegistration(ctx context.Context, registrationID uuid.UUID) (*models.AttendanceResult, error) {
	var result models.AttendanceResult
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, registration_id, avg_ms, std_dev_ms, min_ms, max_ms, certainty, rounds_completed, full_completion, final_status, created_at
		 FROM attendance_results WHERE registration_id = $1`,
		registrationID).Scan(
		&result.ID, &result.RegistrationID,
		&result.Stats.Avg, &result.Stats.StdDev, &result.Stats.Min, &result.Stats.Max,
		&result.Stats.Certainty, &result.RoundsCompleted, &result.FullCompletion,
		&result.FinalStatus, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("result not found")
	}
	return &result, nil
}

// ResultsBySession lists the scored verdicts for every registration in a
// session, oldest first.
func (r *AttemptRepository) ResultsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceResult, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT ar.id, ar.registration_id, ar.avg_ms, ar.std_dev_ms, ar.min_ms, ar.max_ms,
		        ar.certainty, ar.rounds_completed, ar.full_completion, ar.final_status, ar.created_at
		 FROM attendance_results ar
		 JOIN registrations reg ON reg.id = ar.registration_id
		 WHERE reg.session_id = $1
		 ORDER BY ar.created_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.AttendanceResult
	for rows.Next() {
		var result models.AttendanceResult
		if err := rows.Scan(&result.ID, &result.RegistrationID,
			&result.Stats.Avg, &result.Stats.StdDev, &result.Stats.Min, &result.Stats.Max,
			&result.Stats.Certainty, &result.RoundsCompleted, &result.FullCompletion,
			&result.FinalStatus, &result.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// AttemptsByRegistration lists the accepted rounds for a registration in
// round order.
func (r *AttemptRepository) AttemptsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]models.RoundAttempt, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, registration_id, round_number, response_time_ms, status, created_at
		 FROM round_attempts WHERE registration_id = $1 ORDER BY round_number`,
		registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.RoundAttempt
	for rows.Next() {
		var a models.RoundAttempt
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.RoundNumber, &a.ResponseTimeMs, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
