package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/kv"
	"github.com/presencegate/server/internal/models"
	"github.com/presencegate/server/internal/pipeline"
	"github.com/presencegate/server/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStudentID uint = 4242
	testDeviceID       = "cred-device-1"
	testSessionID      = "c7c3f1fa-1111-4f10-9e1f-2b5a8f0d6e01"
	totpStep           = 30 * time.Second
)

// fixedNow sits at a step boundary, so a payload minted 45 seconds
// earlier lands two counter steps back.
var fixedNow = time.Unix(1700000010, 0)

type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[string]map[int]int64
	results  map[string]models.ScoreReport
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		attempts: make(map[string]map[int]int64),
		results:  make(map[string]models.ScoreReport),
	}
}

func (f *fakeAttempts) RecordAttempt(_ context.Context, registrationID string, round int, responseTimeMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rounds, ok := f.attempts[registrationID]
	if !ok {
		rounds = make(map[int]int64)
		f.attempts[registrationID] = rounds
	}
	if _, exists := rounds[round]; !exists {
		rounds[round] = responseTimeMs
	}
	return nil
}

func (f *fakeAttempts) RecordResult(_ context.Context, registrationID string, report models.ScoreReport) (*models.AttendanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[registrationID] = report
	return &models.AttendanceResult{
		Stats:           report.Stats,
		RoundsCompleted: report.RoundsCompleted,
		FullCompletion:  report.IsFullCompletion,
		FinalStatus:     report.FinalStatus,
	}, nil
}

type fixture struct {
	keys         *services.SessionKeyService
	qrStates     *services.QRStateService
	students     *services.StudentStateService
	attempts     *fakeAttempts
	pipeline     *pipeline.Pipeline
	serverSecret []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	fx := &fixture{
		keys:         services.NewSessionKeyService(store, time.Hour),
		qrStates:     services.NewQRStateService(store, 90*time.Second),
		students:     services.NewStudentStateService(store),
		attempts:     newFakeAttempts(),
		serverSecret: []byte("server-secret-for-tests"),
	}
	fx.pipeline = pipeline.New(pipeline.Deps{
		Keys:         fx.keys,
		QRStates:     fx.qrStates,
		Students:     fx.students,
		Attempts:     fx.attempts,
		Scorer:       services.NewCertaintyScorer(),
		ServerSecret: fx.serverSecret,
		TOTPStep:     totpStep,
		TOTPSkew:     1,
		Now:          func() time.Time { return fixedNow },
	})
	return fx
}

func (fx *fixture) establishKey(t *testing.T) *models.SessionKey {
	t.Helper()
	key, err := fx.keys.Establish(context.Background(), testStudentID, testDeviceID, []byte("dh-shared-secret"))
	require.NoError(t, err)
	return key
}

func (fx *fixture) seedStudent(t *testing.T, state *models.StudentState) {
	t.Helper()
	require.NoError(t, fx.students.Save(context.Background(), testStudentID, testSessionID, state))
}

func (fx *fixture) issueNonce(t *testing.T) string {
	t.Helper()
	nonce := crypto.NewNonce()
	require.NoError(t, fx.qrStates.Issue(context.Background(), nonce))
	return nonce
}

func (fx *fixture) run(t *testing.T, envelope string) *pipeline.Context {
	t.Helper()
	vc := pipeline.NewContext(envelope, testStudentID, fixedNow)
	require.NoError(t, fx.pipeline.Run(context.Background(), vc))
	return vc
}

func registeredState(nonce string) *models.StudentState {
	return &models.StudentState{
		Registered:     true,
		RegistrationID: "reg-1",
		Status:         models.StatusPending,
		CurrentRound:   1,
		ActiveNonce:    nonce,
		MaxAttempts:    3,
		MaxRounds:      4,
	}
}

// scanPayload builds a payload stamped so the submission reads as a
// 1200ms response.
func scanPayload(round uint, nonce string) models.QRPayload {
	return models.QRPayload{
		Version:   1,
		SessionID: testSessionID,
		UserID:    testStudentID,
		Round:     round,
		Timestamp: fixedNow.Add(-1200 * time.Millisecond).UnixMilli(),
		Nonce:     nonce,
	}
}

func (fx *fixture) sealScan(t *testing.T, key []byte, payload models.QRPayload, codesAt time.Time) string {
	t.Helper()
	resp := models.ScanResponse{
		QRPayload: payload,
		TOTPu:     crypto.GenerateTOTP(key, codesAt, totpStep),
		TOTPs:     crypto.GenerateRoundTOTP(fx.serverSecret, payload.SessionID, payload.UserID, payload.Round, codesAt, totpStep),
	}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	envelope, err := crypto.Seal(data, key)
	require.NoError(t, err)
	return envelope
}

func TestPipeline_AcceptsValidScan(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	assert.False(t, vc.Rejected())
	assert.Nil(t, vc.Result, "non-final round must not produce a verdict")
	assert.Len(t, vc.Trace, 11)
	for _, entry := range vc.Trace {
		assert.True(t, entry.OK, "stage %s", entry.Stage)
	}

	state, err := fx.students.Load(context.Background(), testStudentID, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, state.Status)
	assert.Equal(t, uint(2), state.CurrentRound)
	assert.Equal(t, []int64{1200}, state.RoundsCompleted)
	assert.Empty(t, state.ActiveNonce)

	assert.Equal(t, int64(1200), fx.attempts.attempts["reg-1"][1])

	qrState, err := fx.qrStates.Load(context.Background(), nonce)
	require.NoError(t, err)
	assert.True(t, qrState.Consumed)
}

func TestPipeline_FinalRoundProducesVerdict(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)

	state := registeredState(nonce)
	state.Status = models.StatusInProgress
	state.CurrentRound = 4
	state.RoundsCompleted = []int64{1200, 1250, 1180}
	fx.seedStudent(t, state)

	payload := scanPayload(4, nonce)
	payload.Timestamp = fixedNow.Add(-1220 * time.Millisecond).UnixMilli()

	vc := fx.run(t, fx.sealScan(t, key.Key, payload, fixedNow))

	assert.False(t, vc.Rejected())
	require.NotNil(t, vc.Result)
	assert.Equal(t, models.VerdictPresent, vc.Result.FinalStatus)
	assert.True(t, vc.Result.FullCompletion)
	assert.Equal(t, 4, vc.Result.RoundsCompleted)

	saved, err := fx.students.Load(context.Background(), testStudentID, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, saved.Status)
	assert.Equal(t, []int64{1200, 1250, 1180, 1220}, saved.RoundsCompleted)

	report, ok := fx.attempts.results["reg-1"]
	require.True(t, ok)
	assert.Equal(t, models.VerdictPresent, report.FinalStatus)
}

func TestPipeline_RejectsWithoutSessionKey(t *testing.T) {
	fx := newFixture(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	// Seal under some key; the student never logged in on this server.
	vc := fx.run(t, fx.sealScan(t, crypto.EphemeralKey(), scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeSessionKeyNotFound, vc.Err.Code)
	assert.Equal(t, "decrypt", vc.FailedAt)
}

func TestPipeline_RejectsUndecryptableSubmission(t *testing.T) {
	fx := newFixture(t)
	fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	vc := fx.run(t, fx.sealScan(t, crypto.EphemeralKey(), scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeInvalidPayload, vc.Err.Code)
	assert.Equal(t, "decrypt", vc.FailedAt)
}

func TestPipeline_RejectsEmptySubmission(t *testing.T) {
	fx := newFixture(t)
	fx.establishKey(t)

	vc := fx.run(t, "")

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeInvalidPayload, vc.Err.Code)
}

func TestPipeline_RejectsExpiredNonce(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := crypto.NewNonce() // never issued, reads back as expired
	fx.seedStudent(t, registeredState(nonce))

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodePayloadExpired, vc.Err.Code)
	assert.Equal(t, "validateQRNotExpired", vc.FailedAt)
}

func TestPipeline_RejectsConsumedNonce(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	won, err := fx.qrStates.Consume(context.Background(), nonce)
	require.NoError(t, err)
	require.True(t, won)

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodePayloadConsumed, vc.Err.Code)
	assert.Equal(t, "validateQRNotConsumed", vc.FailedAt)
}

func TestPipeline_RejectsUnregisteredStudent(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeStudentNotRegistered, vc.Err.Code)
	assert.Equal(t, "validateStudentRegistered", vc.FailedAt)
}

func TestPipeline_RejectsByStudentStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		wantCode string
	}{
		{name: "completed", status: models.StatusCompleted, wantCode: pipeline.CodeAlreadyCompleted},
		{name: "failed", status: models.StatusFailed, wantCode: pipeline.CodeNoAttemptsLeft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			key := fx.establishKey(t)
			nonce := fx.issueNonce(t)

			state := registeredState(nonce)
			state.Status = tt.status
			fx.seedStudent(t, state)

			vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

			require.True(t, vc.Rejected())
			assert.Equal(t, tt.wantCode, vc.Err.Code)
			assert.Equal(t, "validateStudentActive", vc.FailedAt)
		})
	}
}

func TestPipeline_RejectsSomeoneElsesCode(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)

	state := registeredState(crypto.NewNonce()) // assigned a different code
	fx.seedStudent(t, state)

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeWrongQR, vc.Err.Code)
	assert.Equal(t, "validateStudentOwnsQR", vc.FailedAt)
}

func TestPipeline_RejectsRoundMismatch(t *testing.T) {
	tests := []struct {
		name         string
		payloadRound uint
		currentRound uint
		wantCode     string
	}{
		{name: "round ahead of progress", payloadRound: 2, currentRound: 1, wantCode: pipeline.CodeRoundNotReached},
		{name: "round already done", payloadRound: 1, currentRound: 2, wantCode: pipeline.CodeRoundAlreadyCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			key := fx.establishKey(t)
			nonce := fx.issueNonce(t)

			state := registeredState(nonce)
			state.CurrentRound = tt.currentRound
			fx.seedStudent(t, state)

			vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(tt.payloadRound, nonce), fixedNow))

			require.True(t, vc.Rejected())
			assert.Equal(t, tt.wantCode, vc.Err.Code)
			assert.Equal(t, "validateRoundMatch", vc.FailedAt)
		})
	}
}

func TestPipeline_RejectsMissingCodes(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	resp := models.ScanResponse{QRPayload: scanPayload(1, nonce)}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	envelope, err := crypto.Seal(data, key.Key)
	require.NoError(t, err)

	vc := fx.run(t, envelope)

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeTOTPMissing, vc.Err.Code)
	assert.Equal(t, "totpValidation", vc.FailedAt)
}

func TestPipeline_RejectsStaleCodes(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	// Codes minted 45 seconds ago land two steps back, outside skew 1.
	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow.Add(-45*time.Second)))

	require.True(t, vc.Rejected())
	assert.Equal(t, pipeline.CodeTOTPInvalid, vc.Err.Code)
	assert.Equal(t, "totpValidation", vc.FailedAt)
}

func TestPipeline_AcceptsPreviousStepCodes(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	// One step back is inside the skew window.
	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow.Add(-totpStep)))

	assert.False(t, vc.Rejected())
}

func TestPipeline_ReplayAfterAcceptIsConsumed(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	envelope := fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow)

	first := fx.run(t, envelope)
	assert.False(t, first.Rejected())

	second := fx.run(t, envelope)
	require.True(t, second.Rejected())
	assert.Equal(t, pipeline.CodePayloadConsumed, second.Err.Code)

	assert.Len(t, fx.attempts.attempts["reg-1"], 1)
}

func TestPipeline_ConcurrentSubmissionsConsumeOnce(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := fx.issueNonce(t)
	fx.seedStudent(t, registeredState(nonce))

	envelope := fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow)

	const workers = 8
	contexts := make([]*pipeline.Context, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vc := pipeline.NewContext(envelope, testStudentID, fixedNow)
			if err := fx.pipeline.Run(context.Background(), vc); err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			contexts[i] = vc
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, vc := range contexts {
		require.NotNil(t, vc)
		if !vc.Rejected() {
			accepted++
			continue
		}
		// Losers observed the scan at different points of the winner's
		// progress, but every one of them must be refused.
		assert.Contains(t, []string{
			pipeline.CodePayloadConsumed,
			pipeline.CodeWrongQR,
			pipeline.CodeRoundAlreadyCompleted,
		}, vc.Err.Code)
	}
	assert.Equal(t, 1, accepted)

	assert.Len(t, fx.attempts.attempts["reg-1"], 1)
}

func TestPipeline_TraceStopsAtRejection(t *testing.T) {
	fx := newFixture(t)
	key := fx.establishKey(t)
	nonce := crypto.NewNonce()
	fx.seedStudent(t, registeredState(nonce))

	vc := fx.run(t, fx.sealScan(t, key.Key, scanPayload(1, nonce), fixedNow))

	require.True(t, vc.Rejected())
	assert.Equal(t, "validateQRNotExpired", vc.Trace[len(vc.Trace)-1].Stage)
	assert.Len(t, vc.Trace, 3)
	assert.False(t, vc.Trace[len(vc.Trace)-1].OK)
}
