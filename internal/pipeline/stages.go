package pipeline

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/presencegate/server/internal/crypto"
	"github.com/presencegate/server/internal/models"
)

// Deps bundles the collaborators every stage may draw on. All of them are
// constructed once at startup and injected; stages hold no hidden state.
type Deps struct {
	Keys     KeyLookup
	QRStates QRStates
	Students Students
	Attempts Attempts
	Scorer   Scorer

	ServerSecret []byte
	TOTPStep     time.Duration
	TOTPSkew     int
	Now          func() time.Time
}

// New builds the fixed validation chain. The order is load-bearing: each
// stage reads context fields populated by the stages before it.
func New(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TOTPStep == 0 {
		deps.TOTPStep = crypto.DefaultTOTPStep
	}
	return &Pipeline{stages: []Stage{
		decryptStage{deps},
		loadQRStateStage{deps},
		qrNotExpiredStage{},
		qrNotConsumedStage{},
		loadStudentStateStage{deps},
		studentRegisteredStage{},
		studentActiveStage{},
		studentOwnsQRStage{},
		roundMatchStage{},
		totpStage{deps},
		completeScanStage{deps},
	}}
}

type decryptStage struct{ deps Deps }

func (decryptStage) Name() string { return "decrypt" }

func (s decryptStage) Run(ctx context.Context, vc *Context) error {
	if vc.Encrypted == "" {
		vc.Err = reject(CodeInvalidPayload, "empty submission")
		return nil
	}

	key, err := s.deps.Keys.SessionKey(ctx, vc.StudentID)
	if err != nil {
		return err
	}
	if key == nil {
		vc.Err = reject(CodeSessionKeyNotFound, "no session key on record")
		return nil
	}
	vc.SessionKey = key

	plain, err := crypto.Open(vc.Encrypted, key.Key)
	if err != nil {
		vc.Err = reject(CodeInvalidPayload, "submission could not be decrypted")
		return nil
	}

	var resp models.ScanResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		vc.Err = reject(CodeInvalidPayload, "submission is not a valid payload")
		return nil
	}
	if !validPayload(&resp.QRPayload) {
		vc.Err = reject(CodeInvalidPayload, "payload failed schema validation")
		return nil
	}
	vc.Response = &resp
	return nil
}

func validPayload(p *models.QRPayload) bool {
	if p.Version != 1 || p.SessionID == "" || p.Round < 1 || p.Timestamp <= 0 {
		return false
	}
	if len(p.Nonce) != 32 {
		return false
	}
	_, err := hex.DecodeString(p.Nonce)
	return err == nil
}

type loadQRStateStage struct{ deps Deps }

func (loadQRStateStage) Name() string { return "loadQRState" }

func (s loadQRStateStage) Run(ctx context.Context, vc *Context) error {
	if vc.Response == nil {
		vc.Err = reject(CodeInternalError, "loadQRState ran before decrypt")
		return nil
	}
	state, err := s.deps.QRStates.Load(ctx, vc.Response.Nonce)
	if err != nil {
		return err
	}
	if state == nil {
		// Unknown or expired nonce reads back as a non-existent state;
		// the expiry stage turns that into the rejection.
		state = &models.QRState{}
	}
	vc.QRState = state
	return nil
}

type qrNotExpiredStage struct{}

func (qrNotExpiredStage) Name() string { return "validateQRNotExpired" }

func (qrNotExpiredStage) Run(_ context.Context, vc *Context) error {
	if vc.QRState == nil {
		vc.Err = reject(CodeInternalError, "validateQRNotExpired ran before loadQRState")
		return nil
	}
	if !vc.QRState.Exists {
		vc.Err = reject(CodePayloadExpired, "code expired or was never issued")
	}
	return nil
}

type qrNotConsumedStage struct{}

func (qrNotConsumedStage) Name() string { return "validateQRNotConsumed" }

func (qrNotConsumedStage) Run(_ context.Context, vc *Context) error {
	if vc.QRState == nil {
		vc.Err = reject(CodeInternalError, "validateQRNotConsumed ran before loadQRState")
		return nil
	}
	if vc.QRState.Consumed {
		vc.Err = reject(CodePayloadConsumed, "code already consumed")
	}
	return nil
}

type loadStudentStateStage struct{ deps Deps }

func (loadStudentStateStage) Name() string { return "loadStudentState" }

func (s loadStudentStateStage) Run(ctx context.Context, vc *Context) error {
	if vc.Response == nil {
		vc.Err = reject(CodeInternalError, "loadStudentState ran before decrypt")
		return nil
	}
	state, err := s.deps.Students.Load(ctx, vc.StudentID, vc.Response.SessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.StudentState{}
	}
	vc.StudentState = state
	return nil
}

type studentRegisteredStage struct{}

func (studentRegisteredStage) Name() string { return "validateStudentRegistered" }

func (studentRegisteredStage) Run(_ context.Context, vc *Context) error {
	if vc.StudentState == nil {
		vc.Err = reject(CodeInternalError, "validateStudentRegistered ran before loadStudentState")
		return nil
	}
	if !vc.StudentState.Registered {
		vc.Err = reject(CodeStudentNotRegistered, "student is not registered for this session")
	}
	return nil
}

type studentActiveStage struct{}

func (studentActiveStage) Name() string { return "validateStudentActive" }

func (studentActiveStage) Run(_ context.Context, vc *Context) error {
	if vc.StudentState == nil {
		vc.Err = reject(CodeInternalError, "validateStudentActive ran before loadStudentState")
		return nil
	}
	switch vc.StudentState.Status {
	case models.StatusPending, models.StatusInProgress:
		return nil
	case models.StatusCompleted:
		vc.Err = reject(CodeAlreadyCompleted, "attendance already completed")
	case models.StatusFailed:
		vc.Err = reject(CodeNoAttemptsLeft, "no attempts left")
	default:
		vc.Err = reject(CodeInternalError, "unknown student status")
	}
	return nil
}

type studentOwnsQRStage struct{}

func (studentOwnsQRStage) Name() string { return "validateStudentOwnsQR" }

func (studentOwnsQRStage) Run(_ context.Context, vc *Context) error {
	if vc.Response == nil || vc.StudentState == nil {
		vc.Err = reject(CodeInternalError, "validateStudentOwnsQR missing context")
		return nil
	}
	if vc.Response.Nonce != vc.StudentState.ActiveNonce {
		vc.Err = reject(CodeWrongQR, "code is not assigned to this student")
	}
	return nil
}

type roundMatchStage struct{}

func (roundMatchStage) Name() string { return "validateRoundMatch" }

func (roundMatchStage) Run(_ context.Context, vc *Context) error {
	if vc.Response == nil || vc.StudentState == nil {
		vc.Err = reject(CodeInternalError, "validateRoundMatch missing context")
		return nil
	}
	switch {
	case vc.Response.Round < vc.StudentState.CurrentRound:
		vc.Err = reject(CodeRoundAlreadyCompleted, "round already completed")
	case vc.Response.Round > vc.StudentState.CurrentRound:
		vc.Err = reject(CodeRoundNotReached, "round not reached yet")
	}
	return nil
}

type totpStage struct{ deps Deps }

func (totpStage) Name() string { return "totpValidation" }

func (s totpStage) Run(_ context.Context, vc *Context) error {
	if vc.Response == nil || vc.SessionKey == nil {
		vc.Err = reject(CodeInternalError, "totpValidation missing context")
		return nil
	}
	resp := vc.Response
	if resp.TOTPu == "" || resp.TOTPs == "" {
		vc.Err = reject(CodeTOTPMissing, "one-time codes missing from payload")
		return nil
	}

	now := s.deps.Now()
	if !crypto.VerifyTOTP(vc.SessionKey.Key, resp.TOTPu, now, s.deps.TOTPStep, s.deps.TOTPSkew) {
		vc.Err = reject(CodeTOTPInvalid, "device continuity code did not verify")
		return nil
	}
	if !crypto.VerifyRoundTOTP(s.deps.ServerSecret, resp.SessionID, resp.UserID, resp.Round, resp.TOTPs, now, s.deps.TOTPStep, s.deps.TOTPSkew) {
		vc.Err = reject(CodeTOTPInvalid, "round freshness code did not verify")
	}
	return nil
}

type completeScanStage struct{ deps Deps }

func (completeScanStage) Name() string { return "completeScan" }

func (s completeScanStage) Run(ctx context.Context, vc *Context) error {
	if vc.Response == nil || vc.StudentState == nil || vc.QRState == nil {
		vc.Err = reject(CodeInternalError, "completeScan missing context")
		return nil
	}

	// The store decides the race: exactly one request may consume a nonce
	// even when the earlier read saw it unconsumed.
	won, err := s.deps.QRStates.Consume(ctx, vc.Response.Nonce)
	if err != nil {
		return err
	}
	if !won {
		vc.Err = reject(CodePayloadConsumed, "code already consumed")
		return nil
	}

	state := vc.StudentState
	responseTime := vc.ResponseTimeMs()
	state.RoundsCompleted = append(state.RoundsCompleted, responseTime)
	state.CurrentAttempt = 0
	state.ActiveNonce = ""

	if err := s.deps.Attempts.RecordAttempt(ctx, state.RegistrationID, int(vc.Response.Round), responseTime); err != nil {
		return err
	}

	if int(vc.Response.Round) >= state.MaxRounds {
		state.Status = models.StatusCompleted
		report := s.deps.Scorer.Calculate(state.RoundsCompleted, state.MaxRounds)
		result, err := s.deps.Attempts.RecordResult(ctx, state.RegistrationID, report)
		if err != nil {
			return err
		}
		vc.Result = result
	} else {
		state.Status = models.StatusInProgress
		state.CurrentRound++
	}

	return s.deps.Students.Save(ctx, vc.StudentID, vc.Response.SessionID, state)
}
