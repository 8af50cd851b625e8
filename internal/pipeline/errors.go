package pipeline

import "fmt"

// Rejection codes. Every code is terminal for the current scan attempt
// and never fatal to the process; a client recovers by scanning a fresh
// code.
const (
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodePayloadExpired        = "PAYLOAD_EXPIRED"
	CodePayloadConsumed       = "PAYLOAD_ALREADY_CONSUMED"
	CodeStudentNotRegistered  = "STUDENT_NOT_REGISTERED"
	CodeAlreadyCompleted      = "ALREADY_COMPLETED"
	CodeNoAttemptsLeft        = "NO_ATTEMPTS_LEFT"
	CodeWrongQR               = "WRONG_QR"
	CodeRoundAlreadyCompleted = "ROUND_ALREADY_COMPLETED"
	CodeRoundNotReached       = "ROUND_NOT_REACHED"
	CodeTOTPMissing           = "TOTP_MISSING"
	CodeSessionKeyNotFound    = "SESSION_KEY_NOT_FOUND"
	CodeTOTPInvalid           = "TOTP_INVALID"
	CodeInternalError         = "INTERNAL_ERROR"
)

// ValidationError is a local rejection of one scan attempt. It is carried
// on the context, not returned: a stage that hits infrastructure trouble
// returns a plain error instead, and that propagates to the boundary.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
