package models

// ScanResponse is the decrypted client submission: the broadcast payload
// fields echoed back, plus the two one-time codes.
type ScanResponse struct {
	QRPayload
	TOTPu string `json:"totpu,omitempty"`
	TOTPs string `json:"totps,omitempty"`
}

// ScoreReport is the certainty scorer's output for one registration.
type ScoreReport struct {
	Stats            ResponseTimeStats `json:"stats"`
	RoundsCompleted  int               `json:"rounds_completed"`
	IsFullCompletion bool              `json:"is_full_completion"`
	FinalStatus      string            `json:"final_status"`
}
