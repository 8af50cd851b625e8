package pipeline

import (
	"time"

	"github.com/presencegate/server/internal/models"
)

// TraceEntry records the outcome of one executed stage for observability.
type TraceEntry struct {
	Stage    string        `json:"stage"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
}

// Context is the ephemeral state of one scan attempt, threaded by
// reference through the stage chain. Ownership is sequential and
// exclusive per request; it is never shared across requests and never
// persisted as-is.
type Context struct {
	Encrypted string
	StudentID uint
	StartedAt time.Time

	Trace []TraceEntry

	Response     *models.ScanResponse
	SessionKey   *models.SessionKey
	QRState      *models.QRState
	StudentState *models.StudentState

	// Populated by completeScan on the final round.
	Result *models.AttendanceResult

	Err      *ValidationError
	FailedAt string
}

// NewContext starts a scan attempt for one student.
func NewContext(encrypted string, studentID uint, now time.Time) *Context {
	return &Context{
		Encrypted: encrypted,
		StudentID: studentID,
		StartedAt: now,
	}
}

// Rejected reports whether a stage has rejected this attempt.
func (c *Context) Rejected() bool {
	return c.Err != nil
}

// ResponseTimeMs is the elapsed time between code generation and this
// submission, clamped at zero for skewed client clocks.
func (c *Context) ResponseTimeMs() int64 {
	if c.Response == nil {
		return 0
	}
	ms := c.StartedAt.UnixMilli() - c.Response.Timestamp
	if ms < 0 {
		return 0
	}
	return ms
}
