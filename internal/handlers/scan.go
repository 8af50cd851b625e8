package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/presencegate/server/internal/pipeline"
)

// ScanHandler accepts encrypted scan submissions and runs them through
// the validation pipeline.
type ScanHandler struct {
	pipeline *pipeline.Pipeline
}

// NewScanHandler creates a new scan handler
func NewScanHandler(p *pipeline.Pipeline) *ScanHandler {
	return &ScanHandler{pipeline: p}
}

// ScanRequest is the wire submission: the student's identity claim plus
// the sealed response envelope.
type ScanRequest struct {
	StudentID uint   `json:"student_id" binding:"required"`
	Encrypted string `json:"encrypted" binding:"required"`
}

// ScanResult is returned for both accepted and rejected scans. Rejections
// are part of the protocol, not transport errors.
type ScanResult struct {
	Accepted bool        `json:"accepted"`
	Code     string      `json:"code,omitempty"`
	Message  string      `json:"message,omitempty"`
	FailedAt string      `json:"failed_at,omitempty"`
	Result   interface{} `json:"result,omitempty"`
}

// Submit runs one scan attempt end to end. Validation rejections come
// back as a structured refusal; infrastructure failures surface as 500.
func (h *ScanHandler) Submit(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vc := pipeline.NewContext(req.Encrypted, req.StudentID, time.Now())
	if err := h.pipeline.Run(c.Request.Context(), vc); err != nil {
		log.Printf("scan pipeline infrastructure failure: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if vc.Rejected() {
		c.JSON(http.StatusOK, ScanResult{
			Accepted: false,
			Code:     vc.Err.Code,
			Message:  vc.Err.Message,
			FailedAt: vc.FailedAt,
		})
		return
	}

	result := ScanResult{Accepted: true}
	if vc.Result != nil {
		result.Result = vc.Result
	}
	c.JSON(http.StatusOK, result)
}
