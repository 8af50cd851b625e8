package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/presencegate/server/internal/middleware"
	"github.com/presencegate/server/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionHandler handles session lifecycle and pool operations.
type SessionHandler struct {
	sessions *services.SessionService
	pool     *services.PoolService
	results  *services.AttemptRepository
	tick     time.Duration
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService, pool *services.PoolService, results *services.AttemptRepository, rotationTick time.Duration) *SessionHandler {
	return &SessionHandler{sessions: sessions, pool: pool, results: results, tick: rotationTick}
}

// Create opens a new attendance session for the authenticated instructor.
func (h *SessionHandler) Create(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instructorID, err := uuid.Parse(middleware.GetInstructorID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid instructor id"})
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), instructorID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// RegisterStudentRequest enrolls one student into a session.
type RegisterStudentRequest struct {
	StudentID uint   `json:"student_id" binding:"required"`
	DeviceID  string `json:"device_id" binding:"required"`
}

// RegisterStudent enrolls a student device into the session.
func (h *SessionHandler) RegisterStudent(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var req RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reg, err := h.sessions.RegisterStudent(c.Request.Context(), sessionID, req.StudentID, req.DeviceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// Balance runs one balancing pass and returns the report.
func (h *SessionHandler) Balance(c *gin.Context) {
	report, err := h.pool.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// InjectFakesRequest forces a specific number of decoys into the pool.
type InjectFakesRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

// InjectFakes force-adds decoys (manual and test use).
func (h *SessionHandler) InjectFakes(c *gin.Context) {
	var req InjectFakesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.pool.InjectFakes(c.Request.Context(), c.Param("id"), req.Count); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"injected": req.Count})
}

// Stats returns the pool composition.
func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.pool.PoolStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Results lists the scored verdicts for a session.
func (h *SessionHandler) Results(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	results, err := h.results.ResultsBySession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// RegistrationDetail returns one registration's verdict and its accepted
// rounds.
func (h *SessionHandler) RegistrationDetail(c *gin.Context) {
	regID, err := uuid.Parse(c.Param("regId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
		return
	}

	attempts, err := h.results.AttemptsByRegistration(c.Request.Context(), regID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	detail := gin.H{"attempts": attempts}
	if result, err := h.results.ResultByRegistration(c.Request.Context(), regID); err == nil {
		detail["result"] = result
	}
	c.JSON(http.StatusOK, detail)
}

// Feed streams the rotating broadcast pool to the projector client over
// a websocket. Each tick rotates every active student's code, rebalances
// the pool, and pushes the full envelope set.
func (h *SessionHandler) Feed(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade feed connection: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		report, err := h.sessions.RotateCodes(ctx, sessionID)
		if err != nil {
			log.Printf("rotation failed for session %s: %v", sessionID, err)
			return
		}
		envelopes, err := h.pool.Snapshot(ctx, sessionID.String())
		if err != nil {
			log.Printf("pool snapshot failed for session %s: %v", sessionID, err)
			return
		}

		frame := gin.H{
			"codes":   envelopes,
			"total":   report.Total,
			"sent_at": time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
