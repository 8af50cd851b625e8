package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/presencegate/server/internal/services"
)

// DeviceHandler handles device login and logout. The attestation
// ceremony itself happens elsewhere; by the time these endpoints run it
// has produced a credential identifier and a Diffie-Hellman shared
// secret, and this handler only turns those into a session key.
type DeviceHandler struct {
	keys         *services.SessionKeyService
	sessions     services.SessionLookup
	devices      services.DeviceLookup
	restrictions services.RestrictionLookup
	penalties    *services.PenaltyService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(keys *services.SessionKeyService, sessions services.SessionLookup, devices services.DeviceLookup, restrictions services.RestrictionLookup, penalties *services.PenaltyService) *DeviceHandler {
	return &DeviceHandler{keys: keys, sessions: sessions, devices: devices, restrictions: restrictions, penalties: penalties}
}

// LoginRequest carries the attestation ceremony's output.
type LoginRequest struct {
	StudentID    uint   `json:"student_id" binding:"required"`
	SharedSecret string `json:"shared_secret" binding:"required"`
}

// Login establishes the session key for a student's enrolled device.
func (h *DeviceHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blocked, err := h.restrictions.IsBlocked(c.Request.Context(), req.StudentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if blocked {
		c.JSON(http.StatusForbidden, gin.H{"error": "account restricted"})
		return
	}

	device, err := h.devices.ActiveDevice(c.Request.Context(), req.StudentID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no enrolled device"})
		return
	}

	secret, err := base64.StdEncoding.DecodeString(req.SharedSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shared secret encoding"})
		return
	}

	key, err := h.keys.Establish(c.Request.Context(), req.StudentID, device.CredentialID, secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to establish session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"student_id": key.UserID,
		"device_id":  key.DeviceID,
		"created_at": key.CreatedAt,
	})
}

// LogoutRequest identifies the student ending their session.
type LogoutRequest struct {
	StudentID uint `json:"student_id" binding:"required"`
}

// Logout destroys the session key.
func (h *DeviceHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.keys.Destroy(c.Request.Context(), req.StudentID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// Status reports whether a student currently has a live session key.
func (h *DeviceHandler) Status(c *gin.Context) {
	studentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	active, err := h.sessions.HasActiveKey(c.Request.Context(), uint(studentID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

// EnrollRequest records a freshly attested credential.
type EnrollRequest struct {
	StudentID    uint   `json:"student_id" binding:"required"`
	CredentialID string `json:"credential_id" binding:"required"`
	PublicKey    string `json:"public_key" binding:"required"`
}

// EnrollGate checks the enrollment cooldown before the attestation
// ceremony is allowed to proceed. Repeated re-enrollment within the
// window is a device-sharing signal and is refused.
func (h *DeviceHandler) EnrollGate(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allowed, err := h.penalties.RecordEnrollment(c.Request.Context(), req.StudentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "enrollment cooldown active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enrollment permitted"})
}
