package services

import (
	"context"
	"fmt"

	"github.com/presencegate/server/internal/models"
	"github.com/presencegate/server/internal/storage"
)

// Read-only capability ports consumed by the broader access gateway.
// Each is a single-method, side-effect-free query.

// DeviceLookup resolves the active enrolled device for a user.
type DeviceLookup interface {
	ActiveDevice(ctx context.Context, userID uint) (*models.EnrolledDevice, error)
}

// RestrictionLookup reports whether a user is currently blocked.
type RestrictionLookup interface {
	IsBlocked(ctx context.Context, userID uint) (bool, error)
}

// SessionLookup reports whether a user has a live session key.
// SessionKeyService satisfies this.
type SessionLookup interface {
	HasActiveKey(ctx context.Context, userID uint) (bool, error)
}

// DeviceDirectory is the Postgres-backed DeviceLookup.
type DeviceDirectory struct {
	db *storage.DB
}

// NewDeviceDirectory creates the device lookup.
func NewDeviceDirectory(db *storage.DB) *DeviceDirectory {
	return &DeviceDirectory{db: db}
}

// ActiveDevice returns the active attested credential for a user, or an
// error when none is enrolled.
func (d *DeviceDirectory) ActiveDevice(ctx context.Context, userID uint) (*models.EnrolledDevice, error) {
	var device models.EnrolledDevice
	err := d.db.Pool.QueryRow(ctx,
		`SELECT user_id, credential_id, public_key, active, enrolled_at
		 FROM enrolled_devices WHERE user_id = $1 AND active = true`,
		userID).Scan(&device.UserID, &device.CredentialID, &device.PublicKey, &device.Active, &device.EnrolledAt)
	if err != nil {
		return nil, fmt.Errorf("no active device for user %d", userID)
	}
	return &device, nil
}

// RestrictionDirectory is the Postgres-backed RestrictionLookup.
type RestrictionDirectory struct {
	db *storage.DB
}

// NewRestrictionDirectory creates the restriction lookup.
func NewRestrictionDirectory(db *storage.DB) *RestrictionDirectory {
	return &RestrictionDirectory{db: db}
}

// IsBlocked reports whether the user has an unexpired restriction.
func (d *RestrictionDirectory) IsBlocked(ctx context.Context, userID uint) (bool, error) {
	var blocked bool
	err := d.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM user_restrictions
		   WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())
		 )`,
		userID).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("failed to check restriction: %w", err)
	}
	return blocked, nil
}
