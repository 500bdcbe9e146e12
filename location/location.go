package location

import (
	"context"
	"time"
)

// Position is one geolocation fix. It is never persisted.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Options mirrors the device position request options.
type Options struct {
	Timeout            time.Duration
	EnableHighAccuracy bool
	// MaximumAge accepts a previous fix no older than this instead of a new request.
	MaximumAge time.Duration
}

// PermissionState is the site-level geolocation permission as reported by the host.
type PermissionState string

const (
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionPrompt      PermissionState = "prompt"
	PermissionUnsupported PermissionState = "unsupported"
)

// DeviceErrorCode follows the host geolocation API codes.
type DeviceErrorCode int

const (
	DevicePermissionDenied    DeviceErrorCode = 1
	DevicePositionUnavailable DeviceErrorCode = 2
	DeviceTimeout             DeviceErrorCode = 3
)

// DeviceError is what a Provider returns when the host fails to produce a fix.
type DeviceError struct {
	Code    DeviceErrorCode
	Message string
}

func (e *DeviceError) Error() string {
	return e.Message
}

// Provider is the host geolocation capability.
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// PermissionQuerier reports the site permission independently of a position request.
type PermissionQuerier interface {
	QueryPermission(ctx context.Context) (PermissionState, error)
}
