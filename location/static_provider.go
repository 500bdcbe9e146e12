package location

import (
	"context"
	"time"
)

// StaticProvider serves a fixed position, for hosts that supply coordinates directly
// (CLI flags, kiosks with a surveyed position).
type StaticProvider struct {
	Position   Position
	Permission PermissionState
}

var (
	_ Provider          = (*StaticProvider)(nil)
	_ PermissionQuerier = (*StaticProvider)(nil)
)

func (p *StaticProvider) CurrentPosition(ctx context.Context, _ Options) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	if p.Permission == PermissionDenied {
		return Position{}, &DeviceError{Code: DevicePermissionDenied, Message: "User denied Geolocation"}
	}
	pos := p.Position
	if pos.Timestamp.IsZero() {
		pos.Timestamp = time.Now()
	}
	return pos, nil
}

func (p *StaticProvider) QueryPermission(context.Context) (PermissionState, error) {
	if p.Permission == "" {
		return PermissionGranted, nil
	}
	return p.Permission, nil
}
