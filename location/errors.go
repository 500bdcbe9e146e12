package location

import (
	"fmt"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
)

type Kind string

const (
	KindPermissionDenied       Kind = "permission_denied"
	KindSystemServicesDisabled Kind = "system_services_disabled"
	KindTimeout                Kind = "timeout"
	KindUnavailable            Kind = "unavailable"
)

var (
	ErrPermissionDenied       = &GeoError{Kind: KindPermissionDenied}
	ErrSystemServicesDisabled = &GeoError{Kind: KindSystemServicesDisabled}
	ErrTimeout                = &GeoError{Kind: KindTimeout}
	ErrUnavailable            = &GeoError{Kind: KindUnavailable}
)

var guidance = map[Kind]string{
	KindPermissionDenied:       "위치 권한이 거부되었습니다. 브라우저 설정에서 이 사이트의 위치 권한을 허용해 주세요.",
	KindSystemServicesDisabled: "기기의 위치 서비스가 꺼져 있습니다. 설정에서 위치 서비스를 켜 주세요.",
	KindTimeout:                "위치 확인 시간이 초과되었습니다. 다시 시도해 주세요.",
	KindUnavailable:            "현재 위치를 확인할 수 없습니다.",
}

// GeoError is the classified outcome of a failed location request.
type GeoError struct {
	Kind Kind
	Err  error
}

func (e *GeoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("location: %s", e.Kind)
}

// Guidance is the user-facing instruction for resolving the failure.
func (e *GeoError) Guidance() string {
	return guidance[e.Kind]
}

// IsPermission reports whether the user has to change a setting before retrying.
func (e *GeoError) IsPermission() bool {
	return e.Kind == KindPermissionDenied || e.Kind == KindSystemServicesDisabled
}

func (e *GeoError) Is(target error) bool {
	if target == appErrors.ErrPermission {
		return e.IsPermission()
	}
	t, ok := target.(*GeoError)
	return ok && t.Kind == e.Kind
}

func (e *GeoError) Unwrap() error {
	return e.Err
}
