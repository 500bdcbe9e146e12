package attendance

import (
	"fmt"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
)

type Kind string

const (
	KindInvalidQr        Kind = "invalid_qr"
	KindAlreadyCheckedIn Kind = "already_checked_in"
	KindNotCheckedIn     Kind = "not_checked_in"
	KindInProgress       Kind = "in_progress"
	KindPermission       Kind = "permission"
	KindNotAuthenticated Kind = "not_authenticated"
	KindSessionExpired   Kind = "session_expired"
	KindNetwork          Kind = "network"
	KindHTTP             Kind = "http"
	KindApplication      Kind = "application"
	KindInvalidResponse  Kind = "invalid_response"
)

var (
	ErrInvalidQr        = &WorkflowError{Kind: KindInvalidQr}
	ErrAlreadyCheckedIn = &WorkflowError{Kind: KindAlreadyCheckedIn}
	ErrNotCheckedIn     = &WorkflowError{Kind: KindNotCheckedIn}
	ErrInProgress       = &WorkflowError{Kind: KindInProgress}
)

// Reporter codes emitted by the engine
const (
	CodeCheckInFailed    = "ATTENDANCE_CHECKIN_FAILED"
	CodeCheckOutFailed   = "ATTENDANCE_CHECKOUT_FAILED"
	CodeSyncFailed       = "ATTENDANCE_SYNC_FAILED"
	CodeCacheReadFailed  = "ATTENDANCE_CACHE_READ_FAILED"
	CodeCacheWriteFailed = "ATTENDANCE_CACHE_WRITE_FAILED"
)

var messages = map[Kind]string{
	KindInvalidQr:        "유효하지 않은 QR 코드입니다.",
	KindAlreadyCheckedIn: "이미 출근 처리되었습니다.",
	KindNotCheckedIn:     "출근 기록이 없습니다.",
	KindInProgress:       "처리 중입니다. 잠시만 기다려 주세요.",
	KindNotAuthenticated: "로그인이 필요합니다.",
	KindSessionExpired:   "세션이 만료되었습니다. 다시 로그인해 주세요.",
	KindNetwork:          "네트워크 연결을 확인해 주세요.",
}

// WorkflowError is the typed failure returned by the engine. Message is safe to show
// to the worker. errors.Is matches on Kind and on the shared taxonomy sentinels.
type WorkflowError struct {
	Kind    Kind
	Message string
	Err     error
}

func newWorkflowError(kind Kind, err error) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: messages[kind], Err: err}
}

func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("attendance: %s", e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *WorkflowError) Is(target error) bool {
	if t, ok := target.(*WorkflowError); ok {
		return t.Kind == e.Kind
	}
	return target == e.sentinel()
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) sentinel() error {
	switch e.Kind {
	case KindInvalidQr:
		return appErrors.ErrParse
	case KindAlreadyCheckedIn, KindNotCheckedIn, KindInProgress:
		return appErrors.ErrValidation
	case KindPermission:
		return appErrors.ErrPermission
	case KindNotAuthenticated:
		return appErrors.ErrNotAuthenticated
	case KindSessionExpired:
		return appErrors.ErrSessionExpired
	case KindNetwork:
		return appErrors.ErrNetwork
	case KindHTTP:
		return appErrors.ErrHTTP
	case KindApplication:
		return appErrors.ErrApplication
	default:
		return appErrors.ErrInvalidResponse
	}
}
