package domain

import "fmt"

type ErrorCode string

const (
	CodeAuthFailed       ErrorCode = "AUTH_FAILED"
	CodeBadMessage       ErrorCode = "BAD_MESSAGE"
	CodeStaleOperation   ErrorCode = "STALE_OPERATION"
	CodeReorderConflict  ErrorCode = "REORDER_CONFLICT"
	CodeRoomNotFound     ErrorCode = "ROOM_NOT_FOUND"
	CodeDispatchOverflow ErrorCode = "DISPATCH_OVERFLOW"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
)

// Error is a protocol error addressed to the originating connection only.
type Error struct {
	Code     ErrorCode
	Message  string
	RefersTo string
}

func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Ref returns a copy of e pointing at the offending client message id.
func (e *Error) Ref(id string) *Error {
	cp := *e
	cp.RefersTo = id
	return &cp
}
