package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Scheduling and enrollment engine errors. Each carries a stable reason
// code so the HTTP layer can tell malformed input apart from a genuine
// conflict without parsing messages.
var (
	ErrPeriodNotActive     = New("PERIOD_NOT_ACTIVE", http.StatusPreconditionFailed, "academic period is not active")
	ErrDuplicateEnrollment = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "student already enrolled in this group for the period")
	ErrCapacityExceeded    = New("CAPACITY_EXCEEDED", http.StatusConflict, "group has reached its maximum capacity")
	ErrMaxSubjectsExceeded = New("MAX_SUBJECTS_EXCEEDED", http.StatusConflict, "student already holds the maximum of active subjects for the period")
	ErrSubjectAlreadyTaken = New("SUBJECT_ALREADY_TAKEN", http.StatusConflict, "student already enrolled in a group of this subject for the period")
	ErrScheduleOverlap     = New("SCHEDULE_OVERLAP", http.StatusConflict, "group schedule overlaps another group the student is enrolled in")
	ErrClassroomConflict   = New("CLASSROOM_CONFLICT", http.StatusConflict, "classroom already booked for the requested window")
	ErrTeacherConflict     = New("TEACHER_CONFLICT", http.StatusConflict, "teacher already scheduled for the requested window")
	ErrAlreadyResolved     = New("ALREADY_RESOLVED", http.StatusConflict, "change request already resolved")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
