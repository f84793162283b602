package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies every error the lifecycle engine surfaces to its callers.
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindNotFound           ErrorKind = "NotFoundError"
	KindConflict           ErrorKind = "ConflictError"
	KindInvalidState       ErrorKind = "InvalidStateError"
	KindForbidden          ErrorKind = "ForbiddenError"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
)

// Kind sentinels, usable with errors.Is against any *LifecycleError.
var (
	ErrValidation         = &LifecycleError{Kind: KindValidation}
	ErrNotFound           = &LifecycleError{Kind: KindNotFound}
	ErrConflict           = &LifecycleError{Kind: KindConflict}
	ErrInvalidState       = &LifecycleError{Kind: KindInvalidState}
	ErrForbidden          = &LifecycleError{Kind: KindForbidden}
	ErrStorageUnavailable = &LifecycleError{Kind: KindStorageUnavailable}
)

// LifecycleError is returned by every rejected lifecycle call. CurrentStatus is the
// entity's persisted status at the time of rejection, when one exists.
type LifecycleError struct {
	Kind          ErrorKind
	Entity        string
	EntityId      string
	CurrentStatus string
	Message       string
	Err           error
}

func (e *LifecycleError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Entity != "" && e.EntityId != "" {
		msg += fmt.Sprintf(" (%s %s", e.Entity, e.EntityId)
		if e.CurrentStatus != "" {
			msg += ", status=" + e.CurrentStatus
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, utils.ErrConflict).
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the same logical call.
func (e *LifecycleError) Retryable() bool {
	return e.Kind == KindStorageUnavailable
}

// KindOf returns the kind of the first LifecycleError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func NewValidationError(format string, args ...any) *LifecycleError {
	return &LifecycleError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity, id string) *LifecycleError {
	return &LifecycleError{Kind: KindNotFound, Entity: entity, EntityId: id, Message: entity + " not found"}
}

func NewConflictError(entity, id, currentStatus, message string) *LifecycleError {
	return &LifecycleError{Kind: KindConflict, Entity: entity, EntityId: id, CurrentStatus: currentStatus, Message: message}
}

func NewInvalidStateError(entity, id, currentStatus, message string) *LifecycleError {
	return &LifecycleError{Kind: KindInvalidState, Entity: entity, EntityId: id, CurrentStatus: currentStatus, Message: message}
}

func NewForbiddenError(entity, id, currentStatus, message string) *LifecycleError {
	return &LifecycleError{Kind: KindForbidden, Entity: entity, EntityId: id, CurrentStatus: currentStatus, Message: message}
}

func NewStorageUnavailable(err error) *LifecycleError {
	return &LifecycleError{Kind: KindStorageUnavailable, Message: "storage unavailable, retry with backoff", Err: err}
}
