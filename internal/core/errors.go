/*
 * Copyright 2026 The FileRipper Team
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package core holds the types shared across the whole library: opaque
// ids, the flat error taxonomy and the configuration structs. It has no
// dependency on the async, network or pfte packages so that every other
// package can depend on it without a cycle.
package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// WrapperErrorKind enumerates internal misuse detected while driving a
// native SFTP handle, as opposed to errors reported by the remote server.
type WrapperErrorKind int

const (
	WrapperNone WrapperErrorKind = iota
	WrapperOwnerDestroyed
	WrapperSharedHandleDestroyed
	WrapperShortWrite
	WrapperFileNull
)

func (k WrapperErrorKind) String() string {
	switch k {
	case WrapperOwnerDestroyed:
		return "owner_destroyed"
	case WrapperSharedHandleDestroyed:
		return "shared_handle_destroyed"
	case WrapperShortWrite:
		return "short_write"
	case WrapperFileNull:
		return "file_null"
	default:
		return "none"
	}
}

// SftpError is the native-facing error: a message plus whatever the ssh
// and sftp libraries reported, plus an internal-misuse tag for cases the
// wire protocol itself has no code for.
type SftpError struct {
	Message     string
	SshError    error
	SftpError   error
	WrapperKind WrapperErrorKind
}

func (e *SftpError) Error() string {
	if e.WrapperKind != WrapperNone {
		return fmt.Sprintf("sftp: %s (%s)", e.Message, e.WrapperKind)
	}
	return fmt.Sprintf("sftp: %s", e.Message)
}

// Unwrap lets callers errors.As/errors.Is into whichever underlying error
// is actually set.
func (e *SftpError) Unwrap() error {
	if e.SftpError != nil {
		return e.SftpError
	}
	return e.SshError
}

// NewSftpError wraps a native error reported by the sftp/ssh libraries.
func NewSftpError(message string, native error) *SftpError {
	return &SftpError{Message: message, SftpError: native}
}

// NewWrapperError reports internal misuse that has no native error code
// behind it (e.g. a weak reference that failed to upgrade).
func NewWrapperError(kind WrapperErrorKind, message string) *SftpError {
	return &SftpError{Message: message, WrapperKind: kind}
}

// OperationErrorKind is the flat enumeration from the operation error
// taxonomy. It is intentionally not a type hierarchy: every operation
// failure is one of these values plus an optional wrapped cause.
type OperationErrorKind int

const (
	ErrUnknownWorkState OperationErrorKind = iota
	ErrFileExists
	ErrFileNotFound
	ErrOpenFailure
	ErrFileStreamExpired
	ErrFileStatFailed
	ErrSftpError
	ErrInvalidPath
	ErrRenameFailure
	ErrCannotSetFilePermissions
	ErrFutureTimeout
	ErrOperationNotPrepared
	ErrCannotFinalizeDuringRead
	ErrInvalidOptionsKey
	ErrTargetFileNotGood
	ErrCannotWorkCompletedOperation
	ErrCannotWorkFailedOperation
	ErrCannotWorkCanceledOperation
	ErrInvalidOperationState
	ErrOperationNotPossibleOnFileType
)

var operationErrorNames = map[OperationErrorKind]string{
	ErrUnknownWorkState:               "unknown_work_state",
	ErrFileExists:                     "file_exists",
	ErrFileNotFound:                   "file_not_found",
	ErrOpenFailure:                    "open_failure",
	ErrFileStreamExpired:              "file_stream_expired",
	ErrFileStatFailed:                 "file_stat_failed",
	ErrSftpError:                      "sftp_error",
	ErrInvalidPath:                    "invalid_path",
	ErrRenameFailure:                  "rename_failure",
	ErrCannotSetFilePermissions:       "cannot_set_file_permissions",
	ErrFutureTimeout:                  "future_timeout",
	ErrOperationNotPrepared:           "operation_not_prepared",
	ErrCannotFinalizeDuringRead:       "cannot_finalize_during_read",
	ErrInvalidOptionsKey:              "invalid_options_key",
	ErrTargetFileNotGood:              "target_file_not_good",
	ErrCannotWorkCompletedOperation:   "cannot_work_completed_operation",
	ErrCannotWorkFailedOperation:      "cannot_work_failed_operation",
	ErrCannotWorkCanceledOperation:    "cannot_work_canceled_operation",
	ErrInvalidOperationState:         "invalid_operation_state",
	ErrOperationNotPossibleOnFileType: "operation_not_possible_on_file_type",
}

func (k OperationErrorKind) String() string {
	if s, ok := operationErrorNames[k]; ok {
		return s
	}
	return "unknown_work_state"
}

// OperationError is what every Operation.work() returns on failure. It
// carries the flat taxonomy tag plus whatever caused it, wrapped with
// github.com/pkg/errors so callers keep a stack trace to the boundary
// where the native error was first observed.
type OperationError struct {
	Kind  OperationErrorKind
	cause error
}

func (e *OperationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *OperationError) Unwrap() error { return e.cause }

// NewOperationError builds a tagged operation error, wrapping cause (which
// may be nil) with a stack trace via github.com/pkg/errors.
func NewOperationError(kind OperationErrorKind, cause error) *OperationError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &OperationError{Kind: kind, cause: cause}
}

// Is lets errors.Is(err, core.NewOperationError(core.ErrFileExists, nil))
// style comparisons work by kind rather than by identity.
func (e *OperationError) Is(target error) bool {
	other, ok := target.(*OperationError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// CannotWorkError returns the specific "cannot work" error for a terminal
// operation state, per spec: re-entering work() on a terminal operation
// must not clobber its prior state and must return one of these three.
func CannotWorkError(state OperationState) *OperationError {
	switch state {
	case StateCompleted:
		return NewOperationError(ErrCannotWorkCompletedOperation, nil)
	case StateFailed:
		return NewOperationError(ErrCannotWorkFailedOperation, nil)
	case StateCanceled:
		return NewOperationError(ErrCannotWorkCanceledOperation, nil)
	default:
		return NewOperationError(ErrInvalidOperationState, nil)
	}
}

// AuthResultKind is the result of one authentication attempt.
type AuthResultKind int

const (
	AuthSuccess AuthResultKind = iota
	AuthDenied
	AuthPartial
	AuthAgainNeeded
	AuthOther
)

// AuthResult pairs the result kind with the native code for AuthOther.
type AuthResult struct {
	Kind AuthResultKind
	Code int
}

func (r AuthResult) String() string {
	switch r.Kind {
	case AuthSuccess:
		return "success"
	case AuthDenied:
		return "denied"
	case AuthPartial:
		return "partial"
	case AuthAgainNeeded:
		return "again_needed"
	default:
		return fmt.Sprintf("other(%d)", r.Code)
	}
}

// Sentinel top-level connection errors, kept from the teacher's error
// file for the narrow cases that are not part of the operation/sftp
// taxonomy above (they fire before any session/operation exists yet).
var (
	ErrConnectionFailed = errors.New("connection_failed")
	ErrHostUnreachable  = errors.New("host_unreachable")
	ErrAuthFailed       = errors.New("authentication_failed")
	ErrNoAuthMethods    = errors.New("no_authentication_methods_available")
	ErrUnknownCommand   = errors.New("unknown_command")
	ErrSessionNotFound  = errors.New("session_not_found")
)
