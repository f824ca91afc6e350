package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrInvalidPackage is returned when a package file cannot be read or parsed.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrCyclicDependency is returned when a batch has no valid publish order.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrVisibilityMismatch is returned when an asserted code-visibility flag does not match.
	ErrVisibilityMismatch = errors.New("code visibility mismatch")

	// ErrUnsupportedTarget is returned when no transport can reach the target.
	ErrUnsupportedTarget = errors.New("unsupported target")

	// ErrInvalidScope is returned when the requested scope cannot be used with the transport.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrPublishRejected is returned when the dev endpoint answers with a non-2xx status.
	ErrPublishRejected = errors.New("publish rejected")

	// ErrRemoteOperationFailed is returned when a remote session step fails.
	ErrRemoteOperationFailed = errors.New("remote operation failed")

	// ErrAuthExpired is returned when the bearer token cannot be renewed.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrInvalidOptions is returned when publish options are inconsistent.
	ErrInvalidOptions = errors.New("invalid publish options")
)

// =============================================================================
// Stages
// =============================================================================

// Stage names the orchestration step an error occurred in.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageStage      Stage = "stage"
	StageSort       Stage = "sort"
	StagePreprocess Stage = "preprocess"
	StageSelect     Stage = "select"
	StagePublish    Stage = "publish"
	StageSync       Stage = "sync"
	StageQuery      Stage = "query"
	StageInstall    Stage = "install"
	StageUpgrade    Stage = "upgrade"
)

// =============================================================================
// Error Types
// =============================================================================

// PublishError wraps an error with the package and stage it belongs to.
type PublishError struct {
	Stage   Stage
	Package string // Package identity or file name, empty for batch-wide errors
	Message string
	Err     error
}

func (e *PublishError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Package != "" {
		b.WriteString(" ")
		b.WriteString(e.Package)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NewPublishError creates a new PublishError.
func NewPublishError(stage Stage, pkg, message string, err error) *PublishError {
	return &PublishError{
		Stage:   stage,
		Package: pkg,
		Message: message,
		Err:     err,
	}
}

// CycleError reports the packages that could not be ordered.
type CycleError struct {
	Packages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency between packages: %s", strings.Join(e.Packages, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// RejectedError is a non-2xx answer from a dev endpoint.
type RejectedError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Reason, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return ErrPublishRejected
}

// RemoteError is a failed step on the remote command channel.
type RemoteError struct {
	Step    string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %s failed (%s): %s", e.Step, e.Code, e.Message)
	}
	return fmt.Sprintf("remote %s failed: %s", e.Step, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteOperationFailed
}
