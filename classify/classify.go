// Package classify turns raw failures into structured classifications.
//
// A [Classifier] evaluates an ordered table of [Rule]s against the lowercased
// message of a failure. The first rule whose matcher fires decides the
// [Kind]; a second level of [CodeRule]s inside that rule selects the specific
// [Code], severity, retry and action flags, and the user-facing message.
// Categories are never combined.
//
// Every classification is appended to a bounded in-memory log that exists for
// diagnostics only and is never consulted by the rules themselves.
package classify

import (
	"fmt"
	"time"
)

// Kind is the broad category of a failure.
type Kind string

const (
	KindNetwork    Kind = "NETWORK_ERROR"
	KindAuth       Kind = "AUTH_ERROR"
	KindPermission Kind = "PERMISSION_ERROR"
	KindValidation Kind = "VALIDATION_ERROR"
	KindServer     Kind = "SERVER_ERROR"
	KindCache      Kind = "CACHE_ERROR"
	KindNFC        Kind = "NFC_ERROR"
	KindUnknown    Kind = "UNKNOWN_ERROR"
)

// Code identifies the specific reason within a Kind. The zero value means the
// failure matched a Kind but no specific reason.
type Code string

const (
	// Network.
	CodeNoInternet        Code = "NO_INTERNET_CONNECTION"
	CodeTimeout           Code = "REQUEST_TIMEOUT"
	CodeServerUnreachable Code = "SERVER_UNREACHABLE"

	// Auth.
	CodeInvalidCredentials Code = "INVALID_EMAIL_PASSWORD"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeEmailNotConfirmed  Code = "EMAIL_NOT_CONFIRMED"

	// Permission.
	CodeLocationDenied   Code = "LOCATION_PERMISSION_DENIED"
	CodeCameraDenied     Code = "CAMERA_PERMISSION_DENIED"
	CodeStorageDenied    Code = "STORAGE_PERMISSION_DENIED"
	CodePermissionDenied Code = "GENERIC_PERMISSION_DENIED"

	// Validation.
	CodeInvalidEmail  Code = "INVALID_EMAIL_FORMAT"
	CodeWeakPassword  Code = "PASSWORD_TOO_WEAK"
	CodeRequiredField Code = "REQUIRED_FIELD_MISSING"

	// NFC.
	CodeNFCNotSupported Code = "NFC_NOT_SUPPORTED"
	CodeNFCDisabled     Code = "NFC_DISABLED"
	CodeTagReadError    Code = "NFC_TAG_READ_ERROR"

	// Server.
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeMaintenance   Code = "SERVER_MAINTENANCE"
	CodeInternalError Code = "INTERNAL_SERVER_ERROR"

	// Cache.
	CodeStorageFailure Code = "CACHE_STORAGE_FAILURE"
)

// Severity ranks how serious a failure is for the user.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// GenericMessage is shown when nothing more specific is known.
const GenericMessage = "An unexpected error occurred."

// Error is the classification record produced for one failure. It is
// immutable once returned by a Classifier.
type Error struct {
	ID              string
	Kind            Kind
	Code            Code
	Severity        Severity
	Retryable       bool
	ActionRequired  bool
	UserMessage     string
	Context         string
	Timestamp       time.Time
	OriginalMessage string
	Cause           error
}

// Error renders "[KIND/CODE] context: original message".
func (e *Error) Error() string {
	tag := string(e.Kind)
	if e.Code != "" {
		tag += "/" + string(e.Code)
	}
	if e.Context != "" {
		return fmt.Sprintf("[%s] %s: %s", tag, e.Context, e.OriginalMessage)
	}
	return fmt.Sprintf("[%s] %s", tag, e.OriginalMessage)
}

// Unwrap returns the original failure.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fields returns the record as logger metadata.
func (e *Error) Fields() map[string]interface{} {
	return map[string]interface{}{
		"error_id":        e.ID,
		"kind":            string(e.Kind),
		"code":            string(e.Code),
		"severity":        string(e.Severity),
		"retryable":       e.Retryable,
		"action_required": e.ActionRequired,
		"context":         e.Context,
	}
}
