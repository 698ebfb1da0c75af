// Package errors classifies failures of remote calls into the docsync error
// taxonomy and decides how the commit protocol recovers from them.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorTier represents the retry classification of an error.
type ErrorTier int

const (
	// TierTransient indicates temporary errors that should be silently retried.
	TierTransient ErrorTier = iota

	// TierPermanent indicates errors that will not resolve with retry.
	TierPermanent

	// TierUserFixable indicates errors that require a user decision or login.
	TierUserFixable

	// TierExternalRateLimit indicates the remote is throttling us.
	TierExternalRateLimit

	// TierExternalDegrading indicates 5xx responses from a remote service.
	TierExternalDegrading
)

var tierNames = map[ErrorTier]string{
	TierTransient:         "transient",
	TierPermanent:         "permanent",
	TierUserFixable:       "user_fixable",
	TierExternalRateLimit: "external_rate_limit",
	TierExternalDegrading: "external_degrading",
}

func (t ErrorTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Kind is the user-facing error taxonomy of the commit protocol.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnauthorized means the session is invalid. Triggers re-authentication.
	KindUnauthorized
	// KindAccessDenied means no write access. Triggers a fork offer.
	KindAccessDenied
	// KindNotFound is ambiguous between a missing ref, file or repository.
	KindNotFound
	// KindVersionConflict means the remote diverged. Always recoverable.
	KindVersionConflict
	// KindValidation is a 422: benign "already exists" or a fatal remote message.
	KindValidation
	// KindServiceUnavailable covers the remote API, merge service and
	// authorization service being down or throttled.
	KindServiceUnavailable
	// KindMisconfigured is terminal until an administrator intervenes.
	KindMisconfigured
	// KindCancelled means the user or the context stopped the operation.
	KindCancelled
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindUnauthorized:       "unauthorized",
	KindAccessDenied:       "access_denied",
	KindNotFound:           "not_found",
	KindVersionConflict:    "version_conflict",
	KindValidation:         "validation",
	KindServiceUnavailable: "service_unavailable",
	KindMisconfigured:      "misconfigured",
	KindCancelled:          "cancelled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Tier returns the default retry tier of a kind.
func (k Kind) Tier() ErrorTier {
	switch k {
	case KindUnauthorized, KindAccessDenied, KindVersionConflict:
		return TierUserFixable
	case KindServiceUnavailable:
		return TierExternalDegrading
	default:
		return TierPermanent
	}
}

// SyncError is a classified failure. Message is always safe to show the user.
type SyncError struct {
	Kind       Kind
	Tier       ErrorTier
	Message    string
	Underlying error
	StatusCode int
	RetryAfter time.Duration
	Context    map[string]string
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SyncError) Unwrap() error {
	return e.Underlying
}

// Is matches any SyncError of the same kind, so sentinels work with errors.Is.
func (e *SyncError) Is(target error) bool {
	var se *SyncError
	if errors.As(target, &se) {
		return e.Kind == se.Kind
	}
	return false
}

// NewSyncError creates a SyncError with the kind's default tier.
func NewSyncError(kind Kind, message string, underlying error) *SyncError {
	return &SyncError{
		Kind:       kind,
		Tier:       kind.Tier(),
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithTier overrides the retry tier.
func (e *SyncError) WithTier(tier ErrorTier) *SyncError {
	e.Tier = tier
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *SyncError) WithStatusCode(code int) *SyncError {
	e.StatusCode = code
	return e
}

// WithRetryAfter adds a retry-after duration to the error.
func (e *SyncError) WithRetryAfter(d time.Duration) *SyncError {
	e.RetryAfter = d
	return e
}

// WithContext adds context key-value pairs to the error.
func (e *SyncError) WithContext(key, value string) *SyncError {
	e.Context[key] = value
	return e
}

// Sentinels, one per kind. Compare with errors.Is.
var (
	ErrUnauthorized       = NewSyncError(KindUnauthorized, "Not authorized.", nil)
	ErrAccessDenied       = NewSyncError(KindAccessDenied, "Access denied.", nil)
	ErrNotFound           = NewSyncError(KindNotFound, "Not found.", nil)
	ErrVersionConflict    = NewSyncError(KindVersionConflict, "The file changed on the remote.", nil)
	ErrValidation         = NewSyncError(KindValidation, "The request was rejected.", nil)
	ErrServiceUnavailable = NewSyncError(KindServiceUnavailable, "Service unavailable.", nil)
	ErrMisconfigured      = NewSyncError(KindMisconfigured, "Not configured.", nil)
	ErrCancelled          = NewSyncError(KindCancelled, "Operation cancelled.", nil)
)

// KindOf extracts the Kind of an error, KindUnknown when unclassified.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// GetTier extracts the retry tier from an error.
func GetTier(err error) ErrorTier {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Tier
	}
	return Classify(err, IntentOther).Tier
}

// IsRetryable reports whether the error's tier has a retry policy.
func IsRetryable(err error) bool {
	return GetRetryPolicy(GetTier(err)).MaxAttempts > 0
}

const genericMessage = "Unexpected error while talking to the repository."

// UserMessage renders err for display. Unclassified errors never leak their
// raw text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled.Message
	}
	if c := Classify(err, IntentOther); c.Message != "" {
		return c.Message
	}
	return genericMessage
}

// Wrap attaches a user message to err, keeping the kind of an already
// classified error.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Kind:       se.Kind,
			Tier:       se.Tier,
			Message:    message,
			Underlying: err,
			StatusCode: se.StatusCode,
			RetryAfter: se.RetryAfter,
			Context:    se.Context,
		}
	}

	return NewSyncError(kind, message, err)
}

// Is, As and New forward to the standard library so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
