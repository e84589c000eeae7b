package app

import (
	"errors"
	"fmt"
)

// Kind classifies why the gate refused a submission.
type Kind string

const (
	KindRateLimited             Kind = "rate_limited"
	KindVerificationFailed      Kind = "verification_failed"
	KindVerificationUnavailable Kind = "verification_unavailable"
	KindContentRejected         Kind = "content_rejected"
	KindConfigurationMissing    Kind = "configuration_missing"
	KindVerificationRequired    Kind = "verification_required"
	KindSuspectedSpam           Kind = "suspected_spam"
)

// Sentinel kinds for errors.Is matching against a *Rejection.
var (
	ErrRateLimited             = errors.New("rate limited")
	ErrVerificationFailed      = errors.New("verification failed")
	ErrVerificationUnavailable = errors.New("verification unavailable")
	ErrContentRejected         = errors.New("content rejected")
	ErrConfigurationMissing    = errors.New("configuration missing")
	ErrVerificationRequired    = errors.New("verification required")
	ErrSuspectedSpam           = errors.New("suspected spam")
)

// Errors outside the rejection taxonomy.
var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrUnknownField    = errors.New("unknown field")
	ErrDispatchBusy    = errors.New("dispatch queue unavailable")
)

// User-facing messages. None of them carries scores or internal detail.
const (
	MessageRateLimited  = "Too many submissions. Please try again later."
	MessageTryLater     = "Service temporarily unavailable. Please try again later."
	MessageContent      = "Please review your submission and try again."
	MessageVerifyAgain  = "Additional verification is required. Please complete the challenge and try again."
	MessageNotAccepted  = "Your submission could not be accepted."
	MessageDispatchBusy = "We could not process your submission right now. Please try again later."
)

// Stage names a gate stage.
type Stage string

const (
	StageRateLimit      Stage = "rate_limit"
	StageCaptcha        Stage = "captcha"
	StageContentMessage Stage = "content_message"
	StageContentName    Stage = "content_name"
	StageTrust          Stage = "trust"
)

// Rejection is returned by Gate.Evaluate when a stage refuses a submission.
// Message is safe to show to the submitter; Cause is for logs only.
type Rejection struct {
	Kind       Kind
	Stage      Stage
	Message    string
	RetryAfter int // seconds; set for KindRateLimited only
	Cause      error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s at %s: %v", r.Kind, r.Stage, r.Cause)
	}
	return fmt.Sprintf("%s at %s", r.Kind, r.Stage)
}

// Unwrap returns the internal cause.
func (r *Rejection) Unwrap() error { return r.Cause }

// Is matches the sentinel of r's kind.
func (r *Rejection) Is(target error) bool {
	return target != nil && target == r.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindVerificationFailed:
		return ErrVerificationFailed
	case KindVerificationUnavailable:
		return ErrVerificationUnavailable
	case KindContentRejected:
		return ErrContentRejected
	case KindConfigurationMissing:
		return ErrConfigurationMissing
	case KindVerificationRequired:
		return ErrVerificationRequired
	case KindSuspectedSpam:
		return ErrSuspectedSpam
	default:
		return nil
	}
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
