// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/trustgate/internal/domain/scoring"
	"github.com/okian/trustgate/internal/domain/types"
)

// AnonymousClient identifies submitters whose address could not be resolved.
// Every such submitter shares one rate-limit bucket.
const AnonymousClient = "anonymous"

// Submission is one form post as received from the public.
type Submission struct {
	Name         string
	Email        string
	Phone        string
	Message      string
	CaptchaToken string
	Honeypot     string // hidden form field; humans leave it empty
	ClientID     string // resolved client address or AnonymousClient
	Trust        *scoring.Factors
}

// Lead is a submission that passed every gate stage. Text fields are sanitized.
type Lead struct {
	ID         string
	Endpoint   types.Endpoint
	Name       string
	Email      string
	Phone      string
	Message    string
	ClientID   string
	TrustScore int // zero when no telemetry was evaluated
	ReceivedAt time.Time
}
