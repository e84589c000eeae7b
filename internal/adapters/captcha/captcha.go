// Package captcha verifies human-verification tokens against a
// siteverify-style endpoint (Turnstile, reCAPTCHA, hCaptcha).
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	"github.com/okian/trustgate/pkg/metrics"
)

// DefaultVerifyURL is Cloudflare Turnstile's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 64 << 10
)

// Messages shown to submitters.
const (
	MessageRequired    = "Verification required."
	MessageFailed      = "Verification failed. Please try again."
	MessageUnavailable = "Verification is temporarily unavailable. Please try again later."
)

// Outcome classifies a verification attempt.
type Outcome string

const (
	OutcomeVerified      Outcome = "verified"
	OutcomeBypassed      Outcome = "bypassed" // permissive posture, no secret
	OutcomeMissingToken  Outcome = "missing_token"
	OutcomeRejected      Outcome = "rejected"
	OutcomeUnavailable   Outcome = "unavailable"
	OutcomeMisconfigured Outcome = "misconfigured" // strict posture, no secret
)

// Result is the outcome of Verify. Error is safe to show; Cause is for logs.
type Result struct {
	Success bool
	Error   string
	Outcome Outcome
	Cause   error
}

// Option applies a configuration option to the Verifier.
type Option func(*Verifier)

// WithVerifyURL overrides the siteverify endpoint.
func WithVerifyURL(u string) Option {
	return func(v *Verifier) {
		if u != "" {
			v.verifyURL = u
		}
	}
}

// WithTimeout bounds each verification round trip.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) {
		if c != nil {
			v.client = c
		}
	}
}

// WithOutboundLimit caps verification calls per second from this instance.
// Zero or negative rps disables the cap.
func WithOutboundLimit(rps float64, burst int) Option {
	return func(v *Verifier) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			v.outbound = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// Verifier checks tokens server to server.
type Verifier struct {
	secret    string
	posture   types.Posture
	verifyURL string
	timeout   time.Duration
	client    *http.Client
	outbound  *rate.Limiter
	log       logger.Logger
}

// New creates a verifier. An empty secret is handled per posture on every call.
func New(secret string, posture types.Posture, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    secret,
		posture:   posture,
		verifyURL: DefaultVerifyURL,
		timeout:   defaultTimeout,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: v.timeout}
	}
	return v
}

// Configured reports whether a secret is set.
func (v *Verifier) Configured() bool { return v.secret != "" }

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks token for the given client. A missing token fails without
// any network call.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) Result {
	res := v.verify(ctx, strings.TrimSpace(token), remoteIP)
	metrics.RecordCaptchaOutcome(string(res.Outcome))
	return res
}

func (v *Verifier) verify(ctx context.Context, token, remoteIP string) Result {
	if token == "" {
		return Result{Error: MessageRequired, Outcome: OutcomeMissingToken, Cause: ErrMissingToken}
	}
	if v.secret == "" {
		if v.posture == types.Permissive {
			v.log.Warn(ctx, "captcha secret not configured; skipping verification",
				logger.String("posture", v.posture.String()))
			return Result{Success: true, Outcome: OutcomeBypassed}
		}
		return Result{Error: MessageUnavailable, Outcome: OutcomeMisconfigured, Cause: ErrMissingSecret}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if v.outbound != nil {
		if err := v.outbound.Wait(ctx); err != nil {
			return unavailable(fmt.Errorf("%w: %w", ErrOutboundLimited, err))
		}
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" && remoteIP != model.AnonymousClient {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return unavailable(fmt.Errorf("%w: build request: %w", ErrUnavailable, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return unavailable(fmt.Errorf("%w: POST %s: %w", ErrUnavailable, v.verifyURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Result{Error: MessageFailed, Outcome: OutcomeRejected, Cause: fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)}
	}

	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return unavailable(fmt.Errorf("%w: decode response: %w", ErrUnavailable, err))
	}
	if !body.Success {
		return Result{Error: MessageFailed, Outcome: OutcomeRejected, Cause: fmt.Errorf("%w: %s", ErrRejected, strings.Join(body.ErrorCodes, ","))}
	}
	return Result{Success: true, Outcome: OutcomeVerified}
}

func unavailable(cause error) Result {
	return Result{Error: MessageUnavailable, Outcome: OutcomeUnavailable, Cause: cause}
}
