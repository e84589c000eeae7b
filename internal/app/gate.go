// Package app wires the submission trust pipeline: the gate that decides on
// each submission and the service that owns its collaborators.
package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/okian/trustgate/internal/adapters/captcha"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/quality"
	"github.com/okian/trustgate/internal/domain/ratelimit"
	"github.com/okian/trustgate/internal/domain/scoring"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	"github.com/okian/trustgate/pkg/metrics"
)

// OutcomeAccepted is the gate outcome label for accepted submissions.
const OutcomeAccepted = "accepted"

// Field names accepted by Gate.CheckField.
const (
	FieldName    = "name"
	FieldMessage = "message"
)

// Limiter is the rate-limit stage.
type Limiter interface {
	CheckAndConsume(ctx context.Context, identifier string, policy ratelimit.Policy) (ratelimit.Decision, error)
}

// Verifier is the human-verification stage.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) captcha.Result
}

// Verdict is what the gate learned about a submission. Decision is populated
// whenever the rate-limit stage ran, even if a later stage rejected.
type Verdict struct {
	Lead     model.Lead
	Decision ratelimit.Decision
	Trust    *scoring.Assessment
}

// FieldCheck is the advisory result of a single-field check.
type FieldCheck struct {
	Acceptable bool
	Reason     string
}

// GateOption applies a configuration option to the Gate.
type GateOption func(*Gate)

// WithPolicies replaces the per-endpoint rate-limit policies.
func WithPolicies(ps ratelimit.Policies) GateOption {
	return func(g *Gate) {
		if len(ps) > 0 {
			g.policies = ps
		}
	}
}

// WithCalculator replaces the trust calculator.
func WithCalculator(c *scoring.Calculator) GateOption {
	return func(g *Gate) {
		if c != nil {
			g.calc = c
		}
	}
}

// WithTelemetryRequired lists endpoints whose submissions are always trust-scored.
func WithTelemetryRequired(endpoints ...types.Endpoint) GateOption {
	return func(g *Gate) {
		g.telemetry = make(map[types.Endpoint]bool, len(endpoints))
		for _, e := range endpoints {
			g.telemetry[e] = true
		}
	}
}

// WithGateClock overrides time.Now.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(log logger.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// Gate runs RateLimit, Captcha, message content, name content and the
// optional trust stage in that order, stopping at the first failure.
type Gate struct {
	limiter   Limiter
	verifier  Verifier
	policies  ratelimit.Policies
	calc      *scoring.Calculator
	telemetry map[types.Endpoint]bool
	sanitizer *bluemonday.Policy
	now       func() time.Time
	log       logger.Logger
}

// NewGate creates a gate. By default only the wizard endpoint requires telemetry.
func NewGate(limiter Limiter, verifier Verifier, opts ...GateOption) *Gate {
	g := &Gate{
		limiter:   limiter,
		verifier:  verifier,
		policies:  ratelimit.DefaultPolicies(),
		calc:      scoring.NewCalculator(),
		telemetry: map[types.Endpoint]bool{types.EndpointWizard: true},
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate decides on one submission. A nil error means the submission was
// accepted and Verdict.Lead may be handed to downstream actions. Refusals are
// returned as *Rejection; any other error is an internal fault.
func (g *Gate) Evaluate(ctx context.Context, endpoint types.Endpoint, sub model.Submission) (Verdict, error) { //nolint:gocritic // hugeParam
	const op = "app.Gate.Evaluate"

	policy, err := g.policies.For(endpoint)
	if err != nil {
		return Verdict{}, fmt.Errorf("%s: %w: %w", op, ErrUnknownEndpoint, err)
	}
	clientID := strings.TrimSpace(sub.ClientID)
	if clientID == "" {
		clientID = model.AnonymousClient
	}

	var v Verdict
	decision, rej := g.rateLimit(ctx, clientID, policy)
	v.Decision = decision
	if rej != nil {
		return v, g.reject(ctx, endpoint, clientID, rej)
	}

	if rej = g.captcha(ctx, sub.CaptchaToken, clientID); rej != nil {
		return v, g.reject(ctx, endpoint, clientID, rej)
	}

	if rej = g.content(StageContentMessage, FieldMessage, sub.Message, quality.AnalyzeContent); rej != nil {
		return v, g.reject(ctx, endpoint, clientID, rej)
	}
	if rej = g.content(StageContentName, FieldName, sub.Name, quality.ValidateName); rej != nil {
		return v, g.reject(ctx, endpoint, clientID, rej)
	}

	if g.telemetry[endpoint] || sub.Trust != nil || strings.TrimSpace(sub.Honeypot) != "" {
		var a scoring.Assessment
		a, rej = g.trust(sub)
		v.Trust = &a
		if rej != nil {
			return v, g.reject(ctx, endpoint, clientID, rej)
		}
	}

	v.Lead = model.Lead{
		ID:         uuid.NewString(),
		Endpoint:   endpoint,
		Name:       g.sanitize(sub.Name),
		Email:      g.sanitize(sub.Email),
		Phone:      g.sanitize(sub.Phone),
		Message:    g.sanitize(sub.Message),
		ClientID:   clientID,
		ReceivedAt: g.now().UTC(),
	}
	if v.Trust != nil {
		v.Lead.TrustScore = v.Trust.Score
	}

	metrics.RecordGateOutcome(string(endpoint), OutcomeAccepted)
	g.log.Debug(ctx, "submission accepted",
		logger.String("endpoint", string(endpoint)),
		logger.String("lead_id", v.Lead.ID),
		logger.Int("remaining", decision.Remaining),
	)
	return v, nil
}

// CheckField rate-limits under the general policy and scores one field.
// The result is advisory and never carries the raw score.
func (g *Gate) CheckField(ctx context.Context, clientID, field, value string) (FieldCheck, ratelimit.Decision, error) {
	const op = "app.Gate.CheckField"

	var analyze func(string) quality.Result
	switch field {
	case FieldName:
		analyze = quality.ValidateName
	case FieldMessage:
		analyze = quality.AnalyzeContent
	default:
		return FieldCheck{}, ratelimit.Decision{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownField, field)
	}

	policy, err := g.policies.For(types.EndpointGeneral)
	if err != nil {
		return FieldCheck{}, ratelimit.Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if strings.TrimSpace(clientID) == "" {
		clientID = model.AnonymousClient
	}

	decision, rej := g.rateLimit(ctx, clientID, policy)
	if rej != nil {
		return FieldCheck{}, decision, g.reject(ctx, types.EndpointGeneral, clientID, rej)
	}

	res := analyze(value)
	metrics.RecordContentScore(field, float64(res.Score))
	return FieldCheck{Acceptable: res.Acceptable, Reason: res.Reason}, decision, nil
}

func (g *Gate) rateLimit(ctx context.Context, clientID string, policy ratelimit.Policy) (ratelimit.Decision, *Rejection) {
	defer g.timed(StageRateLimit)()

	d, err := g.limiter.CheckAndConsume(ctx, clientID, policy)
	switch {
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		return d, &Rejection{Kind: KindVerificationUnavailable, Stage: StageRateLimit, Message: MessageTryLater, Cause: err}
	case err != nil:
		return d, &Rejection{Kind: KindConfigurationMissing, Stage: StageRateLimit, Message: MessageTryLater, Cause: err}
	case !d.Success:
		return d, &Rejection{
			Kind:       KindRateLimited,
			Stage:      StageRateLimit,
			Message:    MessageRateLimited,
			RetryAfter: d.RetryAfter(g.now()),
		}
	}
	return d, nil
}

func (g *Gate) captcha(ctx context.Context, token, clientID string) *Rejection {
	defer g.timed(StageCaptcha)()

	res := g.verifier.Verify(ctx, token, clientID)
	switch {
	case res.Success:
		return nil
	case res.Outcome == captcha.OutcomeMisconfigured:
		return &Rejection{Kind: KindConfigurationMissing, Stage: StageCaptcha, Message: MessageTryLater, Cause: res.Cause}
	case res.Outcome == captcha.OutcomeUnavailable:
		return &Rejection{Kind: KindVerificationUnavailable, Stage: StageCaptcha, Message: res.Error, Cause: res.Cause}
	default:
		return &Rejection{Kind: KindVerificationFailed, Stage: StageCaptcha, Message: res.Error, Cause: res.Cause}
	}
}

func (g *Gate) content(stage Stage, field, text string, analyze func(string) quality.Result) *Rejection {
	defer g.timed(stage)()

	res := analyze(text)
	metrics.RecordContentScore(field, float64(res.Score))
	if res.Acceptable {
		return nil
	}
	msg := res.Reason
	if msg == "" {
		msg = MessageContent
	}
	return &Rejection{
		Kind:    KindContentRejected,
		Stage:   stage,
		Message: msg,
		Cause:   fmt.Errorf("%s scored %d, flags %v", field, res.Score, res.Flags),
	}
}

func (g *Gate) trust(sub model.Submission) (scoring.Assessment, *Rejection) { //nolint:gocritic // hugeParam
	defer g.timed(StageTrust)()

	var f scoring.Factors
	if sub.Trust != nil {
		f = *sub.Trust
	}
	f.HoneypotClean = f.HoneypotClean && strings.TrimSpace(sub.Honeypot) == ""

	a := g.calc.Assess(f)
	metrics.RecordTrustScore(float64(a.Score))
	cause := fmt.Errorf("trust score %d, risk %s", a.Score, a.Risk)
	switch a.Recommendation {
	case scoring.Block:
		return a, &Rejection{Kind: KindSuspectedSpam, Stage: StageTrust, Message: MessageNotAccepted, Cause: cause}
	case scoring.RequireVerification:
		return a, &Rejection{Kind: KindVerificationRequired, Stage: StageTrust, Message: MessageVerifyAgain, Cause: cause}
	default:
		return a, nil
	}
}

func (g *Gate) reject(ctx context.Context, endpoint types.Endpoint, clientID string, r *Rejection) error {
	metrics.RecordGateOutcome(string(endpoint), string(r.Kind))
	fields := []logger.Field{
		logger.String("endpoint", string(endpoint)),
		logger.String("client", clientID),
		logger.String("kind", string(r.Kind)),
		logger.String("stage", string(r.Stage)),
	}
	if r.Cause != nil {
		fields = append(fields, logger.Error(r.Cause))
	}

	switch r.Kind {
	case KindConfigurationMissing:
		g.log.Error(ctx, "submission gate is misconfigured", fields...)
	case KindVerificationUnavailable:
		g.log.Warn(ctx, "submission rejected", fields...)
	default:
		g.log.Info(ctx, "submission rejected", fields...)
	}
	return r
}

func (g *Gate) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(g.sanitizer.Sanitize(s)))
}

func (g *Gate) timed(stage Stage) func() {
	start := time.Now()
	return func() {
		metrics.RecordStageLatency(string(stage), float64(time.Since(start).Microseconds())/1000)
	}
}
