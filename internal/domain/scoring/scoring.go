// Package scoring turns behavioral telemetry into a 0..100 trust score and a
// three-way recommendation.
package scoring

import (
	"math"
)

// Component caps and banding defaults.
const (
	maxTimeComponent       = 20
	maxBehaviorComponent   = 30
	maxValidationComponent = 25
	honeypotBonus          = 25
	fullCreditSeconds      = 60
	behaviorWeight         = 0.3
	maxScoreValue          = 100

	defaultLowRiskMin    = 70
	defaultMediumRiskMin = 40
)

// Factors are the behavioral signals a client reports for a submission.
// EmailQuality and PhoneValidity are carried for logging; they do not feed the score.
type Factors struct {
	TimeSpent      float64 // seconds on the form
	BehaviorScore  float64 // 0..100 interaction score
	FormValidation float64 // 0..25 client-side validation credit
	HoneypotClean  bool
	EmailQuality   float64
	PhoneValidity  float64
}

// Risk bands a trust score.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Recommendation is what a caller should do with a submission. It is three
// states: callers must treat RequireVerification apart from Block.
type Recommendation string

const (
	Allow               Recommendation = "allow"
	RequireVerification Recommendation = "require_verification"
	Block               Recommendation = "block"
)

// Assessment bundles a score with its band and recommendation.
type Assessment struct {
	Score          int
	Risk           Risk
	Recommendation Recommendation
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithBands overrides the minimum scores for the low and medium risk bands.
func WithBands(lowMin, mediumMin int) Option {
	return func(c *Calculator) {
		if lowMin > mediumMin && mediumMin > 0 && lowMin <= maxScoreValue {
			c.lowMin = lowMin
			c.mediumMin = mediumMin
		}
	}
}

// Calculator scores Factors. The zero value is not usable; use NewCalculator.
type Calculator struct {
	lowMin    int
	mediumMin int
}

// NewCalculator creates a calculator with the default bands (70, 40).
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{lowMin: defaultLowRiskMin, mediumMin: defaultMediumRiskMin}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCalculator = NewCalculator() //nolint:gochecknoglobals // stateless

// Calculate scores f with the default calculator.
func Calculate(f Factors) int { return defaultCalculator.Calculate(f) }

// Assess scores and bands f with the default calculator.
func Assess(f Factors) Assessment { return defaultCalculator.Assess(f) }

// Calculate returns the weighted, independently capped sum of the factors.
// It is total: non-finite inputs count as zero.
func (c *Calculator) Calculate(f Factors) int {
	timePart := capped(finite(f.TimeSpent)/fullCreditSeconds*maxTimeComponent, maxTimeComponent)
	behaviorPart := capped(finite(f.BehaviorScore)*behaviorWeight, maxBehaviorComponent)
	validationPart := capped(finite(f.FormValidation), maxValidationComponent)

	total := timePart + behaviorPart + validationPart
	if f.HoneypotClean {
		total += honeypotBonus
	}
	return int(capped(math.Round(total), maxScoreValue))
}

// Assess scores f and maps the score onto a risk band.
func (c *Calculator) Assess(f Factors) Assessment {
	score := c.Calculate(f)
	switch {
	case score >= c.lowMin:
		return Assessment{Score: score, Risk: RiskLow, Recommendation: Allow}
	case score >= c.mediumMin:
		return Assessment{Score: score, Risk: RiskMedium, Recommendation: RequireVerification}
	default:
		return Assessment{Score: score, Risk: RiskHigh, Recommendation: Block}
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func capped(v, hi float64) float64 {
	return math.Max(0, math.Min(hi, v))
}
