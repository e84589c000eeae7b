// Package probe fires concurrent submissions at a running gate and tallies
// how the service answered.
package probe

import (
	"sort"
	"time"
)

// Config holds configuration for a probe run.
type Config struct {
	BaseURL  string        // base URL of the service
	Endpoint string        // form endpoint, e.g. "contact"
	Count    int           // submissions to send
	Workers  int           // concurrent senders
	Timeout  time.Duration // per request timeout
	ClientID string        // sent as X-Forwarded-For so every attempt shares one bucket
	Token    string        // captcha token
	Name     string
	Email    string
	Message  string
}

// Submission is the JSON body posted to a form endpoint.
type Submission struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Message      string `json:"message"`
	CaptchaToken string `json:"captcha_token"`
}

// RateHeaders are the X-RateLimit-* values from one response.
type RateHeaders struct {
	Limit      string
	Remaining  string
	Reset      string
	RetryAfter string
}

// Report holds the outcome of a probe run.
type Report struct {
	Sent     int
	Failed   int // transport errors, no status received
	ByStatus map[int]int
	ByCode   map[string]int // error code from the JSON body of non-2xx answers
	// Last holds the rate headers of the response that reported the fewest
	// remaining attempts.
	Last     RateHeaders
	Duration time.Duration
}

// Statuses returns the observed status codes in ascending order.
func (r Report) Statuses() []int {
	out := make([]int, 0, len(r.ByStatus))
	for s := range r.ByStatus {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
