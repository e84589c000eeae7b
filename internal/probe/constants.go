package probe

import "time"

// Defaults for a probe run.
const (
	DefaultBaseURL  = "http://localhost:9080"
	DefaultEndpoint = "contact"
	DefaultCount    = 10
	DefaultWorkers  = 4
	DefaultTimeout  = 10 * time.Second
	DefaultClientID = "203.0.113.10"
	DefaultToken    = "probe-token"

	workerChannelMultiplier = 2
	maxBodyRead             = 64 << 10
)
