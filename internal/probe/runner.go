package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/trustgate/pkg/logger"
)

// Run checks the service health and then sends the configured submissions.
// Zero fields in cfg take the package defaults.
func Run(ctx context.Context, cfg Config) (Report, error) {
	const op = "probe.Run"

	cfg = withDefaults(cfg)
	if cfg.Count < 1 || cfg.Workers < 1 {
		return Report{}, fmt.Errorf("%s: %w: count=%d workers=%d", op, ErrInvalidConfig, cfg.Count, cfg.Workers)
	}

	log := logger.Get().Named("probe")
	log.Info(ctx, "starting probe",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("endpoint", cfg.Endpoint),
		logger.Int("count", cfg.Count),
		logger.Int("workers", cfg.Workers),
		logger.String("clientID", cfg.ClientID))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return Report{}, fmt.Errorf("%s: %w", op, err)
	}

	report := Report{ByStatus: map[int]int{}, ByCode: map[string]int{}}
	start := time.Now()
	submitAll(ctx, cfg, &report)
	report.Duration = time.Since(start)

	log.Info(ctx, "probe completed",
		logger.Int("sent", report.Sent),
		logger.Int("failed", report.Failed),
		logger.Any("byStatus", report.ByStatus),
		logger.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

func checkServiceHealth(ctx context.Context, cfg Config) error {
	resp, err := newHTTPClient(cfg).Get(ctx, cfg.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

func withDefaults(cfg Config) Config {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Count == 0 {
		cfg.Count = DefaultCount
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Token == "" {
		cfg.Token = DefaultToken
	}
	if cfg.Name == "" {
		cfg.Name = "Probe Runner"
	}
	if cfg.Email == "" {
		cfg.Email = "probe@example.com"
	}
	if cfg.Message == "" {
		cfg.Message = "Checking availability of the apartment listed on Main Street next month."
	}
	return cfg
}
