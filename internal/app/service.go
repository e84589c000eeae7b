package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/trustgate/internal/adapters/captcha"
	"github.com/okian/trustgate/internal/adapters/mq/queue"
	"github.com/okian/trustgate/internal/adapters/mq/worker"
	"github.com/okian/trustgate/internal/adapters/repository"
	"github.com/okian/trustgate/internal/config"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/ratelimit"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
)

const purgeInterval = time.Minute

// HealthStatus is a liveness snapshot.
type HealthStatus struct {
	Status     string `json:"status"`
	Posture    string `json:"posture"`
	RateStore  string `json:"rate_store"`
	Captcha    bool   `json:"captcha_configured"`
	QueueDepth int    `json:"queue_depth"`
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNotifier sets where accepted leads are delivered. Defaults to a LogNotifier.
func WithNotifier(n worker.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithStore injects a rate-limit store instead of building one from config.
// The caller keeps ownership of it.
func WithStore(store ratelimit.Store) Option {
	return func(s *Service) {
		s.store = store
		s.storeInjected = true
	}
}

// WithHTTPClient sets the client used for captcha verification.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// Service owns the gate and its collaborators: the rate-limit store, the
// captcha verifier and the lead dispatch pool.
type Service struct {
	mu sync.Mutex

	cfg      *config.Config
	posture  types.Posture
	gate     *Gate
	verifier *captcha.Verifier
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	notifier worker.Notifier

	store         ratelimit.Store
	storeInjected bool
	maxWindow     time.Duration
	closers       []func() error

	httpClient *http.Client

	started bool
	cancel  context.CancelFunc

	log logger.Logger
}

// New builds a service from cfg. It connects to the configured rate-limit
// store but starts no goroutines; call Start for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	const op = "app.New"

	if cfg == nil {
		cfg = config.New()
	}
	posture, err := cfg.SecurityPosture()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Service{cfg: cfg, posture: posture, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = worker.LogNotifier{Logger: s.log.Named("notifier")}
	}

	policies := ratelimit.DefaultPolicies()
	for name, p := range cfg.Policies {
		if err := policies.Override(name, p.MaxRequests, p.Window); err != nil {
			return nil, fmt.Errorf("%s: policy %q: %w", op, name, err)
		}
	}
	for _, p := range policies {
		s.maxWindow = max(s.maxWindow, p.Window)
	}

	if !s.storeInjected {
		if err := s.openStore(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	limiter := ratelimit.New(s.store, posture,
		ratelimit.WithPrefix(cfg.RatePrefix),
		ratelimit.WithLogger(s.log.Named("ratelimit")),
	)

	captchaOpts := []captcha.Option{
		captcha.WithVerifyURL(cfg.CaptchaVerifyURL),
		captcha.WithTimeout(cfg.CaptchaTimeout),
		captcha.WithLogger(s.log.Named("captcha")),
	}
	if cfg.CaptchaOutboundRPS > 0 {
		captchaOpts = append(captchaOpts, captcha.WithOutboundLimit(cfg.CaptchaOutboundRPS, cfg.CaptchaOutboundBurst))
	}
	if s.httpClient != nil {
		captchaOpts = append(captchaOpts, captcha.WithHTTPClient(s.httpClient))
	}
	s.verifier = captcha.New(cfg.CaptchaSecret, posture, captchaOpts...)

	s.gate = NewGate(limiter, s.verifier,
		WithPolicies(policies),
		WithGateLogger(s.log.Named("gate")),
	)

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.DispatchQueueSize))
	s.pool = worker.NewPool(cfg.DispatchWorkers, s.queue, s.notifier,
		worker.WithLogger(s.log.Named("dispatch")),
	)

	if !s.verifier.Configured() {
		s.log.Warn(ctx, "captcha secret not configured", logger.String("posture", posture.String()))
	}
	return s, nil
}

func (s *Service) openStore(ctx context.Context) error {
	switch s.cfg.RateStore {
	case config.StoreRedis:
		rc := repository.RedisConfig{Addr: s.cfg.RedisAddr, Password: s.cfg.RedisPassword, DB: s.cfg.RedisDB}
		client, err := repository.NewRedisClient(ctx, rc)
		if err != nil {
			// Keep the client so attempts are decided per posture until Redis recovers.
			s.log.Error(ctx, "redis unreachable at startup", logger.String("addr", rc.Addr), logger.Error(err))
			client = redis.NewClient(rc.Options())
		}
		s.store = repository.NewRedisStore(client)
		s.closers = append(s.closers, client.Close)
	case config.StoreSQLite:
		store, err := repository.OpenSQLiteStore(ctx, s.cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.store = store
		s.closers = append(s.closers, store.Close)
	case config.StoreMemory:
		s.store = repository.NewMemoryStore()
	case config.StoreNone:
		s.store = nil
	default:
		return fmt.Errorf("%w: unknown rate_store %q", config.ErrInvalidConfig, s.cfg.RateStore)
	}
	return nil
}

// Gate returns the submission gate.
func (s *Service) Gate() *Gate { return s.gate }

// Posture returns the configured security posture.
func (s *Service) Posture() types.Posture { return s.posture }

// Start launches the dispatch workers and store maintenance.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.pool.Start(ctx)
	switch store := s.store.(type) {
	case *repository.MemoryStore:
		store.StartJanitor(ctx)
	case *repository.SQLiteStore:
		go s.purgeLoop(ctx, store)
	}

	s.started = true
	s.log.Info(ctx, "submission service started",
		logger.String("posture", s.posture.String()),
		logger.String("rate_store", s.cfg.RateStore),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.DispatchQueueSize),
	)
	return nil
}

func (s *Service) purgeLoop(ctx context.Context, store *repository.SQLiteStore) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := store.Purge(ctx, now, s.maxWindow)
			if err != nil {
				s.log.Warn(ctx, "sqlite purge failed", logger.Error(err))
				continue
			}
			if n > 0 {
				s.log.Debug(ctx, "sqlite purge", logger.Int("deleted", int(n)))
			}
		}
	}
}

// Submit evaluates a submission and, when accepted, queues it for dispatch.
// A full or closed queue returns ErrDispatchBusy with the verdict intact.
func (s *Service) Submit(ctx context.Context, endpoint types.Endpoint, sub model.Submission) (Verdict, error) { //nolint:gocritic // hugeParam
	const op = "app.Service.Submit"

	v, err := s.gate.Evaluate(ctx, endpoint, sub)
	if err != nil {
		return v, err
	}
	if err := s.queue.Enqueue(ctx, v.Lead); err != nil {
		s.log.Error(ctx, "lead not queued for dispatch",
			logger.String("lead_id", v.Lead.ID), logger.Error(err))
		return v, fmt.Errorf("%s: %w: %w", op, ErrDispatchBusy, err)
	}
	return v, nil
}

// CheckField runs an advisory single-field check.
func (s *Service) CheckField(ctx context.Context, clientID, field, value string) (FieldCheck, ratelimit.Decision, error) {
	return s.gate.CheckField(ctx, clientID, field, value)
}

// Health reports a liveness snapshot.
func (s *Service) Health(context.Context) HealthStatus {
	return HealthStatus{
		Status:     "ok",
		Posture:    s.posture.String(),
		RateStore:  s.cfg.RateStore,
		Captcha:    s.verifier.Configured(),
		QueueDepth: s.queue.Len(),
	}
}

// Stop drains the dispatch queue and releases the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.started {
		if err := s.pool.Shutdown(ctx); err != nil {
			firstErr = err
		}
		s.cancel()
		s.started = false
	} else {
		_ = s.queue.Close()
	}

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil

	s.log.Info(ctx, "submission service stopped")
	return firstErr
}
