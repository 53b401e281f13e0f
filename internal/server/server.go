/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/analyzer"
	"github.com/friendsincode/grimnir_playout/internal/api"
	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/eventbus"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/leadership"
	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/scheduler"
	"github.com/friendsincode/grimnir_playout/internal/store"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	instanceLockSuffix  = ".pid.lock"
	dbMetricsInterval   = 15 * time.Second
	requestTimeout      = 30 * time.Second
	healthTimeout       = 5 * time.Second
	pollerFailedMessage = "poller_failed"
)

// ErrAlreadyRunning is returned by Start when another process serves the same queue.
var ErrAlreadyRunning = errors.New("another playoutd instance is serving this queue")

// Server bundles the poller, its dependencies and the HTTP surface.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	store       *store.Store
	queue       *queue.FileQueue
	deadLetter  *queue.FileQueue
	poller      *scheduler.Service
	leaderAware *scheduler.LeaderAwareScheduler
	bus         *events.Bus
	nats        *eventbus.NATSPublisher
	api         *api.API
	lock        *flock.Flock
	logBuffer   *logbuffer.Buffer

	fatal    chan error
	failed   atomic.Bool
	reason   atomic.Value // string, set with failed
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Nothing runs until Start.
// logBuf may be nil, which leaves /api/v1/logs unrouted.
func New(ctx context.Context, cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(requestTimeout)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		lock:      flock.New(cfg.QueueFile + instanceLockSuffix),
		fatal:     make(chan error, 1),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	if cfg.HTTPEnabled {
		srv.httpServer = &http.Server{
			Addr:              cfg.HTTPAddr(),
			Handler:           srv.router,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	database, err := db.Connect(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.store = store.New(database, store.Options{
		Table:         s.cfg.DBTable,
		Timeout:       s.cfg.StoreTimeout,
		RetryAttempts: s.cfg.StoreRetryAttempts,
		RetryBackoff:  s.cfg.StoreRetryBackoff,
		Location:      s.cfg.Location,
	}, logging.Component(s.logger, "store"))

	s.queue = queue.New(s.cfg.QueueFile, s.logger)
	s.deadLetter = queue.New(s.cfg.DeadLetterFile, s.logger)

	extractor := analyzer.New(analyzer.Options{
		Element:          s.cfg.DurationElement,
		FallbackEncoding: s.cfg.FallbackEncoding,
	}, logging.Component(s.logger, "analyzer"))

	s.poller = scheduler.New(s.queue, s.deadLetter, extractor, s.store, s.bus, scheduler.Options{
		Channel:      s.cfg.Channel,
		PollInterval: s.cfg.PollInterval,
		Location:     s.cfg.Location,
	}, logging.Component(s.logger, "poller"))

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(ctx, leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAware = scheduler.NewLeaderAware(s.poller, election, s.bus, s.logger)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for poller")
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		natsCfg.NodeID = s.cfg.InstanceID
		pub, err := eventbus.NewNATSPublisher(natsCfg, s.logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		s.nats = pub
		s.DeferClose(pub.Close)
	}

	var secret []byte
	if s.cfg.APIJWTSecret != "" {
		secret = []byte(s.cfg.APIJWTSecret)
	}
	requeue := func(ctx context.Context) (int, error) {
		return queue.Requeue(ctx, s.deadLetter, s.queue)
	}
	s.api = api.New(s.queue, s.deadLetter, requeue, s.store, s.bus, secret, logging.Component(s.logger, "api"))
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	return nil
}

// Start takes the instance lock and launches the poller and background
// workers. It does not start the HTTP listener; see HTTPServer.
func (s *Server) Start() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, s.lock.Path())
	}
	s.DeferClose(s.lock.Unlock)

	s.startBackgroundWorkers()
	return nil
}

// Done delivers the error that stopped the poller for good. It never fires
// on a clean shutdown.
func (s *Server) Done() <-chan error {
	return s.fatal
}

// HTTPServer exposes the underlying net/http server, or nil when HTTP is disabled.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	var runner scheduler.Runner = s.poller
	if s.leaderAware != nil {
		runner = s.leaderAware
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		err := runner.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		reason := scheduler.FailureReason(err)
		s.reason.Store(reason)
		s.failed.Store(true)
		s.logger.Error().Err(err).Str("reason", reason).Msg("poller exited")
		select {
		case s.fatal <- err:
		default:
		}
	}()

	if s.nats != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			eventbus.Forward(ctx, s.bus, s.nats)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(dbMetricsInterval)
		defer ticker.Stop()
		for {
			db.UpdateConnectionMetrics(s.db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

type healthResponse struct {
	Status      string `json:"status"`
	PollerState string `json:"poller_state"`
	Leader      *bool  `json:"leader,omitempty"`
	QueueDepth  *int   `json:"queue_depth,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) health(ctx context.Context) (int, healthResponse) {
	resp := healthResponse{Status: "ok", PollerState: string(s.poller.State())}

	if s.leaderAware != nil {
		leader := s.leaderAware.IsLeader()
		resp.Leader = &leader
	}

	lenCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if depth, err := s.queue.Len(lenCtx); err == nil {
		resp.QueueDepth = &depth
	}

	if s.failed.Load() {
		resp.Status = pollerFailedMessage
		resp.Reason, _ = s.reason.Load().(string)
		return http.StatusServiceUnavailable, resp
	}
	return http.StatusOK, resp
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, resp := s.health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

// Migrate creates or updates the schedule table.
func (s *Server) Migrate() error {
	return db.Migrate(s.db, s.cfg.DBTable)
}
