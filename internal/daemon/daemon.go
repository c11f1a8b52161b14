// Package daemon runs the livemark service and its control API as a single
// long-lived process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"livemarks/internal/config"
	"livemarks/internal/feed"
	"livemarks/internal/idle"
	"livemarks/internal/livemark"
	"livemarks/internal/server"
	"livemarks/internal/store"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned when another daemon holds the lock file.
var ErrAlreadyRunning = errors.New("another livemarks daemon is already running")

// Options override the pieces Run would otherwise build from config.
type Options struct {
	Fetcher  livemark.Fetcher
	Idle     idle.Sensor
	Clock    clock.Clock
	Listener net.Listener
	// Ready is called with the listen address once the API accepts requests.
	Ready func(addr string)
}

// Daemon owns the lock, database, service, and HTTP server.
type Daemon struct {
	cfg    *config.Config
	base   *slog.Logger
	logger *slog.Logger
	lock   *flock.Flock
	opts   Options
}

// New validates inputs; nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Daemon{
		cfg:    cfg,
		base:   logger,
		logger: logger.With("component", "daemon"),
		lock:   flock.New(cfg.Paths.LockFile),
		opts:   opts,
	}, nil
}

// Run blocks until ctx ends or the server fails. On return the server, the
// service, the database, and the lock have been released in that order.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("release lock failed", "err", err)
		}
	}()

	db, err := store.Open(d.cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Init(db); err != nil {
		return err
	}
	st := store.New(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := livemark.NewService(ctx, livemark.Options{
		Bookmarks:    st,
		Annotations:  st,
		Fetcher:      d.fetcher(),
		Idle:         d.idleSensor(),
		Clock:        d.opts.Clock,
		Logger:       d.base,
		Metrics:      livemark.NewMetrics(reg),
		LoadingTitle: d.cfg.Refresh.LoadingTitle,
		DefaultTTL:   d.cfg.RefreshInterval(),
	})
	if err != nil {
		return fmt.Errorf("start livemark service: %w", err)
	}

	ln := d.opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", d.cfg.Server.Bind)
		if err != nil {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("listen on %s: %w", d.cfg.Server.Bind, err)
		}
	}

	httpServer := &http.Server{
		Handler:           server.New(svc, d.base, reg).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		svc.Start(groupCtx)

		d.logger.Info("livemarks daemon started",
			"addr", ln.Addr().String(),
			"database", d.cfg.Paths.Database,
			"lock", d.cfg.Paths.LockFile,
		)
		if d.opts.Ready != nil {
			d.opts.Ready(ln.Addr().String())
		}

		<-groupCtx.Done()

		return d.shutdown(httpServer, svc)
	})

	err = group.Wait()
	d.logger.Info("livemarks daemon stopped")

	return err
}

func (d *Daemon) shutdown(httpServer *http.Server, svc *livemark.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown api: %w", err))
	}
	if err := svc.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown livemarks: %w", err))
	}

	return errors.Join(errs...)
}

func (d *Daemon) fetcher() livemark.Fetcher {
	if d.opts.Fetcher != nil {
		return d.opts.Fetcher
	}

	var clk clock.PassiveClock = clock.RealClock{}
	if d.opts.Clock != nil {
		clk = d.opts.Clock
	}

	return feed.NewHTTPFetcher(feed.NewHTTPClient(d.cfg.FetchTimeout()), d.cfg.Refresh.UserAgent, clk)
}

func (d *Daemon) idleSensor() idle.Sensor {
	if d.opts.Idle != nil {
		return d.opts.Idle
	}

	switch d.cfg.Refresh.IdleSource {
	case config.IdleSourceNone:
		return idle.Never{}
	default:
		return idle.NewTTYSensor(d.opts.Clock)
	}
}
