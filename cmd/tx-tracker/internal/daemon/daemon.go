package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	runtimePprof "runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	supporthttp "github.com/stellar/go/support/http"
	supportlog "github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/config"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/daemon/interfaces"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/ethrpc"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/methods"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/resolver"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/util"
)

const (
	defaultReadTimeout         = 5 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second
)

type Daemon struct {
	db              *db.DB
	resolver        *resolver.Resolver
	drainTimeout    time.Duration
	logger          *supportlog.Entry
	listener        net.Listener
	server          *http.Server
	adminListener   net.Listener
	adminServer     *http.Server
	closeOnce       sync.Once
	closeError      error
	done            chan struct{}
	metricsRegistry *prometheus.Registry
	panicsCounter   prometheus.Counter
}

func (d *Daemon) GetEndpointAddrs() (net.TCPAddr, *net.TCPAddr) {
	addr := d.listener.Addr().(*net.TCPAddr)
	var adminAddr *net.TCPAddr
	if d.adminListener != nil {
		adminAddr = d.adminListener.Addr().(*net.TCPAddr)
	}
	return *addr, adminAddr
}

func (d *Daemon) close() {
	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
	defer shutdownRelease()
	var closeErrors []error

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Error("error during HTTP server Shutdown")
		closeErrors = append(closeErrors, err)
	}
	if d.adminServer != nil {
		if err := d.adminServer.Shutdown(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error during admin server Shutdown")
			closeErrors = append(closeErrors, err)
		}
	}
	// the store goes last, in-flight resolutions still write to it
	drainCtx, drainRelease := context.WithTimeout(context.Background(), d.drainTimeout)
	defer drainRelease()
	if err := d.resolver.Drain(drainCtx); err != nil {
		d.logger.WithError(err).Warn("dropping in-flight receipt resolutions")
	}
	if err := d.db.Close(); err != nil {
		d.logger.WithError(err).Error("Error closing db")
		closeErrors = append(closeErrors, err)
	}
	d.closeError = errors.Join(closeErrors...)
	close(d.done)
}

func (d *Daemon) Close() error {
	d.closeOnce.Do(d.close)
	return d.closeError
}

func MustNew(cfg *config.Config, logger *supportlog.Entry) *Daemon {
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == config.LogFormatJSON {
		logger.UseJSONFormatter()
	}

	logger.WithFields(supportlog.F{
		"version": config.Version,
		"commit":  config.CommitHash,
	}).Info("starting tx-tracker")

	metricsRegistry := prometheus.NewRegistry()
	dbConn, err := db.OpenSQLiteDBWithPrometheusMetrics(cfg.SQLiteDBPath, interfaces.PrometheusNamespace, "db", metricsRegistry)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.SQLiteDBPath).Fatal("could not open database")
	}

	daemon := &Daemon{
		logger:          logger,
		db:              dbConn,
		drainTimeout:    cfg.ReceiptWaitTimeout + cfg.RPCRequestTimeout,
		done:            make(chan struct{}),
		metricsRegistry: metricsRegistry,
	}

	store := db.NewTransactionStore(logger.WithField("subservice", "db"), dbConn, daemon)
	receiptResolver := resolver.New(resolver.Params{
		Logger: logger.WithField("subservice", "resolver"),
		Store:  store,
		NewClient: resolver.NewClientFactory(ethrpc.Options{
			PollInterval:   cfg.ReceiptPollInterval,
			WaitTimeout:    cfg.ReceiptWaitTimeout,
			RequestTimeout: cfg.RPCRequestTimeout,
		}),
		Daemon: daemon,
	})
	daemon.resolver = receiptResolver

	handler := methods.NewHandler(methods.HandlerParams{
		Logger:            logger.WithField("subservice", "http"),
		TransactionReader: store,
		TransactionWriter: store,
		Resolver:          receiptResolver,
		HealthChecker:     dbConn,
	})

	httpHandler := supporthttp.NewMux(logger)
	httpHandler.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions},
	}).Handler)
	httpHandler.Mount("/", handler)

	// Use a separate listener in order to obtain the actual TCP port
	// when using dynamic ports during testing (e.g. endpoint="localhost:0")
	daemon.listener, err = net.Listen("tcp", cfg.Endpoint)
	if err != nil {
		daemon.logger.WithError(err).WithField("endpoint", cfg.Endpoint).Fatal("cannot listen on endpoint")
	}
	// no WriteTimeout: resolving a receipt holds the response until the
	// transaction is mined or the wait times out
	daemon.server = &http.Server{
		Handler:     httpHandler,
		ReadTimeout: defaultReadTimeout,
	}
	if cfg.AdminEndpoint != "" {
		adminMux := supporthttp.NewMux(logger)
		adminMux.HandleFunc("/debug/pprof/", pprof.Index)
		adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// add the entry points for:
		// goroutine, threadcreate, heap, allocs, block, mutex
		for _, profile := range runtimePprof.Profiles() {
			adminMux.Handle("/debug/pprof/"+profile.Name(), pprof.Handler(profile.Name()))
		}
		adminMux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
		daemon.adminListener, err = net.Listen("tcp", cfg.AdminEndpoint)
		if err != nil {
			daemon.logger.WithError(err).WithField("endpoint", cfg.AdminEndpoint).Fatal("cannot listen on admin endpoint")
		}
		daemon.adminServer = &http.Server{Handler: adminMux, ReadTimeout: defaultReadTimeout}
	}
	daemon.registerMetrics()
	return daemon
}

// Run serves until SIGINT/SIGTERM or Close.
func (d *Daemon) Run() {
	d.logger.WithFields(supportlog.F{
		"addr": d.listener.Addr().String(),
	}).Info("starting HTTP server")

	panicGroup := util.UnrecoverablePanicGroup.Log(d.logger)
	panicGroup.Go(func() {
		if err := d.server.Serve(d.listener); !errors.Is(err, http.ErrServerClosed) {
			d.logger.WithError(err).Fatal("HTTP server encountered fatal error")
		}
	})

	if d.adminServer != nil {
		d.logger.WithFields(supportlog.F{
			"addr": d.adminListener.Addr().String(),
		}).Info("starting Admin HTTP server")
		// the admin server is not essential, a panic there must not stop the service
		adminGroup := util.RecoverablePanicGroup.Log(d.logger).Counter(d.panicsCounter)
		adminGroup.Go(func() {
			if err := d.adminServer.Serve(d.adminListener); !errors.Is(err, http.ErrServerClosed) {
				d.logger.WithError(err).Error("admin server encountered fatal error")
			}
		})
	}

	// Shutdown gracefully when we receive an interrupt signal.
	// First server.Shutdown closes all open listeners, then closes all idle connections.
	// Finally, it waits a grace period (10s here) for connections to return to idle and then shut down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		d.Close()
	case <-d.done:
		return
	}
}
