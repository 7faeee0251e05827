package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/daemon/interfaces"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/ethrpc"
)

// ReceiptWaiter is the chain capability the resolver depends on.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, hash string) (ethrpc.Receipt, error)
	Close() error
}

// ClientFactory builds a ReceiptWaiter bound to one RPC endpoint.
type ClientFactory func(rpcURL string) ReceiptWaiter

// NewClientFactory returns a ClientFactory producing JSON-RPC clients with the given options.
func NewClientFactory(opts ethrpc.Options) ClientFactory {
	return func(rpcURL string) ReceiptWaiter {
		return ethrpc.NewClient(rpcURL, opts)
	}
}

// ErrResolverClosed is returned by Resolve once Drain has been called.
var ErrResolverClosed = errors.New("receipt resolver is shutting down")

// ResolutionError is the failure to obtain a receipt from the node.
type ResolutionError struct {
	Hash string
	Err  error
}

func (e *ResolutionError) Error() string {
	return e.Err.Error()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one resolution attempt. Exactly one of Receipt and
// Failure is set.
type Outcome struct {
	Status  db.TransactionStatus
	Receipt *ethrpc.Receipt
	Failure *ResolutionError
}

type Params struct {
	Logger    *log.Entry
	Store     db.TransactionReadWriter
	NewClient ClientFactory
	Daemon    interfaces.Daemon
}

type Resolver struct {
	logger    *log.Entry
	store     db.TransactionReadWriter
	newClient ClientFactory

	resolutionsMetric *prometheus.CounterVec
	durationMetric    prometheus.Summary

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func New(params Params) *Resolver {
	resolutionsMetric := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: params.Daemon.MetricsNamespace(), Subsystem: "resolver",
		Name: "resolutions_total",
		Help: "receipt resolutions by outcome",
	}, []string{"outcome"})
	durationMetric := prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: params.Daemon.MetricsNamespace(), Subsystem: "resolver",
		Name:       "resolution_duration_seconds",
		Help:       "receipt resolution durations, sliding window = 10m",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
	params.Daemon.MetricsRegistry().MustRegister(resolutionsMetric, durationMetric)

	return &Resolver{
		logger:            params.Logger,
		store:             params.Store,
		newClient:         params.NewClient,
		resolutionsMetric: resolutionsMetric,
		durationMetric:    durationMetric,
	}
}

// Resolve waits for the receipt of the stored transaction with the given id
// and records the outcome. The returned error is only set when the outcome
// could not be produced or persisted (unknown id, storage failure); a node
// failure is reported through Outcome.Failure after being stored.
//
// Cancellation of ctx is ignored: the wait is bounded by the RPC client's own
// timeouts and the outcome is always written. Concurrent calls for the same id
// are not serialized, the last write wins.
func (r *Resolver) Resolve(ctx context.Context, id int64) (Outcome, error) {
	if !r.track() {
		return Outcome{}, ErrResolverClosed
	}
	defer r.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	tx, err := r.store.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	outcome := r.fetch(ctx, tx)
	r.durationMetric.Observe(time.Since(start).Seconds())

	L := r.logger.
		WithField("id", tx.ID).
		WithField("txhash", tx.Hash).
		WithField("status", outcome.Status).
		WithField("duration", time.Since(start))

	var update db.StatusUpdate
	if outcome.Failure != nil {
		msg := outcome.Failure.Error()
		update.Error = &msg
		r.resolutionsMetric.With(prometheus.Labels{"outcome": "error"}).Inc()
		L.WithError(outcome.Failure.Err).Warn("could not resolve transaction receipt")
	} else {
		update.Receipt = outcome.Receipt.Raw
		r.resolutionsMetric.With(prometheus.Labels{"outcome": string(outcome.Status)}).Inc()
		L.Info("resolved transaction receipt")
	}

	if err := r.store.UpdateStatus(ctx, tx.ID, outcome.Status, update); err != nil {
		return outcome, fmt.Errorf("could not store resolution of transaction %d: %w", tx.ID, err)
	}
	return outcome, nil
}

func (r *Resolver) track() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.inflight.Add(1)
	return true
}

// Drain rejects new resolutions and waits for the running ones to store their
// outcome, or for ctx to be done.
func (r *Resolver) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, tx db.Transaction) Outcome {
	client := r.newClient(tx.RPCURL)
	defer func() {
		if err := client.Close(); err != nil {
			r.logger.WithError(err).WithField("rpc_url", tx.RPCURL).Debug("could not close RPC client")
		}
	}()

	receipt, err := client.WaitForReceipt(ctx, tx.Hash)
	if err != nil {
		return Outcome{
			Status:  db.TransactionStatusFailed,
			Failure: &ResolutionError{Hash: tx.Hash, Err: err},
		}
	}

	status := db.TransactionStatusFailed
	if receipt.Successful() {
		status = db.TransactionStatusConfirmed
	}
	return Outcome{Status: status, Receipt: &receipt}
}
