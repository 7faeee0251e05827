package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stellar/go/support/db"
	"github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/daemon/interfaces"
)

const transactionTableName = "transactions"

var ErrTransactionNotFound = errors.New("transaction not found")

type TransactionStatus string

const (
	// TransactionStatusPending is the status of every transaction until a
	// receipt has been requested for it.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusConfirmed indicates the receipt reports successful execution.
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	// TransactionStatusFailed indicates the receipt reports a reverted execution
	// or the receipt could not be obtained.
	TransactionStatusFailed TransactionStatus = "failed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusConfirmed, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// Transaction is one tracked transaction record.
type Transaction struct {
	ID          int64             `db:"id" json:"id"`
	Hash        string            `db:"hash" json:"hash"`
	Account     string            `db:"account" json:"account"`
	Recipient   string            `db:"recipient" json:"recipient"`
	RPCURL      string            `db:"rpc_url" json:"-"`
	Status      TransactionStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
	ReceiptJSON *string           `db:"receipt_json" json:"receiptJson"`
	Error       *string           `db:"error" json:"error"`
}

var transactionColumns = []string{
	"id", "hash", "account", "recipient", "rpc_url", "status", "created_at", "receipt_json", "error",
}

// NewTransaction holds the caller-supplied fields of a transaction to track.
type NewTransaction struct {
	Hash      string `json:"hash"`
	Account   string `json:"account"`
	Recipient string `json:"recipient"`
	RPCURL    string `json:"rpcUrl"`
}

func (t NewTransaction) trimmed() NewTransaction {
	return NewTransaction{
		Hash:      strings.TrimSpace(t.Hash),
		Account:   strings.TrimSpace(t.Account),
		Recipient: strings.TrimSpace(t.Recipient),
		RPCURL:    strings.TrimSpace(t.RPCURL),
	}
}

func (t NewTransaction) validate() error {
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"hash", t.Hash},
		{"account", t.Account},
		{"recipient", t.Recipient},
		{"rpcUrl", t.RPCURL},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// ValidationError is returned when required transaction fields are empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required transaction fields: " + strings.Join(e.Fields, ", ")
}

// StatusUpdate carries the optional fields written together with a new status.
// A non-nil Receipt clears any stored error unless Error is also set. A nil
// Receipt leaves the stored receipt untouched.
type StatusUpdate struct {
	Receipt json.RawMessage
	Error   *string
}

type TransactionPage struct {
	Items []Transaction
	Total int
}

type Summary struct {
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

func (s Summary) Total() int {
	return s.Confirmed + s.Failed + s.Pending
}

// TransactionReader provides all the public ways to read from the DB.
type TransactionReader interface {
	ListPage(ctx context.Context, pagination Pagination) (TransactionPage, error)
	Summarize(ctx context.Context) (Summary, error)
	GetByID(ctx context.Context, id int64) (Transaction, error)
	GetByHash(ctx context.Context, hash string) (Transaction, error)
}

// TransactionWriter is the only way transaction records get created or mutated.
type TransactionWriter interface {
	InsertIfAbsent(ctx context.Context, tx NewTransaction) (Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status TransactionStatus, update StatusUpdate) error
}

type TransactionReadWriter interface {
	TransactionReader
	TransactionWriter
}

type transactionStore struct {
	log            *log.Entry
	db             db.SessionInterface
	now            func() time.Time
	durationMetric *prometheus.SummaryVec
}

// NewTransactionStore builds the transaction repository on top of the given
// session, registering its operation duration metric with the daemon.
func NewTransactionStore(log *log.Entry, session db.SessionInterface, daemon interfaces.Daemon) TransactionReadWriter {
	// a metric for measuring latency of transaction store operations
	durationMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: daemon.MetricsNamespace(), Subsystem: "transactions",
		Name:       "operation_duration_seconds",
		Help:       "transaction store operation durations, sliding window = 10m",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	},
		[]string{"operation"},
	)
	daemon.MetricsRegistry().MustRegister(durationMetric)

	return &transactionStore{
		log:            log,
		db:             session,
		now:            time.Now,
		durationMetric: durationMetric,
	}
}

func (s *transactionStore) observe(operation string, start time.Time) {
	s.durationMetric.With(prometheus.Labels{"operation": operation}).
		Observe(time.Since(start).Seconds())
}

func (s *transactionStore) ListPage(ctx context.Context, pagination Pagination) (TransactionPage, error) {
	defer s.observe("list_page", time.Now())
	pagination = NewPagination(pagination.Page, pagination.PageSize)

	var total int
	countQ := sq.Select("COUNT(*)").From(transactionTableName)
	if err := s.db.Get(ctx, &total, countQ); err != nil {
		return TransactionPage{}, fmt.Errorf("couldn't count transactions: %w", err)
	}

	items := []Transaction{}
	pageQ := sq.Select(transactionColumns...).
		From(transactionTableName).
		OrderBy("id DESC").
		Limit(uint64(pagination.PageSize)).
		Offset(uint64(pagination.Offset()))
	if err := s.db.Select(ctx, &items, pageQ); err != nil {
		return TransactionPage{}, fmt.Errorf("couldn't list transactions: %w", err)
	}

	return TransactionPage{Items: items, Total: total}, nil
}

func (s *transactionStore) Summarize(ctx context.Context) (Summary, error) {
	defer s.observe("summarize", time.Now())

	var rows []struct {
		Status TransactionStatus `db:"status"`
		Count  int               `db:"count"`
	}
	q := sq.Select("status", "COUNT(*) AS count").
		From(transactionTableName).
		GroupBy("status")
	if err := s.db.Select(ctx, &rows, q); err != nil {
		return Summary{}, fmt.Errorf("couldn't summarize transactions: %w", err)
	}

	var summary Summary
	for _, row := range rows {
		switch row.Status {
		case TransactionStatusConfirmed:
			summary.Confirmed = row.Count
		case TransactionStatusFailed:
			summary.Failed = row.Count
		case TransactionStatusPending:
			summary.Pending = row.Count
		default:
			s.log.WithField("status", row.Status).Warn("ignoring transactions with unknown status")
		}
	}
	return summary, nil
}

func (s *transactionStore) GetByID(ctx context.Context, id int64) (Transaction, error) {
	defer s.observe("get_by_id", time.Now())
	return getTransaction(ctx, s.db, sq.Eq{"id": id})
}

func (s *transactionStore) GetByHash(ctx context.Context, hash string) (Transaction, error) {
	defer s.observe("get_by_hash", time.Now())
	return getTransaction(ctx, s.db, sq.Eq{"hash": hash})
}

func getTransaction(ctx context.Context, session db.SessionInterface, where sq.Eq) (Transaction, error) {
	var rows []Transaction
	q := sq.Select(transactionColumns...).
		From(transactionTableName).
		Where(where).
		Limit(1)
	if err := session.Select(ctx, &rows, q); err != nil {
		return Transaction{}, fmt.Errorf("db read failed for %v: %w", where, err)
	} else if len(rows) < 1 {
		return Transaction{}, ErrTransactionNotFound
	}
	return rows[0], nil
}

// InsertIfAbsent stores a new pending transaction unless one with the same
// hash already exists. Either way the stored record is returned, so repeated
// submissions of a hash are a no-op.
func (s *transactionStore) InsertIfAbsent(ctx context.Context, tx NewTransaction) (Transaction, error) {
	defer s.observe("insert", time.Now())

	tx = tx.trimmed()
	if err := tx.validate(); err != nil {
		return Transaction{}, err
	}

	txSession := s.db.Clone()
	if err := txSession.Begin(ctx); err != nil {
		return Transaction{}, err
	}
	// Rolling back after a commit only reports "not in transaction".
	defer func() { _ = txSession.Rollback() }()

	insertQ := sq.Insert(transactionTableName).
		Options("OR IGNORE").
		Columns("hash", "account", "recipient", "status", "rpc_url", "created_at").
		Values(tx.Hash, tx.Account, tx.Recipient, string(TransactionStatusPending), tx.RPCURL, s.now().UTC())
	result, err := txSession.Exec(ctx, insertQ)
	if err != nil {
		return Transaction{}, fmt.Errorf("couldn't insert transaction %s: %w", tx.Hash, err)
	}

	record, err := getTransaction(ctx, txSession, sq.Eq{"hash": tx.Hash})
	if err != nil {
		return Transaction{}, err
	}
	if err := txSession.Commit(); err != nil {
		return Transaction{}, err
	}

	inserted, _ := result.RowsAffected()
	s.log.
		WithField("txhash", record.Hash).
		WithField("id", record.ID).
		WithField("inserted", inserted > 0).
		Debug("stored transaction")
	return record, nil
}

func (s *transactionStore) UpdateStatus(ctx context.Context, id int64, status TransactionStatus, update StatusUpdate) error {
	defer s.observe("update_status", time.Now())

	if !status.Valid() {
		return fmt.Errorf("invalid transaction status %q", status)
	}

	q := sq.Update(transactionTableName).Set("status", string(status))
	if update.Receipt != nil {
		q = q.Set("receipt_json", string(update.Receipt))
		if update.Error == nil {
			q = q.Set("error", nil)
		}
	}
	if update.Error != nil {
		q = q.Set("error", *update.Error)
	}
	q = q.Where(sq.Eq{"id": id})

	result, err := s.db.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("couldn't update transaction %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
