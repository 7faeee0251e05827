package methods

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/resolver"
)

const (
	errInvalidID       = "invalid transaction id"
	errNotFound        = "transaction not found"
	errInvalidBody     = "invalid request body"
	errInternal        = "internal error"
	errShuttingDown    = "service is shutting down"
	maxRequestBodySize = 1 << 20
)

type ReceiptResolver interface {
	Resolve(ctx context.Context, id int64) (resolver.Outcome, error)
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type HandlerParams struct {
	Logger            *log.Entry
	TransactionReader db.TransactionReader
	TransactionWriter db.TransactionWriter
	Resolver          ReceiptResolver
	HealthChecker     HealthChecker
}

type handler struct {
	logger   *log.Entry
	reader   db.TransactionReader
	writer   db.TransactionWriter
	resolver ReceiptResolver
	health   HealthChecker
	pages    *pageRenderer
}

// NewHandler returns the router serving the JSON API, the rendered pages and
// the health check.
func NewHandler(params HandlerParams) http.Handler {
	h := &handler{
		logger:   params.Logger,
		reader:   params.TransactionReader,
		writer:   params.TransactionWriter,
		resolver: params.Resolver,
		health:   params.HealthChecker,
		pages:    mustLoadPageRenderer(),
	}

	r := chi.NewRouter()
	r.Get("/health", h.getHealth)
	r.Route("/api/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Post("/", h.createTransaction)
		r.Get("/{id}", h.getTransaction)
		r.Post("/{id}/receipt", h.resolveReceipt)
	})
	r.Get("/transactions", h.listPage)
	r.Get("/transactions/{id}", h.detailPage)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("could not write response")
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeInternalError logs err and answers with a generic 500.
func (h *handler) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).
		WithField("path", r.URL.Path).
		Error("request failed")
	h.writeError(w, http.StatusInternalServerError, errInternal)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// parsePagination reads the page and pageSize query parameters. Missing,
// empty or non-integer values fall back to the defaults before clamping;
// integers too large for an int saturate, so they still select a page past
// the end.
func parsePagination(r *http.Request) db.Pagination {
	query := r.URL.Query()
	return db.NewPagination(
		intOrDefault(query.Get("page"), 1),
		intOrDefault(query.Get("pageSize"), db.DefaultPageSize),
	)
}

func intOrDefault(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if errors.Is(err, strconv.ErrRange) {
		// Atoi returns the saturated value along with ErrRange
		return parsed
	}
	if err != nil {
		return fallback
	}
	return parsed
}

func (h *handler) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.CheckHealth(r.Context()); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		h.writeError(w, http.StatusServiceUnavailable, "data store is unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
