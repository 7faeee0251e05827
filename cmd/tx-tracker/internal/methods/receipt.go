package methods

import (
	"errors"
	"net/http"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/ethrpc"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/resolver"
)

type ResolveReceiptResponse struct {
	Receipt *ethrpc.Receipt      `json:"receipt"`
	Status  db.TransactionStatus `json:"status"`
}

// resolveReceipt blocks until the node returns the receipt or fails. The
// outcome, including a failure, is stored before answering.
func (h *handler) resolveReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidID)
		return
	}

	outcome, err := h.resolver.Resolve(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, errNotFound)
	case errors.Is(err, resolver.ErrResolverClosed):
		h.writeError(w, http.StatusServiceUnavailable, errShuttingDown)
	case err != nil:
		h.writeInternalError(w, r, err)
	case outcome.Failure != nil:
		h.writeError(w, http.StatusInternalServerError, outcome.Failure.Error())
	default:
		h.writeJSON(w, http.StatusOK, ResolveReceiptResponse{
			Receipt: outcome.Receipt,
			Status:  outcome.Status,
		})
	}
}
