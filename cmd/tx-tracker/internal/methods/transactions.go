package methods

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
)

type ListTransactionsResponse struct {
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
	Items    []db.Transaction `json:"items"`
}

type TransactionResponse struct {
	Transaction db.Transaction `json:"transaction"`
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	pagination := parsePagination(r)
	page, err := h.reader.ListPage(r.Context(), pagination)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ListTransactionsResponse{
		Page:     pagination.Page,
		PageSize: pagination.PageSize,
		Total:    page.Total,
		Items:    page.Items,
	})
}

func (h *handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var request db.NewTransaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	tx, err := h.writer.InsertIfAbsent(r.Context(), request)
	var validationErr *db.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case err != nil:
		h.writeInternalError(w, r, err)
	default:
		h.writeJSON(w, http.StatusOK, TransactionResponse{Transaction: tx})
	}
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidID)
		return
	}

	tx, err := h.reader.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, errNotFound)
	case err != nil:
		h.writeInternalError(w, r, err)
	default:
		h.writeJSON(w, http.StatusOK, TransactionResponse{Transaction: tx})
	}
}
