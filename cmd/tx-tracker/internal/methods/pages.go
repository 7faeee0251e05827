package methods

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/db"
)

//go:embed templates/*.html
var templateFS embed.FS

type ListPageData struct {
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
	Items    []db.Transaction `json:"items"`
	Summary  db.Summary       `json:"summary"`
}

// TotalPages is at least 1 so an empty store still renders one page.
func (d ListPageData) TotalPages() int {
	if d.Total == 0 {
		return 1
	}
	return (d.Total + d.PageSize - 1) / d.PageSize
}

type DetailPageData struct {
	Transaction db.Transaction `json:"transaction"`
	// Receipt is nil when the record has no stored receipt.
	Receipt map[string]any `json:"receipt"`
}

func loadListPage(ctx context.Context, reader db.TransactionReader, pagination db.Pagination) (ListPageData, error) {
	page, err := reader.ListPage(ctx, pagination)
	if err != nil {
		return ListPageData{}, err
	}
	summary, err := reader.Summarize(ctx)
	if err != nil {
		return ListPageData{}, err
	}
	return ListPageData{
		Page:     pagination.Page,
		PageSize: pagination.PageSize,
		Total:    page.Total,
		Items:    page.Items,
		Summary:  summary,
	}, nil
}

func loadDetailPage(ctx context.Context, reader db.TransactionReader, id int64) (DetailPageData, error) {
	tx, err := reader.GetByID(ctx, id)
	if err != nil {
		return DetailPageData{}, err
	}
	receipt, err := parseStoredReceipt(tx.ReceiptJSON)
	if err != nil {
		return DetailPageData{}, fmt.Errorf("transaction %d: %w", id, err)
	}
	return DetailPageData{Transaction: tx, Receipt: receipt}, nil
}

func parseStoredReceipt(raw *string) (map[string]any, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	var receipt map[string]any
	if err := json.Unmarshal([]byte(*raw), &receipt); err != nil {
		return nil, fmt.Errorf("could not parse stored receipt: %w", err)
	}
	return receipt, nil
}

type pageRenderer struct {
	templates *template.Template
}

func mustLoadPageRenderer() *pageRenderer {
	templates, err := template.New("").Funcs(template.FuncMap{
		"json": func(v any) (string, error) {
			out, err := json.MarshalIndent(v, "", "  ")
			return string(out), err
		},
		"add": func(a, b int) int { return a + b },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	return &pageRenderer{templates: templates}
}

func (p *pageRenderer) render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (h *handler) listPage(w http.ResponseWriter, r *http.Request) {
	data, err := loadListPage(r.Context(), h.reader, parsePagination(r))
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	h.writePage(w, r, "list.html", data)
}

func (h *handler) detailPage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidID)
		return
	}
	data, err := loadDetailPage(r.Context(), h.reader, id)
	switch {
	case errors.Is(err, db.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, errNotFound)
	case err != nil:
		h.writeInternalError(w, r, err)
	default:
		h.writePage(w, r, "detail.html", data)
	}
}

func (h *handler) writePage(w http.ResponseWriter, r *http.Request, name string, data any) {
	if wantsJSON(r) {
		h.writeJSON(w, http.StatusOK, data)
		return
	}
	page, err := h.pages.render(name, data)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(page); err != nil {
		h.logger.WithError(err).Warn("could not write page")
	}
}
