package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"guacplayer/internal/connections"
	"guacplayer/internal/models"
)

type connectionListResponse struct {
	Success    bool                   `json:"success"`
	Query      string                 `json:"query,omitempty"`
	Data       []models.Connection    `json:"data"`
	Pagination connections.Pagination `json:"pagination"`
}

type connectionResponse struct {
	Success bool              `json:"success"`
	Data    models.Connection `json:"data"`
}

type historyResponse struct {
	Success        bool                   `json:"success"`
	ConnectionID   int64                  `json:"connection_id"`
	ConnectionName string                 `json:"connection_name"`
	Data           []models.HistoryEntry  `json:"data"`
	Pagination     connections.Pagination `json:"pagination"`
}

func (h *Handler) page(r *http.Request) connections.Page {
	query := r.URL.Query()
	return connections.ParsePage(query.Get("page"), query.Get("per_page"), h.DefaultPerPage)
}

// connectionID parses the {id} route parameter. Non-numeric ids never match
// a connection and are reported as not found.
func connectionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	page := h.page(r)
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	var (
		result connections.ListResult
		err    error
	)
	if search != "" {
		result, err = h.Catalog.Search(r.Context(), search, page)
	} else {
		result, err = h.Catalog.List(r.Context(), page)
	}
	if err != nil {
		h.logger(r).Error("list connections", "page", page.Number, "per_page", page.PerPage, "search", search, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	writeJSON(w, http.StatusOK, connectionListResponse{
		Success:    true,
		Query:      result.Query,
		Data:       result.Connections,
		Pagination: result.Pagination,
	})
}

func (h *Handler) ConnectionByID(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(r)
	if !ok {
		WriteRequestError(w, NotFoundError("connection not found"))
		return
	}
	conn, found, err := h.Catalog.Detail(r.Context(), id)
	if err != nil {
		h.logger(r).Error("load connection", "connection_id", id, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	if !found {
		WriteRequestError(w, NotFoundError("connection not found"))
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{Success: true, Data: conn})
}

func (h *Handler) ConnectionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(r)
	if !ok {
		WriteRequestError(w, NotFoundError("connection not found"))
		return
	}
	page := h.page(r)
	result, found, err := h.Catalog.History(r.Context(), id, page)
	if err != nil {
		h.logger(r).Error("load connection history", "connection_id", id, "page", page.Number, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	if !found {
		WriteRequestError(w, NotFoundError("connection not found"))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Success:        true,
		ConnectionID:   result.ConnectionID,
		ConnectionName: result.ConnectionName,
		Data:           result.Entries,
		Pagination:     result.Pagination,
	})
}
