// Package rosapi — REST API реляционного бэкенда заказов поверх хранилища таблиц.
package rosapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

// Store — хранилище четырёх таблиц заказов.
type Store interface {
	List(ctx context.Context, status domain.ArchiveStatus) ([]rostable.Row, error)
	Get(ctx context.Context, status domain.ArchiveStatus, id string) (rostable.Row, error)
	FindByOrderNumber(ctx context.Context, number string) (domain.ArchiveStatus, rostable.Row, error)
	Insert(ctx context.Context, status domain.ArchiveStatus, row rostable.Row) (rostable.Row, error)
	Update(ctx context.Context, status domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error)
	Delete(ctx context.Context, status domain.ArchiveStatus, id string) error
	DeleteByOrderNumber(ctx context.Context, number string) (domain.ArchiveStatus, error)
	Move(ctx context.Context, from, to domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error)
	Ping(ctx context.Context) error
}

// NumberLookup — ответ поиска и удаления по номеру заказа.
type NumberLookup struct {
	ArchiveStatus domain.ArchiveStatus `json:"archiveStatus"`
	Row           rostable.Row         `json:"row,omitempty"`
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер обработчиков.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock подменяет часы для расчёта дашборда.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler обслуживает /ros.
type Handler struct {
	store  Store
	logger *log.Entry
	now    func() time.Time
}

// NewHandler создаёт обработчики поверх хранилища.
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: log.WithField("component", "ros-api"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register регистрирует маршруты на роутере.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ros/stats/dashboard", h.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/ros/by-number/{number}", h.handleFindByNumber).Methods(http.MethodGet)
	r.HandleFunc("/ros/by-number/{number}", h.handleDeleteByNumber).Methods(http.MethodDelete)
	r.HandleFunc("/ros", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/ros", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/ros/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/ros/{id}", h.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/ros/{id}", h.handleDelete).Methods(http.MethodDelete)
}

// Router возвращает готовый роутер с маршрутами Handler.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("store ping failed")
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status, err := archiveStatusParam(r, "archiveStatus")
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	rows, err := h.store.List(r.Context(), status)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	status, err := archiveStatusParam(r, "archiveStatus")
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	row, err := h.store.Get(r.Context(), status, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	status, err := archiveStatusParam(r, "archiveStatus")
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	l := rostable.MustFor(status)
	row, err := decodeRow(r, l)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	created, err := h.store.Insert(r.Context(), status, row)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	h.logger.WithFields(log.Fields{"table": l.Table, "id": created.ID()}).Info("repair order created")
	respondJSON(w, http.StatusCreated, created)
}

// handleUpdate обновляет строку на месте либо, с параметром moveTo,
// переносит её в таблицу другого архивного статуса.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, err := archiveStatusParam(r, "archiveStatus")
	if err != nil {
		h.fail(w, "update", err)
		return
	}

	if r.URL.Query().Get("moveTo") == "" {
		row, err := decodeRow(r, rostable.MustFor(from))
		if err != nil {
			h.fail(w, "update", err)
			return
		}
		updated, err := h.store.Update(r.Context(), from, id, row)
		if err != nil {
			h.fail(w, "update", err)
			return
		}
		respondJSON(w, http.StatusOK, updated)
		return
	}

	to, err := archiveStatusParam(r, "moveTo")
	if err != nil {
		h.fail(w, "move", err)
		return
	}
	if err := domain.CanTransition(from, to); err != nil {
		h.fail(w, "move", err)
		return
	}
	row, err := decodeRow(r, rostable.MustFor(to))
	if err != nil {
		h.fail(w, "move", err)
		return
	}
	moved, err := h.store.Move(r.Context(), from, to, id, row)
	if err != nil {
		h.fail(w, "move", err)
		return
	}
	h.logger.WithFields(log.Fields{"id": id, "from": from, "to": to}).Info("repair order moved")
	respondJSON(w, http.StatusOK, moved)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	status, err := archiveStatusParam(r, "archiveStatus")
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	if err := h.store.Delete(r.Context(), status, mux.Vars(r)["id"]); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFindByNumber(w http.ResponseWriter, r *http.Request) {
	status, row, err := h.store.FindByOrderNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.fail(w, "findByNumber", err)
		return
	}
	respondJSON(w, http.StatusOK, NumberLookup{ArchiveStatus: status, Row: row})
}

func (h *Handler) handleDeleteByNumber(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	status, err := h.store.DeleteByOrderNumber(r.Context(), number)
	if err != nil {
		h.fail(w, "deleteByNumber", err)
		return
	}
	h.logger.WithFields(log.Fields{"number": number, "table": status}).Info("repair order deleted")
	respondJSON(w, http.StatusOK, NumberLookup{ArchiveStatus: status})
}

// handleDashboard считает сводку на сервере: OnTrack — все активные заказы,
// кроме просроченных и назначенных на сегодня, включая заказы без даты.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats := domain.DashboardStats{ByStatus: map[string]int{}}
	today := h.now()

	for _, l := range rostable.All() {
		rows, err := h.store.List(r.Context(), l.Status)
		if err != nil {
			h.fail(w, "dashboard", err)
			return
		}
		switch l.Status {
		case domain.ArchivePaid:
			stats.Paid = len(rows)
		case domain.ArchiveNet:
			stats.Net = len(rows)
		case domain.ArchiveReturned:
			stats.Returned = len(rows)
		case domain.ArchiveActive:
			stats.TotalActive = len(rows)
			for _, row := range rows {
				order := rostable.ToOrder(l, row)
				if order.CurrentStatus != "" {
					stats.ByStatus[order.CurrentStatus]++
				}
				if order.EstimatedCost != nil {
					stats.TotalEstimatedCost += *order.EstimatedCost
				}
				if order.FinalCost != nil {
					stats.TotalFinalCost += *order.FinalCost
				}
				switch order.ClassifyDue(today) {
				case domain.DueOverdue:
					stats.Overdue++
				case domain.DueToday:
					stats.DueToday++
				}
			}
		}
	}
	stats.OnTrack = stats.TotalActive - stats.Overdue - stats.DueToday
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("operation", op).Error("request failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNumberTaken):
		return http.StatusConflict
	case errors.Is(err, errInvalidRequest), domain.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func archiveStatusParam(r *http.Request, name string) (domain.ArchiveStatus, error) {
	status, err := domain.ParseArchiveStatus(r.URL.Query().Get(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errInvalidRequest, name, err)
	}
	return status, nil
}

func decodeRow(r *http.Request, l rostable.Layout) (rostable.Row, error) {
	var raw rostable.Row
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode body: %v", errInvalidRequest, err)
	}
	row, err := rostable.Normalize(l, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return row, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
