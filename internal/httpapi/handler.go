// Package httpapi — JSON API фасада заказов поверх арбитра бэкендов.
package httpapi

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
	"github.com/Cal9233/genthrust-repairs/internal/failover"
)

const (
	maxBodyBytes = 1 << 20

	// HeaderDataSource — бэкенд, обслуживший запрос.
	HeaderDataSource = "X-Data-Source"
	// HeaderRecovered выставляется, когда запрос вернул сервис на основной бэкенд.
	HeaderRecovered = "X-Backend-Recovered"
)

var errInvalidRequest = errors.New("invalid request")

// Service — операции фасада; реализуется failover.Service.
type Service interface {
	ListRepairOrders(ctx context.Context, status domain.ArchiveStatus) (failover.Result[[]domain.RepairOrder], error)
	GetByID(ctx context.Context, key domain.OrderKey) (failover.Result[domain.RepairOrder], error)
	Create(ctx context.Context, order domain.RepairOrder) (failover.Result[domain.RepairOrder], error)
	Update(ctx context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (failover.Result[domain.RepairOrder], error)
	UpdateStatus(ctx context.Context, key domain.OrderKey, status string) (failover.Result[domain.RepairOrder], error)
	Delete(ctx context.Context, key domain.OrderKey) (failover.Result[struct{}], error)
	DeleteByOrderNumber(ctx context.Context, number string) (failover.Result[struct{}], error)
	Archive(ctx context.Context, key domain.OrderKey, target domain.ArchiveStatus) (failover.Result[domain.RepairOrder], error)
	GetDashboardStats(ctx context.Context) (failover.Result[domain.DashboardStats], error)
	InFallbackMode() bool
	Metrics() failover.Metrics
	SetRetryInterval(d time.Duration)
	ResetFallbackState()
	ResetMetrics()
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

// Handler обслуживает /api.
type Handler struct {
	svc    Service
	logger *log.Entry
}

// NewHandler создаёт обработчики фасада.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		logger: log.WithField("component", "http-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register регистрирует маршруты. Ключ заказа в пути трактуется по параметру
// ?by=id|row|number (по умолчанию номер заказа).
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/backend/status", h.handleBackendStatus).Methods(http.MethodGet)
	api.HandleFunc("/backend/reset", h.handleBackendReset).Methods(http.MethodPost)
	api.HandleFunc("/backend/retry-interval", h.handleRetryInterval).Methods(http.MethodPut)
	api.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/repair-orders", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/repair-orders", h.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/repair-orders/by-number/{number}", h.handleDeleteByNumber).Methods(http.MethodDelete)
	api.HandleFunc("/repair-orders/{key}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/repair-orders/{key}", h.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/repair-orders/{key}", h.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/repair-orders/{key}/status", h.handleUpdateStatus).Methods(http.MethodPut)
	api.HandleFunc("/repair-orders/{key}/archive", h.handleArchive).Methods(http.MethodPost)
}

// Router возвращает роутер с маршрутами Handler.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseArchiveStatus(r.URL.Query().Get("archiveStatus"))
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	res, err := h.svc.ListRepairOrders(r.Context(), status)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, toDTOs(res.Data))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	res, err := h.svc.GetByID(r.Context(), key)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, toDTO(res.Data))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body RepairOrderDTO
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, "create", err)
		return
	}
	order, err := body.toOrder()
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	res, err := h.svc.Create(r.Context(), order)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	respondSourced(w, http.StatusCreated, res.Source, res.Recovered, toDTO(res.Data))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	var body PatchDTO
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, "update", err)
		return
	}
	patch, err := body.toPatch()
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	res, err := h.svc.Update(r.Context(), key, patch)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, toDTO(res.Data))
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.fail(w, "update status", err)
		return
	}
	var body StatusRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, "update status", err)
		return
	}
	if body.Status == "" {
		h.fail(w, "update status", fmt.Errorf("%w: status is required", errInvalidRequest))
		return
	}
	res, err := h.svc.UpdateStatus(r.Context(), key, body.Status)
	if err != nil {
		h.fail(w, "update status", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, toDTO(res.Data))
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.fail(w, "archive", err)
		return
	}
	var body ArchiveRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, "archive", err)
		return
	}
	target, err := domain.ParseArchiveStatus(body.Target)
	if err == nil && !target.Terminal() {
		err = domain.CanTransition(domain.ArchiveActive, target)
	}
	if err != nil {
		h.fail(w, "archive", err)
		return
	}
	res, err := h.svc.Archive(r.Context(), key, target)
	if err != nil {
		h.fail(w, "archive", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, toDTO(res.Data))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	res, err := h.svc.Delete(r.Context(), key)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	setSource(w, res.Source, res.Recovered)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteByNumber(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteByOrderNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.fail(w, "delete by number", err)
		return
	}
	setSource(w, res.Source, res.Recovered)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetDashboardStats(r.Context())
	if err != nil {
		h.fail(w, "dashboard", err)
		return
	}
	respondSourced(w, http.StatusOK, res.Source, res.Recovered, res.Data)
}

func (h *Handler) handleBackendStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.backendStatus())
}

func (h *Handler) handleBackendReset(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetFallbackState()
	if r.URL.Query().Get("metrics") == "true" {
		h.svc.ResetMetrics()
	}
	h.logger.Info("Fallback state reset by operator")
	respondJSON(w, http.StatusOK, h.backendStatus())
}

func (h *Handler) handleRetryInterval(w http.ResponseWriter, r *http.Request) {
	var body RetryIntervalRequest
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, "retry interval", err)
		return
	}
	d, err := time.ParseDuration(body.Interval)
	if err != nil || d <= 0 {
		h.fail(w, "retry interval", fmt.Errorf("%w: interval must be a positive duration", errInvalidRequest))
		return
	}
	h.svc.SetRetryInterval(d)
	h.logger.WithField("interval", d).Info("Primary retry interval changed")
	respondJSON(w, http.StatusOK, h.backendStatus())
}

func (h *Handler) backendStatus() BackendStatus {
	fallback := h.svc.InFallbackMode()
	active := domain.BackendRelational
	if fallback {
		active = domain.BackendWorkbook
	}
	return BackendStatus{ActiveBackend: active, FallbackMode: fallback, Metrics: h.svc.Metrics()}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithField("operation", op)
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("request failed")
	case status == http.StatusBadRequest && errors.Is(err, domain.ErrIdentifierMismatch):
		entry.Warn("identifier mismatch")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case domain.IsBothFailed(err):
		return http.StatusServiceUnavailable
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNumberTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdentifierMismatch),
		errors.Is(err, errInvalidRequest),
		domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pathKey(r *http.Request) (domain.OrderKey, error) {
	return domain.ParseOrderKey(domain.KeyKind(r.URL.Query().Get("by")), mux.Vars(r)["key"])
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode body: %v", errInvalidRequest, err)
	}
	return nil
}

func setSource(w http.ResponseWriter, source failover.Source, recovered bool) {
	w.Header().Set(HeaderDataSource, string(source.Backend()))
	if recovered {
		w.Header().Set(HeaderRecovered, "true")
	}
}

func respondSourced(w http.ResponseWriter, status int, source failover.Source, recovered bool, payload any) {
	setSource(w, source, recovered)
	respondJSON(w, status, payload)
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

var _ Service = (*failover.Service)(nil)
