package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

// KeyDTO — нативный идентификатор заказа в ответе.
type KeyDTO struct {
	Kind  domain.KeyKind `json:"kind"`
	Value string         `json:"value"`
}

// RepairOrderDTO — заказ в JSON фасада. Даты — ISO-8601 строки.
type RepairOrderDTO struct {
	Key *KeyDTO `json:"key,omitempty"`

	OrderNumber     string `json:"orderNumber"`
	ShopName        string `json:"shopName"`
	PartNumber      string `json:"partNumber"`
	SerialNumber    string `json:"serialNumber"`
	PartDescription string `json:"partDescription"`
	RequiredWork    string `json:"requiredWork"`

	DateCreated           *string `json:"dateCreated,omitempty"`
	DateDroppedOff        *string `json:"dateDroppedOff,omitempty"`
	EstimatedDeliveryDate *string `json:"estimatedDeliveryDate,omitempty"`
	CurrentStatusDate     *string `json:"currentStatusDate,omitempty"`
	LastUpdated           *string `json:"lastUpdated,omitempty"`
	NextUpdateDue         *string `json:"nextUpdateDue,omitempty"`

	EstimatedCost *float64 `json:"estimatedCost,omitempty"`
	FinalCost     *float64 `json:"finalCost,omitempty"`

	Notes         string `json:"notes"`
	CurrentStatus string `json:"currentStatus"`
	ArchiveStatus string `json:"archiveStatus,omitempty"`
}

// PatchDTO — частичное обновление; отсутствующее поле не меняется.
type PatchDTO struct {
	ShopName        *string `json:"shopName"`
	PartNumber      *string `json:"partNumber"`
	SerialNumber    *string `json:"serialNumber"`
	PartDescription *string `json:"partDescription"`
	RequiredWork    *string `json:"requiredWork"`

	DateDroppedOff        *string `json:"dateDroppedOff"`
	EstimatedDeliveryDate *string `json:"estimatedDeliveryDate"`
	CurrentStatusDate     *string `json:"currentStatusDate"`
	LastUpdated           *string `json:"lastUpdated"`
	NextUpdateDue         *string `json:"nextUpdateDue"`

	EstimatedCost *float64 `json:"estimatedCost"`
	FinalCost     *float64 `json:"finalCost"`

	Notes         *string `json:"notes"`
	CurrentStatus *string `json:"currentStatus"`
}

// StatusRequest — смена рабочего статуса.
type StatusRequest struct {
	Status string `json:"status"`
}

// ArchiveRequest — перевод в архивную таблицу.
type ArchiveRequest struct {
	Target string `json:"target"`
}

// BackendStatus — ответ /api/backend/status.
type BackendStatus struct {
	ActiveBackend domain.Backend `json:"activeBackend"`
	FallbackMode  bool           `json:"fallbackMode"`
	Metrics       any            `json:"metrics"`
}

// RetryIntervalRequest — новый интервал повторной проверки основного бэкенда.
type RetryIntervalRequest struct {
	Interval string `json:"interval"`
}

func toDTO(order domain.RepairOrder) RepairOrderDTO {
	dto := RepairOrderDTO{
		OrderNumber:           order.OrderNumber,
		ShopName:              order.ShopName,
		PartNumber:            order.PartNumber,
		SerialNumber:          order.SerialNumber,
		PartDescription:       order.PartDescription,
		RequiredWork:          order.RequiredWork,
		DateCreated:           dateString(order.DateCreated),
		DateDroppedOff:        dateString(order.DateDroppedOff),
		EstimatedDeliveryDate: dateString(order.EstimatedDeliveryDate),
		CurrentStatusDate:     dateString(order.CurrentStatusDate),
		LastUpdated:           dateString(order.LastUpdated),
		NextUpdateDue:         dateString(order.NextUpdateDue),
		EstimatedCost:         order.EstimatedCost,
		FinalCost:             order.FinalCost,
		Notes:                 order.Notes,
		CurrentStatus:         order.CurrentStatus,
		ArchiveStatus:         string(order.ArchiveStatus),
	}
	if order.Key != nil {
		dto.Key = &KeyDTO{Kind: order.Key.Kind(), Value: order.Key.String()}
	}
	return dto
}

func toDTOs(orders []domain.RepairOrder) []RepairOrderDTO {
	out := make([]RepairOrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toDTO(o))
	}
	return out
}

// toOrder переводит тело запроса создания в заказ; архивный статус задаёт хранилище.
func (d RepairOrderDTO) toOrder() (domain.RepairOrder, error) {
	order := domain.RepairOrder{
		OrderNumber:     strings.TrimSpace(d.OrderNumber),
		ShopName:        d.ShopName,
		PartNumber:      d.PartNumber,
		SerialNumber:    d.SerialNumber,
		PartDescription: d.PartDescription,
		RequiredWork:    d.RequiredWork,
		EstimatedCost:   d.EstimatedCost,
		FinalCost:       d.FinalCost,
		Notes:           d.Notes,
		CurrentStatus:   d.CurrentStatus,
	}
	dates := []struct {
		name string
		raw  *string
		dst  **time.Time
	}{
		{"dateCreated", d.DateCreated, &order.DateCreated},
		{"dateDroppedOff", d.DateDroppedOff, &order.DateDroppedOff},
		{"estimatedDeliveryDate", d.EstimatedDeliveryDate, &order.EstimatedDeliveryDate},
		{"currentStatusDate", d.CurrentStatusDate, &order.CurrentStatusDate},
		{"lastUpdated", d.LastUpdated, &order.LastUpdated},
		{"nextUpdateDue", d.NextUpdateDue, &order.NextUpdateDue},
	}
	for _, f := range dates {
		t, err := parseDate(f.name, f.raw)
		if err != nil {
			return domain.RepairOrder{}, err
		}
		*f.dst = t
	}
	return order, nil
}

func (d PatchDTO) toPatch() (domain.RepairOrderPatch, error) {
	patch := domain.RepairOrderPatch{
		ShopName:        d.ShopName,
		PartNumber:      d.PartNumber,
		SerialNumber:    d.SerialNumber,
		PartDescription: d.PartDescription,
		RequiredWork:    d.RequiredWork,
		EstimatedCost:   d.EstimatedCost,
		FinalCost:       d.FinalCost,
		Notes:           d.Notes,
		CurrentStatus:   d.CurrentStatus,
	}
	dates := []struct {
		name string
		raw  *string
		dst  **time.Time
	}{
		{"dateDroppedOff", d.DateDroppedOff, &patch.DateDroppedOff},
		{"estimatedDeliveryDate", d.EstimatedDeliveryDate, &patch.EstimatedDeliveryDate},
		{"currentStatusDate", d.CurrentStatusDate, &patch.CurrentStatusDate},
		{"lastUpdated", d.LastUpdated, &patch.LastUpdated},
		{"nextUpdateDue", d.NextUpdateDue, &patch.NextUpdateDue},
	}
	for _, f := range dates {
		t, err := parseDate(f.name, f.raw)
		if err != nil {
			return domain.RepairOrderPatch{}, err
		}
		*f.dst = t
	}
	return patch, nil
}

// parseDate: пустая строка означает отсутствие даты.
func parseDate(name string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t := rostable.ParseDate(*raw)
	if t == nil {
		return nil, fmt.Errorf("%w: %s: invalid date %q", errInvalidRequest, name, *raw)
	}
	return t, nil
}

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := rostable.FormatDate(*t)
	return &s
}
