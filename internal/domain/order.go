package domain

import "time"

// Рабочие статусы ремонта. Набор открытый: бэкенды могут вернуть любой текст,
// константы нужны для расчёта дашборда и валидации в UI.
const (
	StatusToSend        = "TO SEND"
	StatusWaitingQuote  = "WAITING QUOTE"
	StatusApproved      = "APPROVED"
	StatusBeingRepaired = "BEING REPAIRED"
	StatusShipping      = "SHIPPING"
	StatusReceived      = "RECEIVED"
	StatusPaid          = "PAID"
	StatusScrapped      = "SCRAPPED"
)

// RepairOrder агрегирует состояние заказа на внешний ремонт детали.
type RepairOrder struct {
	// Key — нативный идентификатор бэкенда, из которого прочитан заказ.
	// Для двух хранилищ он разный, поэтому бизнес-ключом служит OrderNumber.
	Key OrderKey

	OrderNumber     string
	ShopName        string
	PartNumber      string
	SerialNumber    string
	PartDescription string
	RequiredWork    string

	DateCreated           *time.Time
	DateDroppedOff        *time.Time
	EstimatedDeliveryDate *time.Time
	CurrentStatusDate     *time.Time
	LastUpdated           *time.Time
	NextUpdateDue         *time.Time

	EstimatedCost *float64
	FinalCost     *float64

	Notes         string
	CurrentStatus string
	ArchiveStatus ArchiveStatus
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *RepairOrder) ValidateInvariants() []error {
	var errs []error

	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if o.EstimatedCost != nil && *o.EstimatedCost < 0 {
		errs = append(errs, ErrCostNegative)
	}
	if o.FinalCost != nil && *o.FinalCost < 0 {
		errs = append(errs, ErrCostNegative)
	}
	if o.ArchiveStatus != "" && !o.ArchiveStatus.Valid() {
		errs = append(errs, ErrArchiveStatusInvalid)
	}

	return errs
}

// RepairOrderPatch описывает частичное обновление заказа: nil означает "не менять".
type RepairOrderPatch struct {
	ShopName        *string
	PartNumber      *string
	SerialNumber    *string
	PartDescription *string
	RequiredWork    *string

	DateDroppedOff        *time.Time
	EstimatedDeliveryDate *time.Time
	CurrentStatusDate     *time.Time
	LastUpdated           *time.Time
	NextUpdateDue         *time.Time

	EstimatedCost *float64
	FinalCost     *float64

	Notes         *string
	CurrentStatus *string
}

// Validate проверяет значения патча до обращения к хранилищу.
func (p RepairOrderPatch) Validate() error {
	if p.EstimatedCost != nil && *p.EstimatedCost < 0 {
		return ErrCostNegative
	}
	if p.FinalCost != nil && *p.FinalCost < 0 {
		return ErrCostNegative
	}
	return nil
}

// Apply возвращает копию заказа с применёнными изменениями.
// Номер заказа и архивный статус патчем не меняются.
func (p RepairOrderPatch) Apply(order RepairOrder) RepairOrder {
	setString(&order.ShopName, p.ShopName)
	setString(&order.PartNumber, p.PartNumber)
	setString(&order.SerialNumber, p.SerialNumber)
	setString(&order.PartDescription, p.PartDescription)
	setString(&order.RequiredWork, p.RequiredWork)
	setString(&order.Notes, p.Notes)
	setString(&order.CurrentStatus, p.CurrentStatus)

	setTime(&order.DateDroppedOff, p.DateDroppedOff)
	setTime(&order.EstimatedDeliveryDate, p.EstimatedDeliveryDate)
	setTime(&order.CurrentStatusDate, p.CurrentStatusDate)
	setTime(&order.LastUpdated, p.LastUpdated)
	setTime(&order.NextUpdateDue, p.NextUpdateDue)

	if p.EstimatedCost != nil {
		v := *p.EstimatedCost
		order.EstimatedCost = &v
	}
	if p.FinalCost != nil {
		v := *p.FinalCost
		order.FinalCost = &v
	}
	return order
}

// StatusPatch строит патч смены рабочего статуса на момент at.
func StatusPatch(status string, at time.Time) RepairOrderPatch {
	at = at.UTC()
	return RepairOrderPatch{
		CurrentStatus:     &status,
		CurrentStatusDate: &at,
		LastUpdated:       &at,
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setTime(dst **time.Time, src *time.Time) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
