package domain

import (
	"fmt"
	"time"
)

// Field — имя поля заказа, общее для кодеков обоих бэкендов.
type Field string

const (
	FieldOrderNumber           Field = "orderNumber"
	FieldDateCreated           Field = "dateCreated"
	FieldShopName              Field = "shopName"
	FieldPartNumber            Field = "partNumber"
	FieldSerialNumber          Field = "serialNumber"
	FieldPartDescription       Field = "partDescription"
	FieldRequiredWork          Field = "requiredWork"
	FieldDateDroppedOff        Field = "dateDroppedOff"
	FieldEstimatedCost         Field = "estimatedCost"
	FieldFinalCost             Field = "finalCost"
	FieldEstimatedDeliveryDate Field = "estimatedDeliveryDate"
	FieldCurrentStatus         Field = "currentStatus"
	FieldCurrentStatusDate     Field = "currentStatusDate"
	FieldLastUpdated           Field = "lastUpdated"
	FieldNextUpdateDue         Field = "nextUpdateDue"
	FieldNotes                 Field = "notes"
	FieldArchiveStatus         Field = "archiveStatus"
)

// FieldKind — тип значения поля.
type FieldKind int

const (
	KindText FieldKind = iota
	KindDate
	KindMoney
)

// FieldKindOf возвращает тип значения поля.
func FieldKindOf(f Field) FieldKind {
	switch f {
	case FieldDateCreated, FieldDateDroppedOff, FieldEstimatedDeliveryDate,
		FieldCurrentStatusDate, FieldLastUpdated, FieldNextUpdateDue:
		return KindDate
	case FieldEstimatedCost, FieldFinalCost:
		return KindMoney
	default:
		return KindText
	}
}

// Value возвращает значение поля: string, *time.Time или *float64.
func (o *RepairOrder) Value(f Field) any {
	if p := o.textField(f); p != nil {
		return *p
	}
	if p := o.dateField(f); p != nil {
		return *p
	}
	if p := o.moneyField(f); p != nil {
		return *p
	}
	if f == FieldArchiveStatus {
		return string(o.ArchiveStatus)
	}
	return nil
}

// SetValue записывает значение поля. Тип значения должен совпадать с FieldKindOf.
func (o *RepairOrder) SetValue(f Field, v any) error {
	if f == FieldArchiveStatus {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f, v)
		}
		o.ArchiveStatus = ArchiveStatus(s)
		return nil
	}
	if p := o.textField(f); p != nil {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", f, v)
		}
		*p = s
		return nil
	}
	if p := o.dateField(f); p != nil {
		t, ok := v.(*time.Time)
		if !ok {
			return fmt.Errorf("field %s: expected *time.Time, got %T", f, v)
		}
		*p = t
		return nil
	}
	if p := o.moneyField(f); p != nil {
		m, ok := v.(*float64)
		if !ok {
			return fmt.Errorf("field %s: expected *float64, got %T", f, v)
		}
		*p = m
		return nil
	}
	return fmt.Errorf("unknown field %s", f)
}

func (o *RepairOrder) textField(f Field) *string {
	switch f {
	case FieldOrderNumber:
		return &o.OrderNumber
	case FieldShopName:
		return &o.ShopName
	case FieldPartNumber:
		return &o.PartNumber
	case FieldSerialNumber:
		return &o.SerialNumber
	case FieldPartDescription:
		return &o.PartDescription
	case FieldRequiredWork:
		return &o.RequiredWork
	case FieldCurrentStatus:
		return &o.CurrentStatus
	case FieldNotes:
		return &o.Notes
	}
	return nil
}

func (o *RepairOrder) dateField(f Field) **time.Time {
	switch f {
	case FieldDateCreated:
		return &o.DateCreated
	case FieldDateDroppedOff:
		return &o.DateDroppedOff
	case FieldEstimatedDeliveryDate:
		return &o.EstimatedDeliveryDate
	case FieldCurrentStatusDate:
		return &o.CurrentStatusDate
	case FieldLastUpdated:
		return &o.LastUpdated
	case FieldNextUpdateDue:
		return &o.NextUpdateDue
	}
	return nil
}

func (o *RepairOrder) moneyField(f Field) **float64 {
	switch f {
	case FieldEstimatedCost:
		return &o.EstimatedCost
	case FieldFinalCost:
		return &o.FinalCost
	}
	return nil
}
