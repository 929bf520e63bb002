package domain

import "time"

// DashboardStats — сводка по заказам для главной страницы.
// Формулы расчёта различаются между бэкендами и не сводятся к одной.
type DashboardStats struct {
	TotalActive        int            `json:"totalActive"`
	Overdue            int            `json:"overdue"`
	DueToday           int            `json:"dueToday"`
	OnTrack            int            `json:"onTrack"`
	TotalEstimatedCost float64        `json:"totalEstimatedCost"`
	TotalFinalCost     float64        `json:"totalFinalCost"`
	ByStatus           map[string]int `json:"byStatus"`
	Paid               int            `json:"paid"`
	Net                int            `json:"net"`
	Returned           int            `json:"returned"`
}

// Day возвращает начало календарного дня t в UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DueState классифицирует дату следующего обновления относительно дня today.
type DueState int

const (
	DueUnknown DueState = iota
	DueOverdue
	DueToday
	DueLater
)

// ClassifyDue сравнивает NextUpdateDue заказа с днём today.
func (o *RepairOrder) ClassifyDue(today time.Time) DueState {
	if o.NextUpdateDue == nil {
		return DueUnknown
	}
	due := Day(*o.NextUpdateDue)
	day := Day(today)
	switch {
	case due.Before(day):
		return DueOverdue
	case due.Equal(day):
		return DueToday
	default:
		return DueLater
	}
}
