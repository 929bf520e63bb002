package domain

import (
	"context"
	"time"
)

// RepairOrderRepository — общий контракт обоих бэкендов.
// Реализации возвращают ErrRepairOrderNotFound для отсутствующих заказов
// и *IdentifierMismatchError для ключа чужого бэкенда.
type RepairOrderRepository interface {
	// List возвращает заказы с заданным архивным статусом.
	List(ctx context.Context, status ArchiveStatus) ([]RepairOrder, error)
	// Get ищет заказ по ключу во всех архивных статусах.
	Get(ctx context.Context, key OrderKey) (RepairOrder, error)
	// Create сохраняет новый заказ в статусе ACTIVE.
	Create(ctx context.Context, order RepairOrder) (RepairOrder, error)
	// Update применяет частичное обновление.
	Update(ctx context.Context, key OrderKey, patch RepairOrderPatch) (RepairOrder, error)
	// UpdateStatus меняет рабочий статус и дату статуса.
	UpdateStatus(ctx context.Context, key OrderKey, status string, at time.Time) (RepairOrder, error)
	// Delete удаляет заказ безвозвратно.
	Delete(ctx context.Context, key OrderKey) error
	// Archive переводит заказ в конечный архивный статус.
	Archive(ctx context.Context, key OrderKey, target ArchiveStatus) (RepairOrder, error)
	// DashboardStats считает сводку по правилам конкретного бэкенда.
	DashboardStats(ctx context.Context) (DashboardStats, error)
}

// HealthProber — лёгкая проверка доступности бэкенда без изменения данных.
type HealthProber interface {
	CheckHealth(ctx context.Context) error
}
