package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Схема таблиц заказов ведётся шагами: пара файлов NNNN_name.up.sql и NNNN_name.down.sql.
// Применённые шаги записываются в ros_schema_versions.
const (
	schemaStepsGlob   = "sql/migrations/*.sql"
	schemaLockKey     = int64(0x524f53)
	schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS ros_schema_versions (
    version BIGINT PRIMARY KEY,
    step TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	schemaStepFile = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type schemaStep struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s schemaStep) String() string {
	return fmt.Sprintf("%04d_%s", s.Version, s.Name)
}

type appliedStep struct {
	Version   int64
	AppliedAt time.Time
}

// SchemaStatus описывает состояние схемы таблиц заказов.
type SchemaStatus struct {
	Version int64
	Applied int
	// Pending — ещё не применённые шаги в порядке применения.
	Pending []string
	// LastAppliedAt — время последнего применённого шага, нулевое для пустой схемы.
	LastAppliedAt time.Time
}

// MigrateUp применяет шаги схемы. steps=0 применяет все недостающие.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, true, steps)
}

// MigrateDown откатывает последние steps шагов, минимум один.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, false, steps)
}

// MigrationStatus сообщает версию схемы и шаги, которые ещё не применены.
func (s *Store) MigrationStatus(ctx context.Context) (SchemaStatus, error) {
	if s == nil || s.db == nil {
		return SchemaStatus{}, fmt.Errorf("sql store is not initialized")
	}
	known, err := parseSchemaSteps(migrationsFS)
	if err != nil {
		return SchemaStatus{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.db.Conn(queryCtx)
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(queryCtx, schemaVersionsDDL); err != nil {
		return SchemaStatus{}, fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := loadAppliedSteps(queryCtx, conn)
	if err != nil {
		return SchemaStatus{}, err
	}
	return summarize(known, applied), nil
}

func summarize(known []schemaStep, applied []appliedStep) SchemaStatus {
	status := SchemaStatus{Applied: len(applied), Pending: []string{}}
	done := make(map[int64]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
		if a.Version > status.Version {
			status.Version = a.Version
			status.LastAppliedAt = a.AppliedAt
		}
	}
	for _, step := range known {
		if !done[step.Version] {
			status.Pending = append(status.Pending, step.String())
		}
	}
	return status
}

func (s *Store) migrate(ctx context.Context, up bool, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}

	known, err := parseSchemaSteps(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	// SQLite работает через одно соединение, отдельная блокировка ему не нужна.
	if s.dialect == DialectPostgres {
		lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", schemaLockKey)
		}()
	}

	if _, err := conn.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := loadAppliedSteps(ctx, conn)
	if err != nil {
		return err
	}

	plan, err := planSteps(known, applied, up, steps)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if err := s.runStep(ctx, conn, step, up); err != nil {
			return err
		}
	}
	return nil
}

// planSteps выбирает шаги: вверх — недостающие по возрастанию версии,
// вниз — применённые от последнего. steps<=0 вверх означает все.
func planSteps(known []schemaStep, applied []appliedStep, up bool, steps int) ([]schemaStep, error) {
	byVersion := make(map[int64]schemaStep, len(known))
	for _, step := range known {
		byVersion[step.Version] = step
	}
	done := make(map[int64]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	var plan []schemaStep
	if up {
		for _, step := range known {
			if done[step.Version] {
				continue
			}
			plan = append(plan, step)
			if steps > 0 && len(plan) == steps {
				break
			}
		}
		return plan, nil
	}

	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		step, ok := byVersion[applied[i].Version]
		if !ok {
			return nil, fmt.Errorf("cannot roll back unknown schema version %d", applied[i].Version)
		}
		plan = append(plan, step)
	}
	return plan, nil
}

func (s *Store) runStep(ctx context.Context, conn *sql.Conn, step schemaStep, up bool) error {
	direction, body := "up", step.Up
	record := s.rebind(`INSERT INTO ros_schema_versions (version, step, applied_at) VALUES ($1, $2, $3)`)
	args := []any{step.Version, step.Name, time.Now().UTC().Format(time.RFC3339)}
	if !up {
		direction, body = "down", step.Down
		record = s.rebind(`DELETE FROM ros_schema_versions WHERE version = $1`)
		args = args[:1]
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema step %s %s: %w", step, direction, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("schema step %s %s: %w", step, direction, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record schema step %s %s: %w", step, direction, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema step %s %s: %w", step, direction, err)
	}
	return nil
}

// loadAppliedSteps возвращает применённые шаги по возрастанию версии.
func loadAppliedSteps(ctx context.Context, conn *sql.Conn) ([]appliedStep, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM ros_schema_versions ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied schema steps: %w", err)
	}
	defer rows.Close()

	var out []appliedStep
	for rows.Next() {
		var (
			a  appliedStep
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, fmt.Errorf("scan applied schema step: %w", err)
		}
		// Неразборчивое время не мешает версионированию.
		a.AppliedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied schema steps: %w", err)
	}
	return out, nil
}

// parseSchemaSteps читает шаги схемы; у каждой версии должны быть оба направления.
func parseSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, schemaStepsGlob)
	if err != nil {
		return nil, fmt.Errorf("list schema steps: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no schema step files found")
	}

	steps := make(map[int64]*schemaStep)
	for _, file := range files {
		base := path.Base(file)
		m := schemaStepFile.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("invalid schema step file name: %s", base)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse schema version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read schema step %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("schema step file is empty: %s", base)
		}

		step, ok := steps[version]
		if !ok {
			step = &schemaStep{Version: version, Name: m[2]}
			steps[version] = step
		} else if step.Name != m[2] {
			return nil, fmt.Errorf("schema step name mismatch for version %d: %s vs %s", version, step.Name, m[2])
		}

		target := &step.Up
		if m[3] == "down" {
			target = &step.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s file for schema version %d", m[3], version)
		}
		*target = body
	}

	out := make([]schemaStep, 0, len(steps))
	for _, step := range steps {
		if step.Up == "" || step.Down == "" {
			return nil, fmt.Errorf("schema step %s must have both up and down files", step)
		}
		out = append(out, *step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
