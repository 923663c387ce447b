package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"smartbin/internal/category"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresLog is the production Log backed by Postgres.
type PostgresLog struct {
	db *sql.DB
}

// OpenPostgres connects, tunes the pool, and runs pending migrations.
func OpenPostgres(dbURL string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrateUp(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresLog{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (p *PostgresLog) AppendClassification(ctx context.Context, ev *ClassificationEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO images (original_name, stored_name, path, class, angle, device_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.OriginalName, ev.StoredName, ev.Path, string(ev.Class), ev.Angle, ev.DeviceID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert classification: %v", ErrStorage, err)
	}
	return nil
}

func (p *PostgresLog) AppendLevel(ctx context.Context, m *LevelMeasurement) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO levels (device_id, class, level, measured_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		m.DeviceID, string(m.Class), m.Level, m.MeasuredAt).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("%w: insert level: %v", ErrStorage, err)
	}
	return nil
}

func (p *PostgresLog) Classifications(ctx context.Context, f Filter) ([]ClassificationEvent, error) {
	query := `SELECT original_name, stored_name, path, class, angle, device_id, created_at FROM images`
	where, args := buildFilter(f, "class", "created_at")
	query += where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query classifications: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []ClassificationEvent
	for rows.Next() {
		var ev ClassificationEvent
		var class string
		if err := rows.Scan(&ev.OriginalName, &ev.StoredName, &ev.Path, &class, &ev.Angle, &ev.DeviceID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan classification: %v", ErrStorage, err)
		}
		ev.Class = category.Category(class)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresLog) LevelHistory(ctx context.Context, f Filter) ([]LevelMeasurement, error) {
	query := `SELECT id, device_id, class, level, measured_at FROM levels`
	where, args := buildFilter(f, "class", "measured_at")
	query += where + ` ORDER BY measured_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query levels: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []LevelMeasurement
	for rows.Next() {
		var m LevelMeasurement
		var class string
		if err := rows.Scan(&m.ID, &m.DeviceID, &class, &m.Level, &m.MeasuredAt); err != nil {
			return nil, fmt.Errorf("%w: scan level: %v", ErrStorage, err)
		}
		m.Class = category.Category(class)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresLog) CurrentLevels(ctx context.Context) (map[category.Category]float64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT l.class, l.level
		FROM levels l
		INNER JOIN (
			SELECT class, MAX(measured_at) AS latest
			FROM levels
			GROUP BY class
		) latest_level
		ON l.class = latest_level.class AND l.measured_at = latest_level.latest`)
	if err != nil {
		return nil, fmt.Errorf("%w: query current levels: %v", ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[category.Category]float64)
	for rows.Next() {
		var class string
		var level float64
		if err := rows.Scan(&class, &level); err != nil {
			return nil, fmt.Errorf("%w: scan current level: %v", ErrStorage, err)
		}
		out[category.Category(class)] = level
	}
	return out, rows.Err()
}

func (p *PostgresLog) ClassificationCounts(ctx context.Context) (map[category.Category]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT class, COUNT(*) FROM images GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("%w: query stats: %v", ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[category.Category]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("%w: scan stats: %v", ErrStorage, err)
		}
		out[category.Category(class)] = n
	}
	return out, rows.Err()
}

func (p *PostgresLog) DeleteClassification(ctx context.Context, storedName string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM images WHERE stored_name = $1`, storedName)
	if err != nil {
		return fmt.Errorf("%w: delete classification: %v", ErrStorage, err)
	}
	return oneRowOrNotFound(res)
}

func (p *PostgresLog) DeleteLevel(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM levels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete level: %v", ErrStorage, err)
	}
	return oneRowOrNotFound(res)
}

func (p *PostgresLog) ResetLevels(ctx context.Context, deviceID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin reset: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, c := range category.All {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO levels (device_id, class, level, measured_at) VALUES ($1, $2, 0, $3)`,
			deviceID, string(c), now); err != nil {
			return fmt.Errorf("%w: reset %s: %v", ErrStorage, c, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit reset: %v", ErrStorage, err)
	}
	return nil
}

func (p *PostgresLog) Close() error { return p.db.Close() }

// DB exposes the underlying pool for collaborators that share the database
// (the auth user store).
func (p *PostgresLog) DB() *sql.DB { return p.db }

func oneRowOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// buildFilter renders the optional class/time-range constraints shared by
// both history queries.
func buildFilter(f Filter, classCol, timeCol string) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Class != "" {
		conds = append(conds, fmt.Sprintf("%s = %s", classCol, arg(string(f.Class))))
	}
	if !f.Since.IsZero() {
		conds = append(conds, fmt.Sprintf("%s >= %s", timeCol, arg(f.Since)))
	}
	if !f.Until.IsZero() {
		conds = append(conds, fmt.Sprintf("%s <= %s", timeCol, arg(f.Until)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}
