package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/togglr-project/togglr-sub001/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS features (
	id                 TEXT PRIMARY KEY,
	environment_key    TEXT NOT NULL,
	key                TEXT NOT NULL,
	master_enabled     BOOLEAN NOT NULL,
	enabled            BOOLEAN NOT NULL,
	version            INTEGER NOT NULL DEFAULT 0,
	last_transition_id TEXT NOT NULL DEFAULT '',
	last_transition_at TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE (environment_key, key)
);

CREATE TABLE IF NOT EXISTS schedules (
	id            TEXT PRIMARY KEY,
	feature_id    TEXT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	cron_expr     TEXT NOT NULL DEFAULT '',
	cron_duration TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	timezone      TEXT NOT NULL,
	starts_at     TEXT,
	ends_at       TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS schedules_feature_id ON schedules(feature_id);

CREATE TABLE IF NOT EXISTS transitions (
	id           TEXT PRIMARY KEY,
	feature_id   TEXT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
	scheduled_at TEXT NOT NULL,
	enabled      BOOLEAN NOT NULL,
	applied_at   TEXT NOT NULL,
	node_id      TEXT NOT NULL DEFAULT '',
	recovery     BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS transitions_feature_id ON transitions(feature_id);
`

// SQLiteStorage implements the Storage interface on a pure Go SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path. ":memory:"
// gives a private in-memory database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection: in-memory databases are per connection and the
	// foreign_keys pragma is too.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize sqlite database: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// timeLayout is fixed width so stored instants sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isConstraint(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func (s *SQLiteStorage) featureExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM features WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("feature %s: %w", id, storage.ErrNotFound)
	}
	return err
}

func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Feature operations

const featureColumns = `id, environment_key, key, master_enabled, enabled, version,
	last_transition_id, last_transition_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(row rowScanner) (*storage.Feature, error) {
	var (
		f                    storage.Feature
		lastAt               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&f.ID, &f.EnvironmentKey, &f.Key, &f.MasterEnabled, &f.Enabled, &f.Version,
		&f.LastTransitionID, &lastAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if f.LastTransitionAt, err = parseNullTime(lastAt); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStorage) CreateFeature(ctx context.Context, feature *storage.Feature) error {
	now := time.Now()
	if feature.CreatedAt.IsZero() {
		feature.CreatedAt = now
	}
	feature.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO features (`+featureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feature.ID, feature.EnvironmentKey, feature.Key, feature.MasterEnabled, feature.Enabled, feature.Version,
		feature.LastTransitionID, formatNullTime(feature.LastTransitionAt),
		formatTime(feature.CreatedAt), formatTime(feature.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("feature %s (%s/%s): %w", feature.ID, feature.EnvironmentKey, feature.Key, storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert feature: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetFeature(ctx context.Context, featureID string) (*storage.Feature, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features WHERE id = ?`, featureID)
	f, err := scanFeature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %s: %w", featureID, storage.ErrNotFound)
	}
	return f, err
}

func (s *SQLiteStorage) GetFeatureByKey(ctx context.Context, environmentKey, key string) (*storage.Feature, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features
		WHERE environment_key = ? AND key = ?`, environmentKey, key)
	f, err := scanFeature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %s/%s: %w", environmentKey, key, storage.ErrNotFound)
	}
	return f, err
}

func (s *SQLiteStorage) UpdateFeature(ctx context.Context, feature *storage.Feature) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanFeature(tx.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features WHERE id = ?`, feature.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("feature %s: %w", feature.ID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}

		// Environment and key are identity
		feature.EnvironmentKey = current.EnvironmentKey
		feature.Key = current.Key
		feature.CreatedAt = current.CreatedAt
		feature.Version = current.Version + 1
		feature.UpdatedAt = time.Now()

		_, err = tx.ExecContext(ctx, `UPDATE features SET master_enabled = ?, enabled = ?, version = ?,
			last_transition_id = ?, last_transition_at = ?, updated_at = ? WHERE id = ?`,
			feature.MasterEnabled, feature.Enabled, feature.Version, feature.LastTransitionID,
			formatNullTime(feature.LastTransitionAt), formatTime(feature.UpdatedAt), feature.ID)
		return err
	})
}

// DeleteFeature removes the feature; schedules and transitions follow via
// ON DELETE CASCADE
func (s *SQLiteStorage) DeleteFeature(ctx context.Context, featureID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, featureID)
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("feature %s: %w", featureID, storage.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) ListFeatures(ctx context.Context) ([]*storage.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+featureColumns+` FROM features ORDER BY environment_key, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []*storage.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// Schedule operations

const scheduleColumns = `id, feature_id, kind, cron_expr, cron_duration, action, timezone,
	starts_at, ends_at, created_at, updated_at`

func scanSchedule(row rowScanner) (*storage.Schedule, error) {
	var (
		sc                   storage.Schedule
		startsAt, endsAt     sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&sc.ID, &sc.FeatureID, &sc.Kind, &sc.CronExpr, &sc.CronDuration, &sc.Action, &sc.Timezone,
		&startsAt, &endsAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if sc.StartsAt, err = parseNullTime(startsAt); err != nil {
		return nil, err
	}
	if sc.EndsAt, err = parseNullTime(endsAt); err != nil {
		return nil, err
	}
	if sc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *SQLiteStorage) CreateSchedule(ctx context.Context, schedule *storage.Schedule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.featureExists(ctx, tx, schedule.FeatureID); err != nil {
			return err
		}

		now := time.Now()
		if schedule.CreatedAt.IsZero() {
			schedule.CreatedAt = now
		}
		schedule.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `INSERT INTO schedules (`+scheduleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			schedule.ID, schedule.FeatureID, schedule.Kind, schedule.CronExpr, schedule.CronDuration,
			schedule.Action, schedule.Timezone, formatNullTime(schedule.StartsAt), formatNullTime(schedule.EndsAt),
			formatTime(schedule.CreatedAt), formatTime(schedule.UpdatedAt))
		if isConstraint(err) {
			return fmt.Errorf("schedule %s: %w", schedule.ID, storage.ErrAlreadyExists)
		}
		return err
	})
}

func (s *SQLiteStorage) GetSchedule(ctx context.Context, scheduleID string) (*storage.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, scheduleID)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, storage.ErrNotFound)
	}
	return sc, err
}

// UpdateSchedule replaces a schedule in full. ID, owner and CreatedAt are
// immutable.
func (s *SQLiteStorage) UpdateSchedule(ctx context.Context, schedule *storage.Schedule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanSchedule(tx.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, schedule.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schedule %s: %w", schedule.ID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}

		schedule.FeatureID = current.FeatureID
		schedule.CreatedAt = current.CreatedAt
		schedule.UpdatedAt = time.Now()

		_, err = tx.ExecContext(ctx, `UPDATE schedules SET kind = ?, cron_expr = ?, cron_duration = ?, action = ?,
			timezone = ?, starts_at = ?, ends_at = ?, updated_at = ? WHERE id = ?`,
			schedule.Kind, schedule.CronExpr, schedule.CronDuration, schedule.Action, schedule.Timezone,
			formatNullTime(schedule.StartsAt), formatNullTime(schedule.EndsAt), formatTime(schedule.UpdatedAt), schedule.ID)
		return err
	})
}

func (s *SQLiteStorage) DeleteSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schedule %s: %w", scheduleID, storage.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) ListSchedulesByFeatureID(ctx context.Context, featureID string) ([]*storage.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules
		WHERE feature_id = ? ORDER BY created_at, id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*storage.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// Transition operations

func (s *SQLiteStorage) CreateTransition(ctx context.Context, transition *storage.Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.featureExists(ctx, tx, transition.FeatureID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO transitions
			(id, feature_id, scheduled_at, enabled, applied_at, node_id, recovery)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			transition.ID, transition.FeatureID, formatTime(transition.ScheduledAt), transition.Enabled,
			formatTime(transition.AppliedAt), transition.NodeID, transition.Recovery)
		if isConstraint(err) {
			return fmt.Errorf("transition %s: %w", transition.ID, storage.ErrAlreadyExists)
		}
		return err
	})
}

func (s *SQLiteStorage) ListTransitionsByFeatureID(ctx context.Context, featureID string) ([]*storage.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, feature_id, scheduled_at, enabled, applied_at, node_id, recovery
		FROM transitions WHERE feature_id = ? ORDER BY scheduled_at, id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*storage.Transition
	for rows.Next() {
		var (
			tr                     storage.Transition
			scheduledAt, appliedAt string
		)
		if err := rows.Scan(&tr.ID, &tr.FeatureID, &scheduledAt, &tr.Enabled, &appliedAt, &tr.NodeID, &tr.Recovery); err != nil {
			return nil, err
		}
		if tr.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, err
		}
		if tr.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, err
		}
		transitions = append(transitions, &tr)
	}
	return transitions, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
