package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/pkg/models"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Fixed width so MAX() over the text column orders chronologically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const screenColumns = `id, public_slug, public_token, broadcast_code, background_color, font_family,
	is_active, updated_at, COALESCE(layout_snapshot_version, '')`

// SQLiteStore implements Store and Writer on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens the database at path (or ":memory:") and migrates it to
// the latest schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Opened SQLite store", zap.String("path", path))

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// migrateUp runs all pending embedded migrations. The caller owns db.
func migrateUp(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveRotations(ctx context.Context, screenID string) ([]models.RotationEntry, error) {
	return listRotations(ctx, s.db, screenID)
}

func listRotations(ctx context.Context, q sqlQuerier, screenID string) ([]models.RotationEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, screen_id, template_id, full_editor_template_id, display_order,
			display_duration, transition_effect, transition_duration, is_active, updated_at
		FROM screen_template_rotations
		WHERE screen_id = ? AND is_active = 1
		ORDER BY display_order ASC, rowid ASC`, screenID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotations: %w", err)
	}
	defer rows.Close()

	entries := []models.RotationEntry{}
	for rows.Next() {
		var (
			e       models.RotationEntry
			updated string
		)
		if err := rows.Scan(&e.ID, &e.ScreenID, &e.TemplateID, &e.FullEditorTemplateID, &e.DisplayOrder,
			&e.DisplayDuration, &e.TransitionEffect, &e.TransitionDuration, &e.IsActive, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan rotation: %w", err)
		}
		if e.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
			return nil, fmt.Errorf("rotation %s: bad updated_at %q: %w", e.ID, updated, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rotations: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) GetScreen(ctx context.Context, id string) (*models.Screen, error) {
	return queryScreen(ctx, s.db, `SELECT `+screenColumns+` FROM screens WHERE id = ?`, id)
}

func (s *SQLiteStore) FindScreen(ctx context.Context, field Field, value string, activeOnly bool) (*models.Screen, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	var (
		where string
		arg   interface{} = value
	)
	switch field {
	case FieldID, FieldPublicSlug, FieldPublicToken, FieldBroadcastCode:
		where = string(field) + ` = ?`
	case FieldBroadcastNumber:
		n, ok := BroadcastNumber(value)
		if !ok {
			return nil, ErrNotFound
		}
		where = `broadcast_code != '' AND broadcast_code NOT GLOB '*[^0-9]*' AND CAST(broadcast_code AS INTEGER) = ?`
		arg = n
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	if activeOnly {
		where += ` AND is_active = 1`
	}

	return queryScreen(ctx, s.db, `SELECT `+screenColumns+` FROM screens WHERE `+where+` ORDER BY rowid LIMIT 1`, arg)
}

func queryScreen(ctx context.Context, q sqlQuerier, query string, args ...interface{}) (*models.Screen, error) {
	var (
		sc      models.Screen
		updated string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&sc.ID, &sc.PublicSlug, &sc.PublicToken,
		&sc.BroadcastCode, &sc.BackgroundColor, &sc.FontFamily, &sc.IsActive, &updated, &sc.LayoutSnapshotVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query screen: %w", err)
	}
	if sc.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
		return nil, fmt.Errorf("screen %s: bad updated_at %q: %w", sc.ID, updated, err)
	}
	return &sc, nil
}

func (s *SQLiteStore) SetSnapshotVersion(ctx context.Context, screenID, version string, rev Revision) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		screen, err := queryScreen(ctx, tx, `SELECT `+screenColumns+` FROM screens WHERE id = ?`, screenID)
		if err != nil {
			return err
		}
		rotations, err := listRotations(ctx, tx, screenID)
		if err != nil {
			return err
		}
		if !RevisionOf(screen, rotations).Matches(rev) {
			return ErrStale
		}

		if _, err := tx.ExecContext(ctx, `UPDATE screens SET layout_snapshot_version = ? WHERE id = ?`, version, screenID); err != nil {
			return fmt.Errorf("failed to set snapshot version: %w", err)
		}
		return nil
	})
}

// UpsertScreen inserts or replaces a screen.
func (s *SQLiteStore) UpsertScreen(ctx context.Context, screen models.Screen) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stamp, err := s.nextStamp(ctx, tx, screen.ID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO screens (id, public_slug, public_token, broadcast_code, background_color, font_family,
				is_active, updated_at, layout_snapshot_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT(id) DO UPDATE SET
				public_slug = excluded.public_slug,
				public_token = excluded.public_token,
				broadcast_code = excluded.broadcast_code,
				background_color = excluded.background_color,
				font_family = excluded.font_family,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at,
				layout_snapshot_version = NULL`,
			screen.ID, screen.PublicSlug, screen.PublicToken, screen.BroadcastCode, screen.BackgroundColor,
			screen.FontFamily, screen.IsActive, stamp)
		if err != nil {
			return fmt.Errorf("failed to upsert screen: %w", err)
		}
		return nil
	})
}

// UpsertRotation inserts or replaces a rotation entry and touches its screen.
func (s *SQLiteStore) UpsertRotation(ctx context.Context, e models.RotationEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stamp, err := s.nextStamp(ctx, tx, e.ScreenID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO screen_template_rotations (id, screen_id, template_id, full_editor_template_id, display_order,
				display_duration, transition_effect, transition_duration, is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				template_id = excluded.template_id,
				full_editor_template_id = excluded.full_editor_template_id,
				display_order = excluded.display_order,
				display_duration = excluded.display_duration,
				transition_effect = excluded.transition_effect,
				transition_duration = excluded.transition_duration,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			e.ID, e.ScreenID, e.TemplateID, e.FullEditorTemplateID, e.DisplayOrder,
			e.DisplayDuration, e.TransitionEffect, e.TransitionDuration, e.IsActive, stamp)
		if err != nil {
			return fmt.Errorf("failed to upsert rotation: %w", err)
		}
		return s.touchScreen(ctx, tx, e.ScreenID, stamp)
	})
}

// DeleteRotation removes a rotation entry and touches its screen.
func (s *SQLiteStore) DeleteRotation(ctx context.Context, screenID, rotationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM screen_template_rotations WHERE id = ? AND screen_id = ?`, rotationID, screenID)
		if err != nil {
			return fmt.Errorf("failed to delete rotation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		stamp, err := s.nextStamp(ctx, tx, screenID)
		if err != nil {
			return err
		}
		return s.touchScreen(ctx, tx, screenID, stamp)
	})
}

func (s *SQLiteStore) touchScreen(ctx context.Context, tx *sql.Tx, screenID, stamp string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE screens SET updated_at = ?, layout_snapshot_version = NULL WHERE id = ?`, stamp, screenID)
	if err != nil {
		return fmt.Errorf("failed to touch screen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// nextStamp returns a timestamp later than anything already recorded for the
// screen and its rotations.
func (s *SQLiteStore) nextStamp(ctx context.Context, tx *sql.Tx, screenID string) (string, error) {
	now := s.now().UTC()

	var latest sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(ts) FROM (
			SELECT updated_at AS ts FROM screens WHERE id = ?
			UNION ALL
			SELECT updated_at AS ts FROM screen_template_rotations WHERE screen_id = ?
		)`, screenID, screenID).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("failed to read latest update: %w", err)
	}
	if latest.Valid {
		if prev, err := time.Parse(sqliteTimeFormat, latest.String); err == nil && !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
	}
	return now.Format(sqliteTimeFormat), nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
