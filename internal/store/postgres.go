package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/pkg/models"
)

// PostgresStore reads the admin console's Postgres schema. It never writes
// anything except the snapshot version.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgScreenColumns = `id::text, COALESCE(public_slug, ''), COALESCE(public_token, ''),
	COALESCE(broadcast_code::text, ''), COALESCE(background_color, ''), COALESCE(font_family, ''),
	COALESCE(is_active, false), updated_at, COALESCE(layout_snapshot_version, '')`

// OpenPostgres connects a pool to databaseURL and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	logger.Info("Connected to Postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database))

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (p *PostgresStore) ListActiveRotations(ctx context.Context, screenID string) ([]models.RotationEntry, error) {
	return pgListRotations(ctx, p.pool, screenID)
}

// pgListRotations reads the admin console's screen_template_rotations table.
func pgListRotations(ctx context.Context, q pgQuerier, screenID string) ([]models.RotationEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, screen_id::text, COALESCE(template_id::text, ''), COALESCE(full_editor_template_id::text, ''),
			COALESCE(display_order, 0), display_duration::text, COALESCE(transition_effect, ''),
			transition_duration::text, is_active, updated_at
		FROM screen_template_rotations
		WHERE screen_id::text = $1 AND is_active = true
		ORDER BY display_order ASC, created_at ASC, id ASC`, screenID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotations: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RotationEntry, error) {
		var e models.RotationEntry
		err := row.Scan(&e.ID, &e.ScreenID, &e.TemplateID, &e.FullEditorTemplateID, &e.DisplayOrder,
			&e.DisplayDuration, &e.TransitionEffect, &e.TransitionDuration, &e.IsActive, &e.UpdatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rotations: %w", err)
	}
	if entries == nil {
		entries = []models.RotationEntry{}
	}
	return entries, nil
}

func (p *PostgresStore) GetScreen(ctx context.Context, id string) (*models.Screen, error) {
	return pgQueryScreen(ctx, p.pool, `SELECT `+pgScreenColumns+` FROM screens WHERE id::text = $1`, id)
}

func (p *PostgresStore) FindScreen(ctx context.Context, field Field, value string, activeOnly bool) (*models.Screen, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	var (
		where string
		arg   any = value
	)
	switch field {
	case FieldID:
		where = `id::text = $1`
	case FieldPublicSlug, FieldPublicToken:
		where = string(field) + ` = $1`
	case FieldBroadcastCode:
		where = `broadcast_code::text = $1`
	case FieldBroadcastNumber:
		n, ok := BroadcastNumber(value)
		if !ok {
			return nil, ErrNotFound
		}
		where = `broadcast_code::text ~ '^[0-9]+$' AND broadcast_code::text::numeric = $1`
		arg = n
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	if activeOnly {
		where += ` AND is_active = true`
	}

	return pgQueryScreen(ctx, p.pool, `SELECT `+pgScreenColumns+` FROM screens WHERE `+where+` ORDER BY created_at ASC LIMIT 1`, arg)
}

func pgQueryScreen(ctx context.Context, q pgQuerier, query string, args ...any) (*models.Screen, error) {
	var s models.Screen
	err := q.QueryRow(ctx, query, args...).Scan(&s.ID, &s.PublicSlug, &s.PublicToken, &s.BroadcastCode,
		&s.BackgroundColor, &s.FontFamily, &s.IsActive, &s.UpdatedAt, &s.LayoutSnapshotVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query screen: %w", err)
	}
	return &s, nil
}

// SetSnapshotVersion locks the screen row so an admin edit of the screen
// cannot interleave with the revision check.
func (p *PostgresStore) SetSnapshotVersion(ctx context.Context, screenID, version string, rev Revision) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		screen, err := pgQueryScreen(ctx, tx, `SELECT `+pgScreenColumns+` FROM screens WHERE id::text = $1 FOR UPDATE`, screenID)
		if err != nil {
			return err
		}
		rotations, err := pgListRotations(ctx, tx, screenID)
		if err != nil {
			return err
		}
		if !RevisionOf(screen, rotations).Matches(rev) {
			return ErrStale
		}

		if _, err := tx.Exec(ctx, `UPDATE screens SET layout_snapshot_version = $1 WHERE id::text = $2`, version, screenID); err != nil {
			return fmt.Errorf("failed to set snapshot version: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
