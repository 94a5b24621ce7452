package watermarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, entity string) (time.Time, bool, error) {
	var marker time.Time
	err := r.db.QueryRowContext(ctx, `SELECT marker FROM sync_watermarks WHERE entity = $1`, entity).Scan(&marker)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("db error: %w", err)
	}
	return marker, true, nil
}

func (r *PostgresRepository) Advance(ctx context.Context, entity string, marker time.Time) error {
	query :=
		`INSERT INTO sync_watermarks (entity, marker, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (entity) DO UPDATE SET marker = EXCLUDED.marker, updated_at = now()
		 WHERE sync_watermarks.marker < EXCLUDED.marker`

	if _, err := r.db.ExecContext(ctx, query, entity, marker); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Watermark, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity, marker, updated_at FROM sync_watermarks ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Watermark
	for rows.Next() {
		var w models.Watermark
		if err := rows.Scan(&w.Entity, &w.Marker, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}
