package synclogs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, l *models.SyncLog) error {
	query :=
		`INSERT INTO sync_logs (run_id, phase, processed, created, updated, unchanged, failed, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`

	errs := l.Errors
	if errs == nil {
		errs = []string{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return err
	}

	c := l.Counts
	err = r.db.QueryRowContext(ctx, query, l.RunID, l.Phase,
		c.Processed, c.Created, c.Updated, c.Unchanged, c.Failed, string(payload)).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter, limit, offset int) ([]models.SyncLog, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		args = append(args, f.RunID)
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if f.Phase != "" {
		args = append(args, f.Phase)
		where = append(where, fmt.Sprintf("phase = $%d", len(args)))
	}

	query := `SELECT id, run_id, phase, processed, created, updated, unchanged, failed, errors, created_at FROM sync_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.SyncLog
	for rows.Next() {
		var (
			l       models.SyncLog
			payload []byte
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.Phase, &l.Counts.Processed, &l.Counts.Created, &l.Counts.Updated,
			&l.Counts.Unchanged, &l.Counts.Failed, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := json.Unmarshal(payload, &l.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of log %d: %w", l.ID, err)
		}
		result = append(result, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}
