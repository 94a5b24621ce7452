package synchistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
)

const selectColumns = `SELECT id, started_at, finished_at, outcome, triggered_by, trigger_source, heartbeat_at FROM sync_history`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Begin(ctx context.Context, h *models.SyncHistory) error {
	query :=
		`INSERT INTO sync_history (id, started_at, triggered_by, trigger_source, heartbeat_at)
		 VALUES ($1, $2, $3, $4, $2)`

	_, err := r.db.ExecContext(ctx, query, h.ID, h.StartedAt, h.TriggeredBy, string(h.TriggerSource))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) End(ctx context.Context, runID string, outcome models.Outcome, finishedAt time.Time) error {
	query :=
		`UPDATE sync_history SET outcome = $2, finished_at = $3
		 WHERE id = $1 AND outcome IS NULL`

	res, err := r.db.ExecContext(ctx, query, runID, string(outcome), finishedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, runID); err != nil {
		return err
	}
	return common.ErrConflict
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, runID string, at time.Time) error {
	query :=
		`UPDATE sync_history SET heartbeat_at = GREATEST(heartbeat_at, $2)
		 WHERE id = $1 AND outcome IS NULL`

	res, err := r.db.ExecContext(ctx, query, runID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, runID); err != nil {
		return err
	}
	return common.ErrConflict
}

func (r *PostgresRepository) Get(ctx context.Context, runID string) (*models.SyncHistory, error) {
	return r.one(ctx, selectColumns+` WHERE id = $1`, runID)
}

func (r *PostgresRepository) Running(ctx context.Context) (*models.SyncHistory, error) {
	return r.one(ctx, selectColumns+` WHERE outcome IS NULL`)
}

func (r *PostgresRepository) LastFinished(ctx context.Context) (*models.SyncHistory, error) {
	return r.one(ctx, selectColumns+` WHERE outcome IS NOT NULL ORDER BY finished_at DESC, id DESC LIMIT 1`)
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]models.SyncHistory, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.SyncHistory
	for rows.Next() {
		h, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) FailStale(ctx context.Context, cutoff, finishedAt time.Time) ([]string, error) {
	query :=
		`UPDATE sync_history SET outcome = 'FAILED', finished_at = $2
		 WHERE outcome IS NULL AND heartbeat_at < $1
		 RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, cutoff, finishedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return ids, nil
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.SyncHistory, error) {
	h, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return h, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.SyncHistory, error) {
	var (
		h        models.SyncHistory
		finished sql.NullTime
		outcome  sql.NullString
		source   string
	)
	if err := s.Scan(&h.ID, &h.StartedAt, &finished, &outcome, &h.TriggeredBy, &source, &h.HeartbeatAt); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		h.FinishedAt = &t
	}
	if outcome.Valid {
		o := models.Outcome(outcome.String)
		h.Outcome = &o
	}
	h.TriggerSource = models.TriggerSource(source)
	return &h, nil
}
