package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.AuditRecord) error {
	query :=
		`INSERT INTO audit_records (id, event_type, principal_id, principal_name, occurred_at, origin, user_agent, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	details := rec.Details
	if details == nil {
		details = map[string]string{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, rec.ID, string(rec.EventType), rec.PrincipalID, rec.PrincipalName,
		rec.OccurredAt, rec.Origin, rec.UserAgent, string(payload))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter, limit, offset int) ([]models.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.EventType != "" {
		args = append(args, string(f.EventType))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.PrincipalID != "" {
		args = append(args, f.PrincipalID)
		where = append(where, fmt.Sprintf("principal_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}

	query := `SELECT id, event_type, principal_id, principal_name, occurred_at, origin, user_agent, details FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.AuditRecord
	for rows.Next() {
		var (
			rec       models.AuditRecord
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&rec.ID, &eventType, &rec.PrincipalID, &rec.PrincipalName, &rec.OccurredAt,
			&rec.Origin, &rec.UserAgent, &payload); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.EventType = models.EventType(eventType)
		if err := json.Unmarshal(payload, &rec.Details); err != nil {
			return nil, fmt.Errorf("decode details of audit record %s: %w", rec.ID, err)
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}
