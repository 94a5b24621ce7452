package tracking

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListConfigurations(ctx context.Context) ([]models.TrackingConfiguration, error) {
	query :=
		`SELECT id, level, category, tracking_id, created_at FROM tracking_configurations
		 ORDER BY level, category`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.TrackingConfiguration
	for rows.Next() {
		var c models.TrackingConfiguration
		if err := rows.Scan(&c.ID, &c.Level, &c.Category, &c.TrackingID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) UpsertConfiguration(ctx context.Context, c *models.TrackingConfiguration) error {
	query :=
		`INSERT INTO tracking_configurations (id, level, category, tracking_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (level, category) DO UPDATE SET tracking_id = EXCLUDED.tracking_id
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, uuid.NewString(), c.Level, c.Category, c.TrackingID).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetRecordsByExternalIDs(ctx context.Context, ids []string) (map[string]*models.TrackingRecord, error) {
	result := make(map[string]*models.TrackingRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT id, external_id, tracking_id, student_code, category, description, occurred_at, source_modified_at,
		resolution, reviewed_by, created_at, updated_at
		FROM tracking_records WHERE external_id IN (` + dbx.Placeholders(1, len(ids)) + `)`

	rows, err := r.db.QueryContext(ctx, query, dbx.Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := &models.TrackingRecord{}
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &rec.TrackingID, &rec.StudentCode, &rec.Category, &rec.Description,
			&rec.OccurredAt, &rec.SourceModifiedAt, &rec.Resolution, &rec.ReviewedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result[rec.ExternalID] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// InsertRecord stores a new tracking record. A record pointing at a student
// that is not on the roster is rejected with common.ErrInvalidRecord.
func (r *PostgresRepository) InsertRecord(ctx context.Context, rec *models.TrackingRecord) error {
	query :=
		`INSERT INTO tracking_records (id, external_id, tracking_id, student_code, category, description, occurred_at, source_modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.ExternalID, rec.TrackingID, rec.StudentCode,
		rec.Category, rec.Description, rec.OccurredAt, rec.SourceModifiedAt)
	if err != nil {
		return mapWriteError(rec, err)
	}

	return nil
}

func (r *PostgresRepository) UpdateSyncedRecord(ctx context.Context, rec *models.TrackingRecord) error {
	query :=
		`UPDATE tracking_records SET tracking_id = $2, student_code = $3, category = $4, description = $5,
		 occurred_at = $6, source_modified_at = $7, updated_at = now()
		 WHERE external_id = $1`

	res, err := r.db.ExecContext(ctx, query, rec.ExternalID, rec.TrackingID, rec.StudentCode,
		rec.Category, rec.Description, rec.OccurredAt, rec.SourceModifiedAt)
	if err != nil {
		return mapWriteError(rec, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func mapWriteError(rec *models.TrackingRecord, err error) error {
	switch {
	case dbx.IsForeignKeyViolation(err):
		return fmt.Errorf("unknown student %q: %w", rec.StudentCode, common.ErrInvalidRecord)
	case dbx.IsUniqueViolation(err):
		return fmt.Errorf("tracking record %q: %w", rec.ExternalID, common.ErrConflict)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}
