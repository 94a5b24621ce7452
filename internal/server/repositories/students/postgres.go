package students

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

func (r *PostgresRepository) GetByCodes(ctx context.Context, codes []string) (map[string]*models.Student, error) {
	result := make(map[string]*models.Student, len(codes))
	if len(codes) == 0 {
		return result, nil
	}

	query := `SELECT id, code, full_name, section, level, source_modified_at, email, guardian_phone, notes, created_at, updated_at
		FROM students WHERE code IN (` + dbx.Placeholders(1, len(codes)) + `)`

	rows, err := r.db.QueryContext(ctx, query, dbx.Args(codes)...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s := &models.Student{}
		if err := rows.Scan(&s.ID, &s.Code, &s.FullName, &s.Section, &s.Level, &s.SourceModifiedAt,
			&s.Email, &s.GuardianPhone, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result[s.Code] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// Insert stores a new student. A code collision yields common.ErrConflict.
func (r *PostgresRepository) Insert(ctx context.Context, s *models.Student) error {
	query :=
		`INSERT INTO students (id, code, full_name, section, level, source_modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, query, s.ID, s.Code, s.FullName, s.Section, s.Level, s.SourceModifiedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("student %q: %w", s.Code, common.ErrConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateSynced(ctx context.Context, s *models.Student) error {
	query :=
		`UPDATE students SET full_name = $2, section = $3, level = $4, source_modified_at = $5, updated_at = now()
		 WHERE code = $1`

	res, err := r.db.ExecContext(ctx, query, s.Code, s.FullName, s.Section, s.Level, s.SourceModifiedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
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
