package repository

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
)

const selectAssignment = `
SELECT
	a.id, a.name, a.type, a.group_id, g.name AS group_name,
	a.seq, a.is_enabled, a.catalog_url, a.owner_id, a.created_at
FROM assignments a
JOIN groups g ON g.id = a.group_id
`

type AssignmentRepository struct {
	db DB
}

func NewAssignmentRepository(db DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

type CreateAssignmentInput struct {
	Name       string
	Type       domain.AssignmentType
	GroupID    int64
	CatalogURL string
	OwnerID    int64
}

// Create inserts a disabled assignment with the next sequence number for
// its (type, group). A concurrent create of the same sequence fails with
// errdefs.ErrAlreadyExists.
func (r *AssignmentRepository) Create(ctx context.Context, input *CreateAssignmentInput) (*domain.Assignment, error) {
	query := `
WITH inserted AS (
	INSERT INTO assignments (name, type, group_id, seq, is_enabled, catalog_url, owner_id)
	SELECT $1, $2, $3, COALESCE(MAX(seq), 0) + 1, FALSE, $4, $5
	FROM assignments
	WHERE type = $2 AND group_id = $3
	RETURNING id, name, type, group_id, seq, is_enabled, catalog_url, owner_id, created_at
)
SELECT
	i.id, i.name, i.type, i.group_id, g.name AS group_name,
	i.seq, i.is_enabled, i.catalog_url, i.owner_id, i.created_at
FROM inserted i
JOIN groups g ON g.id = i.group_id
`
	var a domain.Assignment
	err := pgxscan.Get(ctx, r.db, &a, query,
		input.Name,
		input.Type,
		input.GroupID,
		input.CatalogURL,
		input.OwnerID,
	)
	if err != nil {
		return nil, handleError(err)
	}
	return &a, nil
}

func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*domain.Assignment, error) {
	var a domain.Assignment
	if err := pgxscan.Get(ctx, r.db, &a, selectAssignment+`WHERE a.id = $1`, id); err != nil {
		return nil, handleError(err)
	}
	return &a, nil
}

// ListAvailable returns enabled assignments of the user's groups. A nil
// typ matches both homework and tests.
func (r *AssignmentRepository) ListAvailable(ctx context.Context, userID int64, typ *domain.AssignmentType) ([]domain.Assignment, error) {
	query := selectAssignment + `
WHERE a.is_enabled
	AND ($2::text IS NULL OR a.type = $2)
	AND a.group_id IN (SELECT group_id FROM group_members WHERE user_id = $1)
ORDER BY a.type, a.seq
`
	var list []domain.Assignment
	if err := pgxscan.Select(ctx, r.db, &list, query, userID, typ); err != nil {
		return nil, handleError(err)
	}
	return list, nil
}

func (r *AssignmentRepository) ListByGroup(ctx context.Context, groupID int64) ([]domain.Assignment, error) {
	var list []domain.Assignment
	query := selectAssignment + `WHERE a.group_id = $1 ORDER BY a.type, a.seq`
	if err := pgxscan.Select(ctx, r.db, &list, query, groupID); err != nil {
		return nil, handleError(err)
	}
	return list, nil
}

func (r *AssignmentRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE assignments SET is_enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return handleError(err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.ErrNotFound
	}
	return nil
}

type statusCount struct {
	Status domain.SubmissionStatus `db:"status"`
	Total  int                     `db:"total"`
}

func (r *AssignmentRepository) CountByStatus(ctx context.Context, id int64) (map[domain.SubmissionStatus]int, error) {
	query := `
SELECT status, COUNT(*) AS total
FROM submissions
WHERE assignment_id = $1
GROUP BY status
`
	var rows []statusCount
	if err := pgxscan.Select(ctx, r.db, &rows, query, id); err != nil {
		return nil, handleError(err)
	}

	counts := make(map[domain.SubmissionStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
