package repository

import (
	"context"
	"sort"

	"github.com/georgysavva/scany/v2/pgxscan"
)

type CatalogRepository struct {
	db DB
}

func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) Get(ctx context.Context, catalogID string, taskID int) (string, error) {
	query := `SELECT content FROM task_catalog_cache WHERE catalog_id = $1 AND task_id = $2`
	var content string
	if err := pgxscan.Get(ctx, r.db, &content, query, catalogID, taskID); err != nil {
		return "", handleError(err)
	}
	return content, nil
}

func (r *CatalogRepository) Count(ctx context.Context, catalogID string) (int, error) {
	var n int
	if err := pgxscan.Get(ctx, r.db, &n, `SELECT COUNT(*) FROM task_catalog_cache WHERE catalog_id = $1`, catalogID); err != nil {
		return 0, handleError(err)
	}
	return n, nil
}

// InsertIfAbsent caches task statements. Already cached tasks keep their
// content.
func (r *CatalogRepository) InsertIfAbsent(ctx context.Context, catalogID string, tasks map[int]string) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]int32, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, int32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	contents := make([]string, 0, len(ids))
	for _, id := range ids {
		contents = append(contents, tasks[int(id)])
	}

	query := `
INSERT INTO task_catalog_cache (catalog_id, task_id, content)
SELECT $1, t.task_id, t.content
FROM UNNEST($2::int[], $3::text[]) AS t(task_id, content)
ON CONFLICT (catalog_id, task_id) DO NOTHING
`
	if _, err := r.db.Exec(ctx, query, catalogID, ids, contents); err != nil {
		return handleError(err)
	}
	return nil
}
