package repository

import (
	"context"

	"github.com/georgysavva/scany/v2/pgxscan"

	"homework_bot/internal/domain"
)

type RemoteRepoRepository struct {
	db DB
}

func NewRemoteRepoRepository(db DB) *RemoteRepoRepository {
	return &RemoteRepoRepository{db: db}
}

func (r *RemoteRepoRepository) GetByOwner(ctx context.Context, ownerID int64) (*domain.RemoteRepository, error) {
	query := `SELECT id, owner_id, name, url FROM remote_repositories WHERE owner_id = $1`
	var repo domain.RemoteRepository
	if err := pgxscan.Get(ctx, r.db, &repo, query, ownerID); err != nil {
		return nil, handleError(err)
	}
	return &repo, nil
}

// Upsert records the owner's repository, replacing name and url if a row
// already exists.
func (r *RemoteRepoRepository) Upsert(ctx context.Context, ownerID int64, name, url string) (*domain.RemoteRepository, error) {
	query := `
INSERT INTO remote_repositories (owner_id, name, url)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id) DO UPDATE SET name = EXCLUDED.name, url = EXCLUDED.url
RETURNING id, owner_id, name, url
`
	var repo domain.RemoteRepository
	if err := pgxscan.Get(ctx, r.db, &repo, query, ownerID, name, url); err != nil {
		return nil, handleError(err)
	}
	return &repo, nil
}
