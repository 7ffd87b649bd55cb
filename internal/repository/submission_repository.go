package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"homework_bot/internal/domain"
)

const selectSubmission = `
SELECT
	s.id, s.author_id, s.assignment_id, s.task_id, s.status, s.object_key,
	s.created_at, s.repository_id, s.pull_url, s.git_ref
FROM submissions s
`

const selectReviewItem = `
SELECT
	s.id AS submission_id,
	a.id AS assignment_id,
	a.name AS assignment_name,
	s.task_id,
	u.last_name || ' ' || u.first_name AS author_name,
	COALESCE(s.pull_url, '') AS pull_url,
	(
		SELECT MAX(e.occurred_at)
		FROM submission_events e
		WHERE e.submission_id = s.id AND e.event = s.status
	) AS status_since,
	EXISTS (
		SELECT 1
		FROM submission_events e
		WHERE e.submission_id = s.id AND e.event IN ('needwork', 'accepted')
	) AS seen
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
JOIN bot_users u ON u.id = s.author_id
`

// SubmissionTx is a unit of work on one submission whose row is locked
// until the surrounding InTx call returns.
type SubmissionTx interface {
	// Submission returns the locked row. Changes are written by Save.
	Submission() *domain.Submission
	Save(ctx context.Context) error
	// AppendEvent reports false when an event with the same dedup key is
	// already recorded; nothing is written in that case.
	AppendEvent(ctx context.Context, event *domain.SubmissionEvent) (bool, error)
	EventSeen(ctx context.Context, dedupKey string) (bool, error)
	// LastStateEventAt is the occurrence time of the latest status event,
	// or the zero time when there is none.
	LastStateEventAt(ctx context.Context) (time.Time, error)
}

type SubmissionRepository struct {
	db DB
}

func NewSubmissionRepository(db DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

type CreateSubmissionInput struct {
	AuthorID     int64
	AssignmentID int64
	TaskID       int
	ObjectKey    string
}

// Create inserts a pending submission. A second submission for the same
// (author, assignment, task) fails with errdefs.ErrAlreadyExists.
func (r *SubmissionRepository) Create(ctx context.Context, input *CreateSubmissionInput) (*domain.Submission, error) {
	query := `
INSERT INTO submissions (author_id, assignment_id, task_id, status, object_key)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, author_id, assignment_id, task_id, status, object_key,
	created_at, repository_id, pull_url, git_ref
`
	var s domain.Submission
	err := pgxscan.Get(ctx, r.db, &s, query,
		input.AuthorID,
		input.AssignmentID,
		input.TaskID,
		domain.SubmissionStatusPending,
		input.ObjectKey,
	)
	if err != nil {
		return nil, handleError(err)
	}
	return &s, nil
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id int64) (*domain.Submission, error) {
	return r.getOne(ctx, selectSubmission+`WHERE s.id = $1`, id)
}

func (r *SubmissionRepository) GetByPullURL(ctx context.Context, pullURL string) (*domain.Submission, error) {
	return r.getOne(ctx, selectSubmission+`WHERE s.pull_url = $1 ORDER BY s.id LIMIT 1`, pullURL)
}

// GetByRefAndRepository resolves a push: ref is the full git ref
// ("refs/heads/...") and repoName the bare repository name.
func (r *SubmissionRepository) GetByRefAndRepository(ctx context.Context, ref, repoName string) (*domain.Submission, error) {
	query := selectSubmission + `
JOIN remote_repositories r ON r.id = s.repository_id
WHERE s.git_ref = $1 AND r.name = $2
ORDER BY s.id
LIMIT 1
`
	return r.getOne(ctx, query, ref, repoName)
}

func (r *SubmissionRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Submission, error) {
	var s domain.Submission
	if err := pgxscan.Get(ctx, r.db, &s, query, args...); err != nil {
		return nil, handleError(err)
	}
	return &s, nil
}

func (r *SubmissionRepository) ListByAuthorAndAssignment(ctx context.Context, authorID, assignmentID int64) ([]domain.Submission, error) {
	query := selectSubmission + `WHERE s.author_id = $1 AND s.assignment_id = $2 ORDER BY s.task_id`
	var list []domain.Submission
	if err := pgxscan.Select(ctx, r.db, &list, query, authorID, assignmentID); err != nil {
		return nil, handleError(err)
	}
	return list, nil
}

// ListReviewQueueForGroups returns submissions in review authored by members
// of any of the groups, ordered by assignment, task and author.
func (r *SubmissionRepository) ListReviewQueueForGroups(ctx context.Context, groupIDs []int64) ([]domain.ReviewItem, error) {
	query := selectReviewItem + `
WHERE s.status = $1
	AND EXISTS (
		SELECT 1 FROM group_members m
		WHERE m.user_id = s.author_id AND m.group_id = ANY($2)
	)
ORDER BY a.type, a.id, s.task_id, author_name
`
	var items []domain.ReviewItem
	if err := pgxscan.Select(ctx, r.db, &items, query, domain.SubmissionStatusReview, groupIDs); err != nil {
		return nil, handleError(err)
	}
	return items, nil
}

func (r *SubmissionRepository) ListReviewQueueForAssignment(ctx context.Context, assignmentID int64) ([]domain.ReviewItem, error) {
	query := selectReviewItem + `
WHERE s.status = $1 AND s.assignment_id = $2
ORDER BY s.task_id, u.last_name, u.first_name
`
	var items []domain.ReviewItem
	if err := pgxscan.Select(ctx, r.db, &items, query, domain.SubmissionStatusReview, assignmentID); err != nil {
		return nil, handleError(err)
	}
	return items, nil
}

func (r *SubmissionRepository) ListEvents(ctx context.Context, submissionID int64) ([]domain.SubmissionEvent, error) {
	query := `
SELECT id, submission_id, event, payload, occurred_at, dedup_key
FROM submission_events
WHERE submission_id = $1
ORDER BY occurred_at, id
`
	var events []domain.SubmissionEvent
	if err := pgxscan.Select(ctx, r.db, &events, query, submissionID); err != nil {
		return nil, handleError(err)
	}
	return events, nil
}

// InTx locks the submission row and runs fn. The transaction commits when
// fn returns nil and rolls back otherwise.
func (r *SubmissionRepository) InTx(ctx context.Context, id int64, fn func(ctx context.Context, tx SubmissionTx) error) (err error) {
	pgTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(ctx)
		}
	}()

	var s domain.Submission
	if err = pgxscan.Get(ctx, pgTx, &s, selectSubmission+`WHERE s.id = $1 FOR UPDATE`, id); err != nil {
		return handleError(err)
	}

	if err = fn(ctx, &submissionTx{tx: pgTx, submission: &s}); err != nil {
		return err
	}

	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type submissionTx struct {
	tx         pgx.Tx
	submission *domain.Submission
}

func (t *submissionTx) Submission() *domain.Submission {
	return t.submission
}

func (t *submissionTx) Save(ctx context.Context) error {
	query := `
UPDATE submissions
SET status = $1, repository_id = $2, pull_url = $3, git_ref = $4, created_at = $5
WHERE id = $6
`
	s := t.submission
	_, err := t.tx.Exec(ctx, query,
		s.Status,
		s.RepositoryID,
		s.PullURL,
		s.GitRef,
		s.CreatedAt,
		s.ID,
	)
	if err != nil {
		return handleError(err)
	}
	return nil
}

func (t *submissionTx) AppendEvent(ctx context.Context, event *domain.SubmissionEvent) (bool, error) {
	query := `
INSERT INTO submission_events (submission_id, event, payload, occurred_at, dedup_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (dedup_key) DO NOTHING
RETURNING id
`
	event.SubmissionID = t.submission.ID

	var id int64
	err := t.tx.QueryRow(ctx, query,
		event.SubmissionID,
		event.Event,
		event.Payload,
		event.OccurredAt,
		event.DedupKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, handleError(err)
	}
	event.ID = id
	return true, nil
}

func (t *submissionTx) EventSeen(ctx context.Context, dedupKey string) (bool, error) {
	var seen bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM submission_events WHERE dedup_key = $1)`, dedupKey).Scan(&seen)
	if err != nil {
		return false, handleError(err)
	}
	return seen, nil
}

func (t *submissionTx) LastStateEventAt(ctx context.Context) (time.Time, error) {
	query := `
SELECT max(occurred_at)
FROM submission_events
WHERE submission_id = $1 AND event = ANY($2)
`
	var last *time.Time
	if err := t.tx.QueryRow(ctx, query, t.submission.ID, domain.StateEvents()).Scan(&last); err != nil {
		return time.Time{}, handleError(err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return last.UTC(), nil
}
