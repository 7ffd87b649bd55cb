package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
)

type AnyTime struct{}

func (a AnyTime) Match(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mockPool.ExpectationsWereMet())
		mockPool.Close()
	})
	return mockPool
}

var userColumns = []string{
	"id", "first_name", "last_name", "role",
	"telegram_login", "telegram_chat_id", "github_login",
}

var submissionColumns = []string{
	"id", "author_id", "assignment_id", "task_id", "status", "object_key",
	"created_at", "repository_id", "pull_url", "git_ref",
}

func ptr[T any](v T) *T { return &v }

// ── users ──

func TestUserRepo_GetByChatID(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewUserRepository(mockPool)

	mockPool.ExpectQuery("WHERE u.telegram_chat_id = \\$1").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow(int64(1), "Ada", "Lovelace", domain.RoleStudent, ptr("ada"), ptr(int64(42)), ptr("ada-l")))

	user, err := repo.GetByChatID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, domain.RoleStudent, user.Role)
	assert.Equal(t, "ada-l", *user.GithubLogin)
}

func TestUserRepo_GetByGithubLogin_NotFound(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewUserRepository(mockPool)

	mockPool.ExpectQuery("LOWER\\(u.github_login\\) = LOWER\\(\\$1\\)").
		WithArgs("Ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByGithubLogin(context.Background(), "Ghost")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestUserRepo_CompleteRegistration_LoginTaken(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewUserRepository(mockPool)

	mockPool.ExpectQuery("UPDATE bot_users").
		WithArgs(int64(100), ptr("ada"), "ada-l", int64(1)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.CompleteRegistration(context.Background(), &CompleteRegistrationInput{
		UserID:         1,
		TelegramChatID: 100,
		TelegramLogin:  ptr("ada"),
		GithubLogin:    "ada-l",
	})
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestUserRepo_ListStaffForAuthor(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewUserRepository(mockPool)

	mockPool.ExpectQuery("FROM group_members staff").
		WithArgs(domain.RoleAssistant, domain.RoleTeacher, domain.RoleAdmin, int64(7), false).
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow(int64(2), "Alan", "Turing", domain.RoleTeacher, (*string)(nil), ptr(int64(200)), ptr("turing")).
			AddRow(int64(3), "Grace", "Hopper", domain.RoleAssistant, (*string)(nil), (*int64)(nil), ptr("hopper")))

	staff, err := repo.ListStaffForAuthor(context.Background(), 7, false)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Nil(t, staff[1].TelegramChatID)
}

// ── assignments ──

var assignmentColumns = []string{
	"id", "name", "type", "group_id", "group_name",
	"seq", "is_enabled", "catalog_url", "owner_id", "created_at",
}

func TestAssignmentRepo_Create(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewAssignmentRepository(mockPool)
	now := time.Now()

	mockPool.ExpectQuery("INSERT INTO assignments").
		WithArgs("Loops", domain.AssignmentTypeHomework, int64(3), "https://gist.github.com/t/abc", int64(9)).
		WillReturnRows(pgxmock.NewRows(assignmentColumns).
			AddRow(int64(11), "Loops", domain.AssignmentTypeHomework, int64(3), "group-a",
				4, false, "https://gist.github.com/t/abc", int64(9), now))

	a, err := repo.Create(context.Background(), &CreateAssignmentInput{
		Name:       "Loops",
		Type:       domain.AssignmentTypeHomework,
		GroupID:    3,
		CatalogURL: "https://gist.github.com/t/abc",
		OwnerID:    9,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, a.Seq)
	assert.Equal(t, "group-a", a.GroupName)
	assert.False(t, a.IsEnabled)
}

func TestAssignmentRepo_SetEnabled_NotFound(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewAssignmentRepository(mockPool)

	mockPool.ExpectExec("UPDATE assignments SET is_enabled").
		WithArgs(true, int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetEnabled(context.Background(), 404, true)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestAssignmentRepo_CountByStatus(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewAssignmentRepository(mockPool)

	mockPool.ExpectQuery("GROUP BY status").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"status", "total"}).
			AddRow(domain.SubmissionStatusReview, 3).
			AddRow(domain.SubmissionStatusAccepted, 1))

	counts, err := repo.CountByStatus(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.SubmissionStatusReview])
	assert.Equal(t, 1, counts[domain.SubmissionStatusAccepted])
	assert.Equal(t, 0, counts[domain.SubmissionStatusNeedwork])
}

// ── catalog ──

func TestCatalogRepo_InsertIfAbsent(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewCatalogRepository(mockPool)

	mockPool.ExpectExec("INSERT INTO task_catalog_cache").
		WithArgs("abc", []int32{1, 2, 3}, []string{"one", "two", "three"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))

	err := repo.InsertIfAbsent(context.Background(), "abc", map[int]string{3: "three", 1: "one", 2: "two"})
	assert.NoError(t, err)
}

func TestCatalogRepo_InsertIfAbsent_Empty(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewCatalogRepository(mockPool)

	assert.NoError(t, repo.InsertIfAbsent(context.Background(), "abc", nil))
}

func TestCatalogRepo_Get_NotCached(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewCatalogRepository(mockPool)

	mockPool.ExpectQuery("SELECT content FROM task_catalog_cache").
		WithArgs("abc", 2).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "abc", 2)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

// ── submissions ──

func TestSubmissionRepo_Create_Duplicate(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)

	mockPool.ExpectQuery("INSERT INTO submissions").
		WithArgs(int64(1), int64(2), 3, domain.SubmissionStatusPending, "uploads/key").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &CreateSubmissionInput{
		AuthorID:     1,
		AssignmentID: 2,
		TaskID:       3,
		ObjectKey:    "uploads/key",
	})
	assert.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestSubmissionRepo_GetByRefAndRepository(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)
	now := time.Now()

	mockPool.ExpectQuery("JOIN remote_repositories r ON r.id = s.repository_id").
		WithArgs("refs/heads/assignments-homework-1-3", "assignments_ada").
		WillReturnRows(pgxmock.NewRows(submissionColumns).
			AddRow(int64(10), int64(1), int64(2), 3, domain.SubmissionStatusNeedwork, "k",
				now, ptr(int64(5)), ptr("https://github.com/o/r/pull/1"), ptr("refs/heads/assignments-homework-1-3")))

	s, err := repo.GetByRefAndRepository(context.Background(), "refs/heads/assignments-homework-1-3", "assignments_ada")
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.ID)
	assert.Equal(t, domain.SubmissionStatusNeedwork, s.Status)
}

func TestSubmissionRepo_InTx_Commit(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)
	now := time.Now()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery("FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(submissionColumns).
			AddRow(int64(10), int64(1), int64(2), 3, domain.SubmissionStatusReview, "k",
				now, ptr(int64(5)), ptr("https://github.com/o/r/pull/1"), ptr("refs/heads/b")))
	mockPool.ExpectExec("UPDATE submissions").
		WithArgs(domain.SubmissionStatusAccepted, ptr(int64(5)), ptr("https://github.com/o/r/pull/1"), ptr("refs/heads/b"), AnyTime{}, int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectQuery("INSERT INTO submission_events").
		WithArgs(int64(10), domain.EventAccepted, map[string]any{"accepted_by": int64(2)}, AnyTime{}, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mockPool.ExpectCommit()

	event := &domain.SubmissionEvent{
		Event:      domain.EventAccepted,
		Payload:    map[string]any{"accepted_by": int64(2)},
		OccurredAt: now,
	}
	err := repo.InTx(context.Background(), 10, func(ctx context.Context, tx SubmissionTx) error {
		tx.Submission().Status = domain.SubmissionStatusAccepted
		if err := tx.Save(ctx); err != nil {
			return err
		}
		appended, err := tx.AppendEvent(ctx, event)
		require.True(t, appended)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), event.ID)
	assert.Equal(t, int64(10), event.SubmissionID)
}

func TestSubmissionRepo_InTx_LastStateEventAt(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)
	last := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery("FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(submissionColumns).
			AddRow(int64(10), int64(1), int64(2), 3, domain.SubmissionStatusNeedwork, "k",
				time.Now(), (*int64)(nil), (*string)(nil), (*string)(nil)))
	mockPool.ExpectQuery(`SELECT max\(occurred_at\)`).
		WithArgs(int64(10), domain.StateEvents()).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&last))
	mockPool.ExpectCommit()

	err := repo.InTx(context.Background(), 10, func(ctx context.Context, tx SubmissionTx) error {
		got, err := tx.LastStateEventAt(ctx)
		require.NoError(t, err)
		assert.True(t, got.Equal(last))
		return nil
	})
	require.NoError(t, err)
}

func TestSubmissionRepo_InTx_RollbackOnError(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery("FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(submissionColumns).
			AddRow(int64(10), int64(1), int64(2), 3, domain.SubmissionStatusAccepted, "k",
				time.Now(), (*int64)(nil), (*string)(nil), (*string)(nil)))
	mockPool.ExpectRollback()

	rejected := errors.New("rejected")
	err := repo.InTx(context.Background(), 10, func(ctx context.Context, tx SubmissionTx) error {
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
}

func TestSubmissionRepo_InTx_Missing(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery("FOR UPDATE").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectRollback()

	err := repo.InTx(context.Background(), 404, func(ctx context.Context, tx SubmissionTx) error {
		t.Fatal("fn must not run for a missing submission")
		return nil
	})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestSubmissionRepo_AppendEvent_Duplicate(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewSubmissionRepository(mockPool)
	key := "delivery-1:comment"

	mockPool.ExpectBegin()
	mockPool.ExpectQuery("FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(submissionColumns).
			AddRow(int64(10), int64(1), int64(2), 3, domain.SubmissionStatusReview, "k",
				time.Now(), (*int64)(nil), (*string)(nil), (*string)(nil)))
	mockPool.ExpectQuery("ON CONFLICT \\(dedup_key\\) DO NOTHING").
		WithArgs(int64(10), domain.EventComment, map[string]any{"comment": "hi"}, AnyTime{}, &key).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mockPool.ExpectCommit()

	err := repo.InTx(context.Background(), 10, func(ctx context.Context, tx SubmissionTx) error {
		appended, err := tx.AppendEvent(ctx, &domain.SubmissionEvent{
			Event:      domain.EventComment,
			Payload:    map[string]any{"comment": "hi"},
			OccurredAt: time.Now(),
			DedupKey:   &key,
		})
		assert.False(t, appended)
		return err
	})
	require.NoError(t, err)
}

func TestRemoteRepo_Upsert(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewRemoteRepoRepository(mockPool)

	mockPool.ExpectQuery("ON CONFLICT \\(owner_id\\) DO UPDATE").
		WithArgs(int64(1), "assignments_ada", "https://github.com/org/assignments_ada").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "name", "url"}).
			AddRow(int64(5), int64(1), "assignments_ada", "https://github.com/org/assignments_ada"))

	repo2, err := repo.Upsert(context.Background(), 1, "assignments_ada", "https://github.com/org/assignments_ada")
	require.NoError(t, err)
	assert.Equal(t, int64(5), repo2.ID)
}
