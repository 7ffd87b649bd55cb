package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/lifecycle"
	"homework_bot/internal/testutils"
	"homework_bot/pkg/logger"
)

type fakeHost struct {
	repos    map[string]domain.RepoRef
	branches map[string]bool
	files    map[string][]byte
	pulls    map[string]string

	bootstraps int
	openCalls  int

	// failOpen makes the next OpenReviewRequest fail; when pullCreated is
	// also set, the pull is created before the failure is reported.
	failOpen    bool
	pullCreated bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		repos:    map[string]domain.RepoRef{},
		branches: map[string]bool{},
		files:    map[string][]byte{},
		pulls:    map[string]string{},
	}
}

func (h *fakeHost) EnsureRepository(_ context.Context, name string) (domain.RepoRef, bool, error) {
	if repo, ok := h.repos[name]; ok {
		return repo, false, nil
	}
	repo := domain.RepoRef{Owner: "org", Name: name, URL: "https://github.com/org/" + name, DefaultBranch: "main"}
	h.repos[name] = repo
	return repo, true, nil
}

func (h *fakeHost) BootstrapRepository(context.Context, domain.RepoRef, Bootstrap) (bool, error) {
	h.bootstraps++
	return true, nil
}

func (h *fakeHost) EnsureBranch(_ context.Context, repo domain.RepoRef, branch string) (string, error) {
	h.branches[repo.Name+":"+branch] = true
	return "refs/heads/" + branch, nil
}

func (h *fakeHost) PutFile(_ context.Context, repo domain.RepoRef, branch, path, _ string, content []byte) error {
	key := repo.Name + ":" + branch + ":" + path
	if _, ok := h.files[key]; !ok {
		h.files[key] = content
	}
	return nil
}

func (h *fakeHost) FindReviewRequest(_ context.Context, repo domain.RepoRef, branch string) (string, bool, error) {
	url, ok := h.pulls[repo.Name+":"+branch]
	return url, ok, nil
}

func (h *fakeHost) OpenReviewRequest(_ context.Context, repo domain.RepoRef, req ReviewRequest) (string, error) {
	h.openCalls++
	url := fmt.Sprintf("%s/pull/%d", repo.URL, len(h.pulls)+1)
	if h.failOpen {
		h.failOpen = false
		if h.pullCreated {
			h.pulls[repo.Name+":"+req.Head] = url
		}
		return "", errors.New("connection reset")
	}
	h.pulls[repo.Name+":"+req.Head] = url
	return url, nil
}

type stubStorage map[string][]byte

func (s stubStorage) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := s[key]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return b, nil
}

type stubUsers struct{ user domain.BotUser }

func (u stubUsers) GetByID(context.Context, int64) (*domain.BotUser, error) {
	cp := u.user
	return &cp, nil
}

func (u stubUsers) ListUserGroups(context.Context, int64) ([]domain.Group, error) {
	return []domain.Group{{ID: 1, Name: "group-a"}}, nil
}

type stubAssignments struct{ a domain.Assignment }

func (s stubAssignments) GetByID(context.Context, int64) (*domain.Assignment, error) {
	cp := s.a
	return &cp, nil
}

type memoryRepos struct{ records map[int64]*domain.RemoteRepository }

func (r *memoryRepos) GetByOwner(_ context.Context, ownerID int64) (*domain.RemoteRepository, error) {
	if rec, ok := r.records[ownerID]; ok {
		return rec, nil
	}
	return nil, errdefs.ErrNotFound
}

func (r *memoryRepos) Upsert(_ context.Context, ownerID int64, name, url string) (*domain.RemoteRepository, error) {
	rec := &domain.RemoteRepository{ID: 5, OwnerID: ownerID, Name: name, URL: url}
	r.records[ownerID] = rec
	return rec, nil
}

type stubCatalog struct{}

func (stubCatalog) TaskStatement(_ context.Context, _ string, taskID int) (string, error) {
	return fmt.Sprintf("Task %d statement", taskID), nil
}

type fixture struct {
	pipeline  *Pipeline
	store     *testutils.SubmissionStore
	host      *fakeHost
	storage   stubStorage
	notifier  *testutils.MockNotifier
	publisher *mockPublishNotifier
}

type mockPublishNotifier struct {
	mock.Mock
}

func (m *mockPublishNotifier) RepositoryInvited(ctx context.Context, user *domain.BotUser, repoURL string) error {
	return m.Called(ctx, user, repoURL).Error(0)
}

func (m *mockPublishNotifier) BadEncoding(ctx context.Context, s *domain.Submission) error {
	return m.Called(ctx, s).Error(0)
}

func newFixture(t *testing.T, status domain.SubmissionStatus) *fixture {
	t.Helper()
	login := "Ada-L"

	store := testutils.NewSubmissionStore()
	store.Put(domain.Submission{
		ID:           1,
		AuthorID:     10,
		AssignmentID: 20,
		TaskID:       3,
		Status:       status,
		ObjectKey:    "uploads/abc",
		CreatedAt:    time.Now(),
	})

	notifier := &testutils.MockNotifier{}
	notifier.On("SubmissionPublished", mock.Anything, mock.Anything).Return(nil).Maybe()
	publisher := &mockPublishNotifier{}
	publisher.On("RepositoryInvited", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	host := newFakeHost()
	storage := stubStorage{"uploads/abc": []byte("print('hello')\n")}

	p := NewPipeline(Deps{
		Submissions:  store,
		Users:        stubUsers{user: domain.BotUser{ID: 10, FirstName: "Ada", LastName: "Lovelace", GithubLogin: &login}},
		Assignments:  stubAssignments{a: domain.Assignment{ID: 20, Name: "Loops", Type: domain.AssignmentTypeHomework, Seq: 2, CatalogURL: "https://gist.github.com/t/abc"}},
		Repositories: &memoryRepos{records: map[int64]*domain.RemoteRepository{}},
		Catalog:      stubCatalog{},
		Storage:      storage,
		Host:         host,
		Lifecycle:    lifecycle.New(store, notifier, logger.NewNop()),
		Notifier:     publisher,
		Decoder:      NewDecoder(stubDetector{}),
		Logger:       logger.NewNop(),
	})

	return &fixture{pipeline: p, store: store, host: host, storage: storage, notifier: notifier, publisher: publisher}
}

func TestNames(t *testing.T) {
	a := &domain.Assignment{Name: "Loops", Type: domain.AssignmentTypeHomework, Seq: 2}

	assert.Equal(t, "assignments_ada-l", RepositoryName("Ada-L"))
	assert.Equal(t, "assignments-homework-2-3", BranchName(a, 3))
	assert.Equal(t, "homework/2/3/solution.py", SolutionPath(a, 3))
	assert.Equal(t, "[homework] / Loops / Task #3", ReviewTitle(a, 3))
	assert.Equal(t, "S\n\n---\n\n**Student:** Lovelace Ada\n\n**Group:** g\n", ReviewBody("S", "Lovelace Ada", "g"))
}

func TestPipeline_Publishes(t *testing.T) {
	f := newFixture(t, domain.SubmissionStatusPending)

	require.NoError(t, f.pipeline.Run(context.Background(), 1))

	s := f.store.Get(1)
	assert.Equal(t, domain.SubmissionStatusReview, s.Status)
	assert.Equal(t, "https://github.com/org/assignments_ada-l/pull/1", *s.PullURL)
	assert.Equal(t, "refs/heads/assignments-homework-2-3", *s.GitRef)
	assert.Equal(t, int64(5), *s.RepositoryID)

	assert.True(t, f.host.branches["assignments_ada-l:assignments-homework-2-3"])
	assert.Equal(t, []byte("print('hello')\n"), f.host.files["assignments_ada-l:assignments-homework-2-3:homework/2/3/solution.py"])
	assert.Equal(t, 1, f.host.bootstraps)

	var kinds []string
	for _, e := range f.store.Events(1) {
		kinds = append(kinds, e.Event)
	}
	assert.Equal(t, []string{domain.EventProcessing, domain.EventReview}, kinds)

	f.notifier.AssertCalled(t, "SubmissionPublished", mock.Anything, mock.Anything)
	f.publisher.AssertCalled(t, "RepositoryInvited", mock.Anything, mock.Anything, "https://github.com/org/assignments_ada-l")
}

func TestPipeline_RetryAfterFailure(t *testing.T) {
	tests := []struct {
		name        string
		pullCreated bool
	}{
		{"FailedBeforePull", false},
		{"FailedAfterPull", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.SubmissionStatusPending)
			f.host.failOpen = true
			f.host.pullCreated = tt.pullCreated

			require.Error(t, f.pipeline.Run(context.Background(), 1))
			assert.Equal(t, domain.SubmissionStatusProcessing, f.store.Get(1).Status)

			require.NoError(t, f.pipeline.Run(context.Background(), 1))
			assert.Equal(t, domain.SubmissionStatusReview, f.store.Get(1).Status)

			assert.Len(t, f.host.branches, 1)
			assert.Len(t, f.host.files, 1)
			assert.Len(t, f.host.pulls, 1)
			assert.Equal(t, 1, f.host.bootstraps)
			if tt.pullCreated {
				assert.Equal(t, 1, f.host.openCalls)
			}

			status, ok := domain.ProjectStatus(f.store.Events(1))
			require.True(t, ok)
			assert.Equal(t, domain.SubmissionStatusReview, status)
		})
	}
}

func TestPipeline_AlreadyPublished(t *testing.T) {
	for _, status := range []domain.SubmissionStatus{
		domain.SubmissionStatusReview,
		domain.SubmissionStatusNeedwork,
		domain.SubmissionStatusAccepted,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status)

			require.NoError(t, f.pipeline.Run(context.Background(), 1))
			assert.Equal(t, status, f.store.Get(1).Status)
			assert.Empty(t, f.host.repos)
			assert.Empty(t, f.store.Events(1))
		})
	}
}

func TestPipeline_BadEncoding(t *testing.T) {
	f := newFixture(t, domain.SubmissionStatusPending)
	f.storage["uploads/abc"] = []byte{0x98, 0x98}
	f.publisher.On("BadEncoding", mock.Anything, mock.Anything).Return(nil).Once()

	err := f.pipeline.Run(context.Background(), 1)
	assert.ErrorIs(t, err, errdefs.ErrContent)
	assert.Equal(t, domain.SubmissionStatusProcessing, f.store.Get(1).Status)
	assert.Empty(t, f.host.pulls)
	f.publisher.AssertExpectations(t)
}

func TestPipeline_MissingGithubLogin(t *testing.T) {
	f := newFixture(t, domain.SubmissionStatusProcessing)
	f.pipeline.Users = stubUsers{user: domain.BotUser{ID: 10}}

	err := f.pipeline.Run(context.Background(), 1)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}
