package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/lifecycle"
	"homework_bot/pkg/logger"
)

const (
	solutionCommitMessage = "add solution file"
	solutionFileName      = "solution.py"
)

type ReviewRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

type Bootstrap struct {
	StudentName string
	GroupName   string
	GithubLogin string
}

// Host is the version-control host. "Already exists" answers to the ensure
// and put calls are successes.
type Host interface {
	EnsureRepository(ctx context.Context, name string) (domain.RepoRef, bool, error)
	// BootstrapRepository is idempotent and reports whether a collaborator
	// invite was sent.
	BootstrapRepository(ctx context.Context, repo domain.RepoRef, b Bootstrap) (bool, error)
	EnsureBranch(ctx context.Context, repo domain.RepoRef, branch string) (string, error)
	PutFile(ctx context.Context, repo domain.RepoRef, branch, path, message string, content []byte) error
	FindReviewRequest(ctx context.Context, repo domain.RepoRef, branch string) (string, bool, error)
	OpenReviewRequest(ctx context.Context, repo domain.RepoRef, req ReviewRequest) (string, error)
}

type ObjectStorage interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type Submissions interface {
	GetByID(ctx context.Context, id int64) (*domain.Submission, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (*domain.BotUser, error)
	ListUserGroups(ctx context.Context, userID int64) ([]domain.Group, error)
}

type Assignments interface {
	GetByID(ctx context.Context, id int64) (*domain.Assignment, error)
}

type Repositories interface {
	GetByOwner(ctx context.Context, ownerID int64) (*domain.RemoteRepository, error)
	Upsert(ctx context.Context, ownerID int64, name, url string) (*domain.RemoteRepository, error)
}

type Catalog interface {
	TaskStatement(ctx context.Context, catalogURL string, taskID int) (string, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*domain.Submission, error)
}

type Notifier interface {
	RepositoryInvited(ctx context.Context, user *domain.BotUser, repoURL string) error
	BadEncoding(ctx context.Context, s *domain.Submission) error
}

type Deps struct {
	Submissions  Submissions
	Users        Users
	Assignments  Assignments
	Repositories Repositories
	Catalog      Catalog
	Storage      ObjectStorage
	Host         Host
	Lifecycle    Lifecycle
	Notifier     Notifier
	Decoder      *Decoder
	Logger       *logger.Logger
}

type Pipeline struct {
	Deps
}

func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{Deps: deps}
}

func RepositoryName(githubLogin string) string {
	return "assignments_" + strings.ToLower(githubLogin)
}

func BranchName(a *domain.Assignment, taskID int) string {
	return fmt.Sprintf("assignments-%s-%d-%d", a.Type, a.Seq, taskID)
}

func SolutionPath(a *domain.Assignment, taskID int) string {
	return fmt.Sprintf("%s/%d/%d/%s", a.Type, a.Seq, taskID, solutionFileName)
}

func ReviewTitle(a *domain.Assignment, taskID int) string {
	return fmt.Sprintf("[%s] / %s / Task #%d", a.Type, a.Name, taskID)
}

func ReviewBody(statement, studentName, groupName string) string {
	return fmt.Sprintf("%s\n\n---\n\n**Student:** %s\n\n**Group:** %s\n", statement, studentName, groupName)
}

// Run publishes a pending or processing submission and moves it to review.
// Every step tolerates having been done by an earlier, interrupted run.
// Failures leave the submission in processing.
func (p *Pipeline) Run(ctx context.Context, submissionID int64) error {
	s, err := p.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}

	switch s.Status {
	case domain.SubmissionStatusPending:
		s, err = p.Lifecycle.Transition(ctx, lifecycle.TransitionRequest{
			SubmissionID: s.ID,
			Target:       domain.SubmissionStatusProcessing,
		})
		if errors.Is(err, errdefs.ErrTransitionRejected) {
			// another run got there first
			if s, err = p.Submissions.GetByID(ctx, submissionID); err != nil {
				return fmt.Errorf("failed to reload submission: %w", err)
			}
			if s.Status != domain.SubmissionStatusProcessing {
				return nil
			}
		} else if err != nil {
			return fmt.Errorf("failed to start processing: %w", err)
		}
	case domain.SubmissionStatusProcessing:
		p.Logger.Info(ctx, "resuming submission publish", zap.Int64("submission_id", s.ID))
	default:
		p.Logger.Info(ctx, "submission already published",
			zap.Int64("submission_id", s.ID),
			zap.String("status", string(s.Status)),
		)
		return nil
	}

	author, err := p.Users.GetByID(ctx, s.AuthorID)
	if err != nil {
		return fmt.Errorf("failed to load author: %w", err)
	}
	if author.GithubLogin == nil || *author.GithubLogin == "" {
		return fmt.Errorf("%w: author %d has no github login", errdefs.ErrValidation, author.ID)
	}
	assignment, err := p.Assignments.GetByID(ctx, s.AssignmentID)
	if err != nil {
		return fmt.Errorf("failed to load assignment: %w", err)
	}
	groupName, err := p.groupName(ctx, author.ID)
	if err != nil {
		return err
	}

	repo, repoID, err := p.ensureRepository(ctx, author, groupName)
	if err != nil {
		return err
	}

	raw, err := p.Storage.Get(ctx, s.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to fetch submission content: %w", err)
	}
	content, encoding, err := p.Decoder.Decode(raw)
	if err != nil {
		p.Logger.Error(ctx, "submission content cannot be decoded",
			zap.Int64("submission_id", s.ID), zap.Error(err))
		if nerr := p.Notifier.BadEncoding(ctx, s); nerr != nil {
			p.Logger.Warn(ctx, "failed to notify about bad encoding", zap.Error(nerr))
		}
		return err
	}
	p.Logger.Debug(ctx, "submission content decoded",
		zap.Int64("submission_id", s.ID), zap.String("encoding", encoding))

	branch := BranchName(assignment, s.TaskID)
	ref, err := p.Host.EnsureBranch(ctx, repo, branch)
	if err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	path := SolutionPath(assignment, s.TaskID)
	if err := p.Host.PutFile(ctx, repo, branch, path, solutionCommitMessage, []byte(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	pullURL, err := p.reviewRequest(ctx, repo, branch, assignment, s, author, groupName)
	if err != nil {
		return err
	}

	_, err = p.Lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		SubmissionID: s.ID,
		Target:       domain.SubmissionStatusReview,
		Published: &lifecycle.PublishResult{
			PullURL:      pullURL,
			GitRef:       ref,
			RepositoryID: repoID,
		},
		Notify: true,
	})
	if err != nil {
		return fmt.Errorf("failed to move submission to review: %w", err)
	}

	p.Logger.Info(ctx, "submission published",
		zap.Int64("submission_id", s.ID),
		zap.String("pull_url", pullURL),
	)
	return nil
}

func (p *Pipeline) groupName(ctx context.Context, userID int64) (string, error) {
	groups, err := p.Users.ListUserGroups(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load author groups: %w", err)
	}
	if len(groups) == 0 {
		return "", nil
	}
	return groups[0].Name, nil
}

// ensureRepository returns the student's repository, creating and
// bootstrapping it on first publish.
func (p *Pipeline) ensureRepository(ctx context.Context, author *domain.BotUser, groupName string) (domain.RepoRef, int64, error) {
	name := RepositoryName(*author.GithubLogin)

	known, err := p.Repositories.GetByOwner(ctx, author.ID)
	if err != nil && !errors.Is(err, errdefs.ErrNotFound) {
		return domain.RepoRef{}, 0, fmt.Errorf("failed to load repository record: %w", err)
	}

	repo, created, err := p.Host.EnsureRepository(ctx, name)
	if err != nil {
		return domain.RepoRef{}, 0, fmt.Errorf("failed to ensure repository %s: %w", name, err)
	}

	if known != nil && !created {
		return repo, known.ID, nil
	}

	invited, err := p.Host.BootstrapRepository(ctx, repo, Bootstrap{
		StudentName: author.FullName(),
		GroupName:   groupName,
		GithubLogin: *author.GithubLogin,
	})
	if err != nil {
		return domain.RepoRef{}, 0, fmt.Errorf("failed to bootstrap repository %s: %w", name, err)
	}
	if invited {
		if err := p.Notifier.RepositoryInvited(ctx, author, repo.URL); err != nil {
			p.Logger.Warn(ctx, "failed to notify about invite", zap.Error(err))
		}
	}

	record, err := p.Repositories.Upsert(ctx, author.ID, repo.Name, repo.URL)
	if err != nil {
		return domain.RepoRef{}, 0, fmt.Errorf("failed to save repository record: %w", err)
	}
	return repo, record.ID, nil
}

func (p *Pipeline) reviewRequest(
	ctx context.Context,
	repo domain.RepoRef,
	branch string,
	a *domain.Assignment,
	s *domain.Submission,
	author *domain.BotUser,
	groupName string,
) (string, error) {
	url, found, err := p.Host.FindReviewRequest(ctx, repo, branch)
	if err != nil {
		return "", fmt.Errorf("failed to look up review request: %w", err)
	}
	if found {
		p.Logger.Info(ctx, "reusing review request", zap.String("pull_url", url))
		return url, nil
	}

	statement, err := p.Catalog.TaskStatement(ctx, a.CatalogURL, s.TaskID)
	if err != nil {
		return "", fmt.Errorf("failed to load task statement: %w", err)
	}

	url, err = p.Host.OpenReviewRequest(ctx, repo, ReviewRequest{
		Title: ReviewTitle(a, s.TaskID),
		Body:  ReviewBody(statement, author.FullName(), groupName),
		Head:  branch,
		Base:  repo.DefaultBranch,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open review request: %w", err)
	}
	return url, nil
}
