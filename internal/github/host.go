package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/publish"
	"homework_bot/pkg/logger"
	"homework_bot/pkg/retry"
)

const (
	markerFile          = ".bootstrap"
	readmeFile          = "README.md"
	collaboratorPerm    = "push"
	defaultBranch       = "main"
	defaultTimeout      = 30 * time.Second
	defaultBreakerLimit = 5
	defaultBreakerReset = 30 * time.Second
)

var taskFilePattern = regexp.MustCompile(`^([0-9]+)\.md$`)

type Config struct {
	Organization string
	// BaseURL overrides the public API endpoint.
	BaseURL          string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Host talks to the GitHub REST API. Repository work goes through the
// authenticated client, user and gist lookups through an anonymous one.
type Host struct {
	client  *gh.Client
	anon    *gh.Client
	org     string
	breaker *retry.CircuitBreaker
	logger  *logger.Logger
}

var _ publish.Host = (*Host)(nil)

func NewHost(cfg Config, tokens TokenSource, log *logger.Logger) (*Host, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = defaultBreakerLimit
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = defaultBreakerReset
	}

	authed, err := newClient(&http.Client{
		Timeout:   cfg.Timeout,
		Transport: &tokenTransport{source: tokens, base: http.DefaultTransport},
	}, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	anon, err := newClient(&http.Client{Timeout: cfg.Timeout}, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Host{
		client:  authed,
		anon:    anon,
		org:     cfg.Organization,
		breaker: retry.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		logger:  log,
	}, nil
}

// do runs one API call behind the circuit breaker and maps the answer onto
// the project's error kinds. Client errors are permanent.
func (h *Host) do(op string, call func() (*gh.Response, error)) error {
	return h.breaker.Execute(func() error {
		resp, err := call()
		if err == nil {
			return nil
		}
		err = fmt.Errorf("%s: %w", op, err)

		var rateErr *gh.RateLimitError
		var abuseErr *gh.AbuseRateLimitError
		if errors.As(err, &rateErr) || errors.As(err, &abuseErr) || resp == nil {
			return err
		}
		switch code := resp.StatusCode; {
		case code == http.StatusNotFound:
			return retry.Permanent(fmt.Errorf("%w: %w", errdefs.ErrNotFound, err))
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return retry.Permanent(err)
		}
		return err
	})
}

func unprocessable(err error) bool {
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusUnprocessableEntity
}

func alreadyExists(err error) bool {
	var er *gh.ErrorResponse
	if !unprocessable(err) || !errors.As(err, &er) {
		return false
	}
	if strings.Contains(strings.ToLower(er.Message), "already exists") {
		return true
	}
	for _, e := range er.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}

func (h *Host) ref(repo *gh.Repository) domain.RepoRef {
	ref := domain.RepoRef{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		URL:           repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
	}
	if ref.Owner == "" {
		ref.Owner = h.org
	}
	if ref.DefaultBranch == "" {
		ref.DefaultBranch = defaultBranch
	}
	return ref
}

// EnsureRepository creates a private repository in the organization and
// reports whether it was created by this call.
func (h *Host) EnsureRepository(ctx context.Context, name string) (domain.RepoRef, bool, error) {
	var repo *gh.Repository
	err := h.do("create repository", func() (resp *gh.Response, err error) {
		repo, resp, err = h.client.Repositories.Create(ctx, h.org, &gh.Repository{
			Name:        gh.Ptr(name),
			Private:     gh.Ptr(true),
			HasIssues:   gh.Ptr(false),
			HasWiki:     gh.Ptr(false),
			HasProjects: gh.Ptr(false),
		})
		return resp, err
	})
	if err == nil {
		h.logger.Info(ctx, "Repository created", zap.String("repository", name))
		return h.ref(repo), true, nil
	}
	if !alreadyExists(err) {
		return domain.RepoRef{}, false, err
	}

	h.logger.Info(ctx, "Repository already exists", zap.String("repository", name))
	err = h.do("get repository", func() (resp *gh.Response, err error) {
		repo, resp, err = h.client.Repositories.Get(ctx, h.org, name)
		return resp, err
	})
	if err != nil {
		return domain.RepoRef{}, false, err
	}
	return h.ref(repo), false, nil
}

func readme(b publish.Bootstrap) string {
	return fmt.Sprintf("Repository for homework, tests and exams.\n\nStudent: **%s**\n\nGroup: **%s**\n",
		b.StudentName, b.GroupName)
}

// BootstrapRepository writes the readme, invites the student and finally
// leaves a marker file. A repository with the marker is left alone.
func (h *Host) BootstrapRepository(ctx context.Context, repo domain.RepoRef, b publish.Bootstrap) (bool, error) {
	err := h.do("get bootstrap marker", func() (*gh.Response, error) {
		_, _, resp, err := h.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, markerFile, nil)
		return resp, err
	})
	if err == nil {
		h.logger.Info(ctx, "Repository already bootstrapped", zap.String("repository", repo.Name))
		return false, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return false, err
	}

	if err := h.createFile(ctx, repo, "", readmeFile, "create readme file", []byte(readme(b))); err != nil {
		h.logger.Warn(ctx, "Failed to create readme", zap.String("repository", repo.Name), zap.Error(err))
	}

	var invited bool
	err = h.do("add collaborator", func() (*gh.Response, error) {
		_, resp, err := h.client.Repositories.AddCollaborator(ctx, repo.Owner, repo.Name, b.GithubLogin,
			&gh.RepositoryAddCollaboratorOptions{Permission: collaboratorPerm})
		invited = resp != nil && resp.StatusCode == http.StatusCreated
		return resp, err
	})
	if err != nil {
		return false, err
	}
	h.logger.Info(ctx, "Collaborator added",
		zap.String("repository", repo.Name),
		zap.String("login", b.GithubLogin),
		zap.Bool("invited", invited),
	)

	err = h.createFile(ctx, repo, "", markerFile, "initial bootstrap done", []byte{})
	if err != nil && !unprocessable(err) {
		return invited, err
	}
	return invited, nil
}

func (h *Host) createFile(ctx context.Context, repo domain.RepoRef, branch, path, message string, content []byte) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
	}
	if branch != "" {
		opts.Branch = gh.Ptr(branch)
	}
	return h.do("create file "+path, func() (*gh.Response, error) {
		_, resp, err := h.client.Repositories.CreateFile(ctx, repo.Owner, repo.Name, path, opts)
		return resp, err
	})
}

// EnsureBranch creates the branch from the default branch tip and returns
// its full ref name.
func (h *Host) EnsureBranch(ctx context.Context, repo domain.RepoRef, branch string) (string, error) {
	ref := "refs/heads/" + branch

	var base *gh.Reference
	err := h.do("get default branch", func() (resp *gh.Response, err error) {
		base, resp, err = h.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+repo.DefaultBranch)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	err = h.do("create branch", func() (*gh.Response, error) {
		_, resp, err := h.client.Git.CreateRef(ctx, repo.Owner, repo.Name, &gh.Reference{
			Ref:    gh.Ptr(ref),
			Object: &gh.GitObject{SHA: base.GetObject().SHA},
		})
		return resp, err
	})
	if err != nil && !alreadyExists(err) {
		return "", err
	}
	return ref, nil
}

// PutFile commits a new file. When the file is already there the call
// succeeds only if the file can actually be read back.
func (h *Host) PutFile(ctx context.Context, repo domain.RepoRef, branch, path, message string, content []byte) error {
	err := h.createFile(ctx, repo, branch, path, message, content)
	if err == nil || !unprocessable(err) {
		return err
	}

	h.logger.Info(ctx, "File already exists", zap.String("path", path), zap.String("branch", branch))
	err = h.do("get file "+path, func() (*gh.Response, error) {
		_, _, resp, err := h.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path,
			&gh.RepositoryContentGetOptions{Ref: branch})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("file reported as existing but cannot be read: %w", err)
	}
	return nil
}

func (h *Host) FindReviewRequest(ctx context.Context, repo domain.RepoRef, branch string) (string, bool, error) {
	var pulls []*gh.PullRequest
	err := h.do("list pull requests", func() (resp *gh.Response, err error) {
		pulls, resp, err = h.client.PullRequests.List(ctx, repo.Owner, repo.Name, &gh.PullRequestListOptions{
			State: "open",
			Head:  repo.Owner + ":" + branch,
		})
		return resp, err
	})
	if err != nil {
		return "", false, err
	}
	if len(pulls) == 0 {
		return "", false, nil
	}
	return pulls[0].GetHTMLURL(), true, nil
}

func (h *Host) OpenReviewRequest(ctx context.Context, repo domain.RepoRef, req publish.ReviewRequest) (string, error) {
	var pull *gh.PullRequest
	err := h.do("create pull request", func() (resp *gh.Response, err error) {
		pull, resp, err = h.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &gh.NewPullRequest{
			Title: gh.Ptr(req.Title),
			Head:  gh.Ptr(req.Head),
			Base:  gh.Ptr(req.Base),
			Body:  gh.Ptr(req.Body),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return pull.GetHTMLURL(), nil
}

func (h *Host) UserExists(ctx context.Context, login string) (bool, error) {
	err := h.do("get user", func() (*gh.Response, error) {
		_, resp, err := h.anon.Users.Get(ctx, login)
		return resp, err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errdefs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// FetchCatalog reads the task statements of a gist. Only files named
// <number>.md are tasks.
func (h *Host) FetchCatalog(ctx context.Context, catalogID string) (map[int]string, error) {
	var gist *gh.Gist
	err := h.do("get gist", func() (resp *gh.Response, err error) {
		gist, resp, err = h.anon.Gists.Get(ctx, catalogID)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	tasks := make(map[int]string)
	for name, f := range gist.Files {
		m := taskFilePattern.FindStringSubmatch(string(name))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		tasks[n] = f.GetContent()
	}
	h.logger.Debug(ctx, "Catalog fetched", zap.String("catalog_id", catalogID), zap.Int("tasks", len(tasks)))
	return tasks, nil
}
