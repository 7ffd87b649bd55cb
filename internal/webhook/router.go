package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/lifecycle"
	"homework_bot/pkg/logger"
)

const (
	commentFragmentLen = 100

	PayloadTextFragment = "text_fragment"
	PayloadCommenterID  = "commenter_id"
	PayloadPusherID     = "pusher_id"
)

type Users interface {
	GetByGithubLogin(ctx context.Context, login string) (*domain.BotUser, error)
}

type Submissions interface {
	GetByPullURL(ctx context.Context, pullURL string) (*domain.Submission, error)
	GetByRefAndRepository(ctx context.Context, ref, repoName string) (*domain.Submission, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*domain.Submission, error)
	RecordActivity(ctx context.Context, req lifecycle.ActivityRequest) (*lifecycle.ActivityResult, error)
}

// Target identifies a submission either by its review request URL or by
// its branch ref in a repository.
type Target struct {
	PullURL    string
	Ref        string
	Repository string
}

func (t Target) String() string {
	if t.PullURL != "" {
		return t.PullURL
	}
	return t.Repository + "@" + t.Ref
}

// Origin carries what differs between live deliveries and replayed ones.
type Origin struct {
	DedupKey   string
	OccurredAt time.Time
	Notify     bool
	// DryRun resolves and validates without touching the lifecycle.
	DryRun bool
}

// Router applies comment, push and review rules to submissions. It is shared
// by the webhook dispatcher and the event replay.
type Router struct {
	users       Users
	submissions Submissions
	lifecycle   Lifecycle
	logger      *logger.Logger
}

func NewRouter(users Users, submissions Submissions, lc Lifecycle, log *logger.Logger) *Router {
	return &Router{
		users:       users,
		submissions: submissions,
		lifecycle:   lc,
		logger:      log,
	}
}

// Comment handles a comment on a review request. Staff commands drive
// verdicts, staff free text is ignored and student text is recorded as
// activity.
func (r *Router) Comment(ctx context.Context, target Target, author, body string, o Origin) error {
	s, user, err := r.resolve(ctx, target, author)
	if err != nil {
		return err
	}

	if user.IsStaff() {
		return r.staffText(ctx, s, user, body, o)
	}

	if strings.TrimSpace(body) == "" {
		r.logger.Info(ctx, "empty student comment ignored", zap.Int64("submission_id", s.ID))
		return nil
	}
	if o.DryRun {
		return nil
	}

	_, err = r.lifecycle.RecordActivity(ctx, lifecycle.ActivityRequest{
		SubmissionID: s.ID,
		Kind:         domain.EventComment,
		ActorID:      user.ID,
		Payload: map[string]any{
			PayloadTextFragment: Fragment(body),
			PayloadCommenterID:  user.ID,
		},
		OccurredAt: o.OccurredAt,
		DedupKey:   o.DedupKey,
		Notify:     o.Notify,
	})
	return err
}

// Push records student pushes. Staff pushes are ignored.
func (r *Router) Push(ctx context.Context, target Target, pusher string, o Origin) error {
	s, user, err := r.resolve(ctx, target, pusher)
	if err != nil {
		return err
	}

	if user.IsStaff() {
		r.logger.Info(ctx, "staff push ignored", zap.Int64("submission_id", s.ID))
		return nil
	}
	if o.DryRun {
		return nil
	}

	_, err = r.lifecycle.RecordActivity(ctx, lifecycle.ActivityRequest{
		SubmissionID: s.ID,
		Kind:         domain.EventPush,
		ActorID:      user.ID,
		Payload:      map[string]any{PayloadPusherID: user.ID},
		OccurredAt:   o.OccurredAt,
		DedupKey:     o.DedupKey,
		Notify:       o.Notify,
	})
	return err
}

// Review maps a staff review verdict to a transition. Plain review comments
// are read as staff comments.
func (r *Router) Review(ctx context.Context, target Target, reviewer, state, body string, o Origin) error {
	s, user, err := r.resolve(ctx, target, reviewer)
	if err != nil {
		return err
	}

	if !user.IsStaff() {
		r.logger.Info(ctx, "review from non-staff ignored",
			zap.Int64("submission_id", s.ID), zap.String("reviewer", reviewer))
		return nil
	}

	switch strings.ToLower(state) {
	case "changes_requested":
		return r.verdict(ctx, s, user, CommandNeedwork, o)
	case "approved":
		return r.verdict(ctx, s, user, CommandAccepted, o)
	case "commented":
		return r.staffText(ctx, s, user, body, o)
	default:
		r.logger.Info(ctx, "unsupported review state", zap.String("state", state))
		return nil
	}
}

func (r *Router) staffText(ctx context.Context, s *domain.Submission, user *domain.BotUser, text string, o Origin) error {
	cmd, ok := ParseCommand(text)
	if ok {
		return r.verdict(ctx, s, user, cmd, o)
	}
	if looksLikeCommand(text) {
		return fmt.Errorf("%w: unknown command %q", errdefs.ErrValidation, strings.TrimSpace(text))
	}
	r.logger.Debug(ctx, "staff comment is not a command", zap.Int64("submission_id", s.ID))
	return nil
}

func (r *Router) verdict(ctx context.Context, s *domain.Submission, user *domain.BotUser, cmd Command, o Origin) error {
	if o.DryRun {
		return nil
	}
	actorID := user.ID
	_, err := r.lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		SubmissionID: s.ID,
		Target:       cmd.Target(),
		ActorID:      &actorID,
		OccurredAt:   o.OccurredAt,
		DedupKey:     o.DedupKey,
		Notify:       o.Notify,
	})
	return err
}

func (r *Router) resolve(ctx context.Context, target Target, login string) (*domain.Submission, *domain.BotUser, error) {
	var (
		s   *domain.Submission
		err error
	)
	if target.PullURL != "" {
		s, err = r.submissions.GetByPullURL(ctx, target.PullURL)
	} else {
		s, err = r.submissions.GetByRefAndRepository(ctx, target.Ref, target.Repository)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("no submission for %s: %w", target, err)
	}

	if login == "" {
		return nil, nil, fmt.Errorf("%w: event has no author", errdefs.ErrNotFound)
	}
	user, err := r.users.GetByGithubLogin(ctx, login)
	if err != nil {
		return nil, nil, fmt.Errorf("unknown user %s: %w", login, err)
	}
	return s, user, nil
}

// Fragment cuts a comment to the stored length, counting characters.
func Fragment(text string) string {
	runes := []rune(text)
	if len(runes) <= commentFragmentLen {
		return text
	}
	return string(runes[:commentFragmentLen])
}
