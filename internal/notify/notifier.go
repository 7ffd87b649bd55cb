package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
	"homework_bot/pkg/logger"
)

type Users interface {
	GetByID(ctx context.Context, id int64) (*domain.BotUser, error)
	ListStaffForAuthor(ctx context.Context, authorID int64, includeAuthor bool) ([]domain.BotUser, error)
}

type Assignments interface {
	GetByID(ctx context.Context, id int64) (*domain.Assignment, error)
}

type Config struct {
	AdminChatID int64
	// Debug lets staff authors receive notifications about their own
	// submissions.
	Debug bool
}

// Notifier sends submission notifications to chats.
type Notifier struct {
	users       Users
	assignments Assignments
	sender      chat.Sender
	cfg         Config
	logger      *logger.Logger
}

func New(users Users, assignments Assignments, sender chat.Sender, cfg Config, log *logger.Logger) *Notifier {
	return &Notifier{
		users:       users,
		assignments: assignments,
		sender:      sender,
		cfg:         cfg,
		logger:      log,
	}
}

type subject struct {
	submission *domain.Submission
	author     *domain.BotUser
	assignment *domain.Assignment
	pullURL    string
}

func (n *Notifier) load(ctx context.Context, s *domain.Submission) (*subject, error) {
	author, err := n.users.GetByID(ctx, s.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load author: %w", err)
	}
	a, err := n.assignments.GetByID(ctx, s.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	sub := &subject{submission: s, author: author, assignment: a}
	if s.PullURL != nil {
		sub.pullURL = *s.PullURL
	}
	return sub, nil
}

func (n *Notifier) SubmissionPublished(ctx context.Context, s *domain.Submission) error {
	sub, err := n.load(ctx, s)
	if err != nil {
		return err
	}
	n.logger.Info(ctx, "Notifying about new submission", zap.Int64("submission_id", s.ID))

	return errors.Join(
		n.sendTo(ctx, sub.author, msgPublished(sub)),
		n.sendToStaff(ctx, sub, msgPublishedStaff(sub)),
	)
}

func (n *Notifier) SubmissionNeedwork(ctx context.Context, s *domain.Submission) error {
	sub, err := n.load(ctx, s)
	if err != nil {
		return err
	}
	return n.sendTo(ctx, sub.author, msgNeedwork(sub))
}

func (n *Notifier) SubmissionAccepted(ctx context.Context, s *domain.Submission) error {
	sub, err := n.load(ctx, s)
	if err != nil {
		return err
	}
	return n.sendTo(ctx, sub.author, msgAccepted(sub))
}

// StudentActivity tells staff about a comment or push by the student.
func (n *Notifier) StudentActivity(ctx context.Context, s *domain.Submission, kind string, actorID int64) error {
	sub, err := n.load(ctx, s)
	if err != nil {
		return err
	}
	student := sub.author
	if actorID != 0 && actorID != sub.author.ID {
		if student, err = n.users.GetByID(ctx, actorID); err != nil {
			return fmt.Errorf("failed to load student: %w", err)
		}
	}

	var text string
	switch kind {
	case domain.EventComment:
		text = msgStudentComment(sub, student)
	case domain.EventPush:
		text = msgStudentPush(sub, student)
	default:
		return nil
	}
	return n.sendToStaff(ctx, sub, text)
}

func (n *Notifier) RepositoryInvited(ctx context.Context, user *domain.BotUser, repoURL string) error {
	return n.sendTo(ctx, user, msgInviteSent(repoURL))
}

func (n *Notifier) BadEncoding(ctx context.Context, s *domain.Submission) error {
	if n.cfg.AdminChatID == 0 {
		n.logger.Warn(ctx, "Admin chat is not configured", zap.Int64("submission_id", s.ID))
		return nil
	}
	if _, err := n.sender.Send(ctx, n.cfg.AdminChatID, msgBadEncoding(s.ID), nil); err != nil {
		return fmt.Errorf("failed to notify admin: %w", err)
	}
	return nil
}

func (n *Notifier) sendTo(ctx context.Context, user *domain.BotUser, text string) error {
	if user.TelegramChatID == nil {
		n.logger.Debug(ctx, "User has no chat, skipping notification", zap.Int64("user_id", user.ID))
		return nil
	}
	if _, err := n.sender.Send(ctx, *user.TelegramChatID, text, nil); err != nil {
		return fmt.Errorf("failed to notify user %d: %w", user.ID, err)
	}
	return nil
}

// sendToStaff delivers to every staff member of the author's groups. One
// failed delivery does not stop the others.
func (n *Notifier) sendToStaff(ctx context.Context, sub *subject, text string) error {
	staff, err := n.users.ListStaffForAuthor(ctx, sub.author.ID, n.cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to list staff: %w", err)
	}

	var errs []error
	for i := range staff {
		if err := n.sendTo(ctx, &staff[i], text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
