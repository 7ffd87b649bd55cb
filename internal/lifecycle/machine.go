package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
	"homework_bot/pkg/logger"
)

const (
	PayloadAcceptedBy = "accepted_by"
)

type Store interface {
	InTx(ctx context.Context, id int64, fn func(ctx context.Context, tx repository.SubmissionTx) error) error
}

// Notifier delivers chat notifications about lifecycle changes. Errors are
// logged by the machine and never undo a committed change.
type Notifier interface {
	SubmissionPublished(ctx context.Context, s *domain.Submission) error
	SubmissionNeedwork(ctx context.Context, s *domain.Submission) error
	SubmissionAccepted(ctx context.Context, s *domain.Submission) error
	StudentActivity(ctx context.Context, s *domain.Submission, kind string, actorID int64) error
}

// PublishResult is stored on the submission together with its move to review.
type PublishResult struct {
	PullURL      string
	GitRef       string
	RepositoryID int64
}

type TransitionRequest struct {
	SubmissionID int64
	Target       domain.SubmissionStatus
	ActorID      *int64
	Payload      map[string]any
	// OccurredAt backdates the audit event. Zero means now.
	OccurredAt time.Time
	DedupKey   string
	Published  *PublishResult
	Notify     bool
}

type ActivityRequest struct {
	SubmissionID int64
	Kind         string
	ActorID      int64
	Payload      map[string]any
	OccurredAt   time.Time
	DedupKey     string
	Notify       bool
}

type ActivityResult struct {
	Submission *domain.Submission
	// Recorded is false when the dedup key was already seen.
	Recorded bool
	// Reopened is set when the activity moved the submission from needwork
	// back to review.
	Reopened bool
}

var errDuplicate = errors.New("duplicate event")

type Machine struct {
	store    Store
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func New(store Store, notifier Notifier, log *logger.Logger) *Machine {
	return &Machine{
		store:    store,
		notifier: notifier,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves a submission to req.Target and appends the matching audit
// event in one transaction. It fails with errdefs.ErrTransitionRejected when
// the current status does not allow the target, or when req.OccurredAt is
// earlier than the latest recorded status change. A request whose dedup key
// is already recorded changes nothing and returns the current submission.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (*domain.Submission, error) {
	var (
		result  domain.Submission
		applied bool
	)

	err := m.store.InTx(ctx, req.SubmissionID, func(ctx context.Context, tx repository.SubmissionTx) error {
		s := tx.Submission()

		if req.DedupKey != "" {
			seen, err := tx.EventSeen(ctx, req.DedupKey)
			if err != nil {
				return err
			}
			if seen {
				result = *s
				return nil
			}
		}

		if !domain.CanTransition(s.Status, req.Target) {
			return fmt.Errorf("%w: %s -> %s", errdefs.ErrTransitionRejected, s.Status, req.Target)
		}

		occurredAt := m.occurredAt(req.OccurredAt)
		last, err := tx.LastStateEventAt(ctx)
		if err != nil {
			return fmt.Errorf("failed to load last status event: %w", err)
		}
		if occurredAt.Before(last) {
			return fmt.Errorf("%w: %s at %s precedes the status change at %s", errdefs.ErrTransitionRejected,
				req.Target, occurredAt.Format(time.RFC3339), last.Format(time.RFC3339))
		}

		s.Status = req.Target
		if p := req.Published; p != nil {
			s.PullURL = &p.PullURL
			s.GitRef = &p.GitRef
			s.RepositoryID = &p.RepositoryID
		}
		if err := tx.Save(ctx); err != nil {
			return fmt.Errorf("failed to save submission: %w", err)
		}

		event := &domain.SubmissionEvent{
			Event:      string(req.Target),
			Payload:    transitionPayload(req),
			OccurredAt: occurredAt,
			DedupKey:   dedupKey(req.DedupKey),
		}
		appended, err := tx.AppendEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		if !appended {
			return errDuplicate
		}

		result = *s
		applied = true
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return m.current(ctx, req.SubmissionID)
	}
	if err != nil {
		return nil, err
	}

	if applied {
		m.logger.Info(ctx, "submission transitioned",
			zap.Int64("submission_id", result.ID),
			zap.String("status", string(result.Status)),
		)
		if req.Notify {
			m.notifyTransition(ctx, &result, req)
		}
	}

	return &result, nil
}

// RecordActivity appends a comment or push event. Student activity on a
// needwork submission moves it back to review within the same transaction,
// unless the activity happened before the submission entered needwork.
func (m *Machine) RecordActivity(ctx context.Context, req ActivityRequest) (*ActivityResult, error) {
	res := &ActivityResult{}

	err := m.store.InTx(ctx, req.SubmissionID, func(ctx context.Context, tx repository.SubmissionTx) error {
		s := tx.Submission()

		if req.DedupKey != "" {
			seen, err := tx.EventSeen(ctx, req.DedupKey)
			if err != nil {
				return err
			}
			if seen {
				snapshot := *s
				res.Submission = &snapshot
				return nil
			}
		}

		occurredAt := m.occurredAt(req.OccurredAt)

		appended, err := tx.AppendEvent(ctx, &domain.SubmissionEvent{
			Event:      req.Kind,
			Payload:    req.Payload,
			OccurredAt: occurredAt,
			DedupKey:   dedupKey(req.DedupKey),
		})
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		if !appended {
			return errDuplicate
		}
		res.Recorded = true

		if s.Status != domain.SubmissionStatusNeedwork || !domain.StudentActivity(req.Kind) {
			snapshot := *s
			res.Submission = &snapshot
			return nil
		}

		// Activity older than the needwork verdict does not answer it.
		last, err := tx.LastStateEventAt(ctx)
		if err != nil {
			return fmt.Errorf("failed to load last status event: %w", err)
		}
		if !occurredAt.Before(last) {
			s.Status = domain.SubmissionStatusReview
			if err := tx.Save(ctx); err != nil {
				return fmt.Errorf("failed to save submission: %w", err)
			}
			if _, err := tx.AppendEvent(ctx, &domain.SubmissionEvent{
				Event:      domain.EventReview,
				OccurredAt: occurredAt,
			}); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}
			res.Reopened = true
		}

		snapshot := *s
		res.Submission = &snapshot
		return nil
	})
	if errors.Is(err, errDuplicate) {
		s, err := m.current(ctx, req.SubmissionID)
		if err != nil {
			return nil, err
		}
		return &ActivityResult{Submission: s}, nil
	}
	if err != nil {
		return nil, err
	}

	if res.Recorded {
		m.logger.Info(ctx, "submission activity recorded",
			zap.Int64("submission_id", req.SubmissionID),
			zap.String("kind", req.Kind),
			zap.Bool("reopened", res.Reopened),
		)
		if req.Notify && domain.StudentActivity(req.Kind) {
			if err := m.notifier.StudentActivity(ctx, res.Submission, req.Kind, req.ActorID); err != nil {
				m.logger.Warn(ctx, "failed to notify about activity",
					zap.Int64("submission_id", req.SubmissionID), zap.Error(err))
			}
		}
	}

	return res, nil
}

// MarkCreated backdates a submission's creation time. Used when importing
// history.
func (m *Machine) MarkCreated(ctx context.Context, id int64, createdAt time.Time) error {
	return m.store.InTx(ctx, id, func(ctx context.Context, tx repository.SubmissionTx) error {
		s := tx.Submission()
		if s.CreatedAt.Equal(createdAt) {
			return nil
		}
		s.CreatedAt = createdAt
		return tx.Save(ctx)
	})
}

func (m *Machine) current(ctx context.Context, id int64) (*domain.Submission, error) {
	var snapshot domain.Submission
	err := m.store.InTx(ctx, id, func(ctx context.Context, tx repository.SubmissionTx) error {
		snapshot = *tx.Submission()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (m *Machine) notifyTransition(ctx context.Context, s *domain.Submission, req TransitionRequest) {
	var err error
	switch req.Target {
	case domain.SubmissionStatusNeedwork:
		err = m.notifier.SubmissionNeedwork(ctx, s)
	case domain.SubmissionStatusAccepted:
		err = m.notifier.SubmissionAccepted(ctx, s)
	case domain.SubmissionStatusReview:
		if req.Published != nil {
			err = m.notifier.SubmissionPublished(ctx, s)
		}
	}
	if err != nil {
		m.logger.Warn(ctx, "failed to notify about transition",
			zap.Int64("submission_id", s.ID),
			zap.String("status", string(s.Status)),
			zap.Error(err),
		)
	}
}

func (m *Machine) occurredAt(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t.UTC()
}

func transitionPayload(req TransitionRequest) map[string]any {
	if req.Target != domain.SubmissionStatusAccepted || req.ActorID == nil {
		return req.Payload
	}
	payload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload[PayloadAcceptedBy] = *req.ActorID
	return payload
}

func dedupKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}
