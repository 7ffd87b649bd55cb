package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
)

func (e *Engine) uploadSelected(ctx context.Context, t *turn, typ domain.AssignmentType) (State, error) {
	assignments, err := e.Assignments.ListAvailable(ctx, t.user.ID, &typ)
	if err != nil {
		return "", fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(assignments) == 0 {
		if err := e.reply(ctx, t, msgNoAssignments, nil); err != nil {
			return "", err
		}
		return e.start(ctx, t)
	}

	t.session.Data.AssignmentType = typ
	buttons := make([]chat.Button, 0, len(assignments))
	for _, a := range assignments {
		buttons = append(buttons, chat.Button{Text: a.Name, Data: IDIntent(IntentAssignment, a.ID).Data()})
	}
	text := msgSelectHomework
	if typ == domain.AssignmentTypeTest {
		text = msgSelectTest
	}
	if err := e.reply(ctx, t, text, chat.Column(buttons...)); err != nil {
		return "", err
	}
	return StateWaitSelectAssignment, nil
}

func (e *Engine) assignmentSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	user, err := e.actor(ctx, t)
	if err != nil {
		return "", err
	}
	a, err := e.Assignments.GetByID(ctx, in.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load assignment: %w", err)
	}
	member, err := e.memberOf(ctx, t, a.GroupID)
	if err != nil {
		return "", err
	}
	if !a.IsEnabled || !member {
		t.notice = noticeNotAvailable
		return StateWaitSelectAssignment, nil
	}

	tasks, err := e.Catalog.TaskCount(ctx, a.CatalogURL)
	if err != nil {
		return "", fmt.Errorf("failed to count tasks: %w", err)
	}
	submissions, err := e.Submissions.ListByAuthorAndAssignment(ctx, user.ID, a.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list submissions: %w", err)
	}

	t.session.Data.UserID = user.ID
	t.session.Data.AssignmentID = a.ID
	if err := e.reply(ctx, t, msgSelectTask(a.CatalogURL), chat.Column(TaskButtons(tasks, submissions)...)); err != nil {
		return "", err
	}
	return StateWaitSelectTask, nil
}

// TaskButtons lists tasks 1..count. Unsubmitted tasks are selectable,
// published ones link to their review request and ones still being
// published are left out.
func TaskButtons(count int, submissions []domain.Submission) []chat.Button {
	byTask := make(map[int]domain.Submission, len(submissions))
	for _, s := range submissions {
		byTask[s.TaskID] = s
	}

	buttons := make([]chat.Button, 0, count)
	for id := 1; id <= count; id++ {
		s, ok := byTask[id]
		switch {
		case !ok:
			buttons = append(buttons, chat.Button{
				Text: fmt.Sprintf("№ %d", id),
				Data: IDIntent(IntentTask, int64(id)).Data(),
			})
		case s.PullURL != nil:
			buttons = append(buttons, chat.Button{
				Text: fmt.Sprintf("№ %d [%s]", id, s.Status),
				URL:  *s.PullURL,
			})
		}
	}
	return buttons
}

// taskSelected accepts only tasks TaskButtons would offer: within the
// catalog and not yet submitted by the actor.
func (e *Engine) taskSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	data := t.session.Data
	if data.UserID == 0 || data.AssignmentID == 0 {
		return e.start(ctx, t)
	}
	a, err := e.Assignments.GetByID(ctx, data.AssignmentID)
	if err != nil {
		return "", fmt.Errorf("failed to load assignment: %w", err)
	}
	tasks, err := e.Catalog.TaskCount(ctx, a.CatalogURL)
	if err != nil {
		return "", fmt.Errorf("failed to count tasks: %w", err)
	}
	if in.ID < 1 || in.ID > int64(tasks) {
		t.notice = noticeNotAvailable
		return StateWaitSelectTask, nil
	}
	submissions, err := e.Submissions.ListByAuthorAndAssignment(ctx, data.UserID, a.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list submissions: %w", err)
	}
	for _, s := range submissions {
		if int64(s.TaskID) == in.ID {
			t.notice = noticeNotAvailable
			return StateWaitSelectTask, nil
		}
	}

	t.session.Data.TaskID = int(in.ID)
	if err := e.reply(ctx, t, msgSendFile, nil); err != nil {
		return "", err
	}
	return StateWaitFile, nil
}

func (e *Engine) hasAllowedExtension(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range e.cfg.AllowedExtensions {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (e *Engine) documentUploaded(ctx context.Context, t *turn, doc Document) (State, error) {
	if !e.hasAllowedExtension(doc.FileName) {
		if _, err := e.send(ctx, t, msgWrongFileFormat(e.cfg.AllowedExtensions), nil); err != nil {
			return "", err
		}
		return StateWaitFile, nil
	}

	data := t.session.Data
	if data.UserID == 0 || data.AssignmentID == 0 || data.TaskID == 0 {
		return e.start(ctx, t)
	}

	waitID, err := e.send(ctx, t, msgWaitASecond, nil)
	if err != nil {
		return "", err
	}

	text, next, err := e.storeSubmission(ctx, data, doc)
	if err != nil {
		e.Logger.Error(ctx, "Failed to accept submission",
			zap.Int64("assignment_id", data.AssignmentID),
			zap.Int("task_id", data.TaskID),
			zap.Error(err),
		)
		if err := e.edit(ctx, t, waitID, msgErrorRetry, nil); err != nil {
			return "", err
		}
		return StateWaitFile, nil
	}
	if err := e.edit(ctx, t, waitID, text, nil); err != nil {
		return "", err
	}
	if next == StateKnown {
		t.session.Data = Data{}
	}
	return next, nil
}

// storeSubmission uploads the file, creates a pending submission and
// queues it for publishing. A repeated upload for the same task only
// re-queues a submission that is still pending.
func (e *Engine) storeSubmission(ctx context.Context, data Data, doc Document) (string, State, error) {
	content, err := e.Files.DownloadFile(ctx, doc.FileID)
	if err != nil {
		return "", "", fmt.Errorf("failed to download file: %w", err)
	}

	key := e.cfg.UploadPrefix + "/" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := e.Storage.Put(ctx, key, content); err != nil {
		return "", "", fmt.Errorf("failed to store file: %w", err)
	}

	s, err := e.Submissions.Create(ctx, &repository.CreateSubmissionInput{
		AuthorID:     data.UserID,
		AssignmentID: data.AssignmentID,
		TaskID:       data.TaskID,
		ObjectKey:    key,
	})
	if errors.Is(err, errdefs.ErrAlreadyExists) {
		s, err = e.existingSubmission(ctx, data)
		if err != nil {
			return "", "", err
		}
		if s.Status != domain.SubmissionStatusPending {
			return msgAlreadySubmitted, StateKnown, nil
		}
	} else if err != nil {
		return "", "", fmt.Errorf("failed to create submission: %w", err)
	}

	if err := e.Queue.EnqueuePublish(ctx, s.ID); err != nil {
		return "", "", fmt.Errorf("failed to enqueue submission %d: %w", s.ID, err)
	}

	e.Logger.Info(ctx, "Submission accepted",
		zap.Int64("submission_id", s.ID),
		zap.String("object_key", s.ObjectKey),
	)
	return msgFileUploaded, StateKnown, nil
}

func (e *Engine) existingSubmission(ctx context.Context, data Data) (*domain.Submission, error) {
	list, err := e.Submissions.ListByAuthorAndAssignment(ctx, data.UserID, data.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	for i := range list {
		if list[i].TaskID == data.TaskID {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("submission for task %d: %w", data.TaskID, errdefs.ErrNotFound)
}
