package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"homework_bot/internal/catalog"
	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
)

type groupStep func(ctx context.Context, t *turn) (State, error)

// selectGroup asks for one of the actor's groups, skipping the question
// when there is only one.
func (e *Engine) selectGroup(ctx context.Context, t *turn, kind IntentKind, waiting State, next groupStep) (State, error) {
	groups, err := e.Users.ListUserGroups(ctx, t.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list user groups: %w", err)
	}

	switch len(groups) {
	case 0:
		if err := e.reply(ctx, t, msgNoGroups, nil); err != nil {
			return "", err
		}
		return StateKnown, nil
	case 1:
		t.session.Data.GroupID = groups[0].ID
		return next(ctx, t)
	}

	buttons := make([]chat.Button, 0, len(groups))
	for _, g := range groups {
		buttons = append(buttons, chat.Button{Text: g.Name, Data: IDIntent(kind, g.ID).Data()})
	}
	if err := e.reply(ctx, t, msgSelectGroup, chat.Column(buttons...)); err != nil {
		return "", err
	}
	return waiting, nil
}

// memberOf checks that a group picked from a keyboard is one of the actor's.
func (e *Engine) memberOf(ctx context.Context, t *turn, groupID int64) (bool, error) {
	user, err := e.actor(ctx, t)
	if err != nil {
		return false, err
	}
	groups, err := e.Users.ListUserGroups(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list user groups: %w", err)
	}
	for _, g := range groups {
		if g.ID == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) groupForNewAssignmentSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	ok, err := e.memberOf(ctx, t, in.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		t.notice = noticeNotAvailable
		return StateWaitGroupForNewAssignment, nil
	}
	t.session.Data.GroupID = in.ID
	return e.askAssignmentType(ctx, t)
}

func (e *Engine) askAssignmentType(ctx context.Context, t *turn) (State, error) {
	kb := chat.Row(
		chat.Button{Text: "Test", Data: ValueIntent(IntentAssignmentType, string(domain.AssignmentTypeTest)).Data()},
		chat.Button{Text: "Homework", Data: ValueIntent(IntentAssignmentType, string(domain.AssignmentTypeHomework)).Data()},
	)
	if err := e.reply(ctx, t, msgSelectType, kb); err != nil {
		return "", err
	}
	return StateWaitAssignmentType, nil
}

func (e *Engine) assignmentTypeSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	typ := domain.AssignmentType(in.Value)
	t.session.Data.AssignmentType = typ
	if err := e.reply(ctx, t, msgAssignmentName(typ), nil); err != nil {
		return "", err
	}
	return StateWaitAssignmentName, nil
}

func (e *Engine) assignmentNameEntered(ctx context.Context, t *turn, text string) (State, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		if _, err := e.send(ctx, t, msgEmptyName, nil); err != nil {
			return "", err
		}
		return StateWaitAssignmentName, nil
	}
	t.session.Data.AssignmentName = name
	if _, err := e.send(ctx, t, msgSendCatalogLink, nil); err != nil {
		return "", err
	}
	return StateWaitCatalogLink, nil
}

func (e *Engine) catalogLinkEntered(ctx context.Context, t *turn, text string) (State, error) {
	link := strings.TrimSpace(text)
	if _, err := catalog.ParseCatalogURL(link); err != nil {
		if _, err := e.send(ctx, t, msgBadCatalogLink, nil); err != nil {
			return "", err
		}
		return StateWaitCatalogLink, nil
	}

	waitID, err := e.send(ctx, t, msgDownloadingCatalog, nil)
	if err != nil {
		return "", err
	}

	tasks, err := e.Catalog.Load(ctx, link)
	if err != nil {
		e.Logger.Warn(ctx, "Failed to load catalog", zap.String("url", link), zap.Error(err))
		if err := e.edit(ctx, t, waitID, msgBadCatalog, nil); err != nil {
			return "", err
		}
		return StateWaitCatalogLink, nil
	}
	if tasks == 0 {
		if err := e.edit(ctx, t, waitID, msgEmptyCatalog, nil); err != nil {
			return "", err
		}
		return StateWaitCatalogLink, nil
	}
	if err := e.edit(ctx, t, waitID, msgTasksFound(tasks), nil); err != nil {
		return "", err
	}

	user, err := e.actor(ctx, t)
	if err != nil {
		return "", err
	}
	data := t.session.Data
	a, err := e.Assignments.Create(ctx, &repository.CreateAssignmentInput{
		Name:       data.AssignmentName,
		Type:       data.AssignmentType,
		GroupID:    data.GroupID,
		CatalogURL: link,
		OwnerID:    user.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create assignment: %w", err)
	}

	e.Logger.Info(ctx, "Assignment created",
		zap.Int64("assignment_id", a.ID),
		zap.Int64("group_id", a.GroupID),
		zap.Int("seq", a.Seq),
	)

	t.session.Data.AssignmentID = a.ID
	kb := chat.Row(
		chat.Button{Text: "Yes", Data: ValueIntent(IntentEnable, "yes").Data()},
		chat.Button{Text: "No", Data: ValueIntent(IntentEnable, "no").Data()},
	)
	if _, err := e.send(ctx, t, msgAssignmentCreated(a, tasks), kb); err != nil {
		return "", err
	}
	return StateWaitEnableAssignment, nil
}

func (e *Engine) enableSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	text := msgAssignmentDisabled
	if in.Value == "yes" {
		if err := e.Assignments.SetEnabled(ctx, t.session.Data.AssignmentID, true); err != nil {
			return "", fmt.Errorf("failed to enable assignment: %w", err)
		}
		text = msgAssignmentEnabled
	}
	if err := e.reply(ctx, t, text, nil); err != nil {
		return "", err
	}
	t.session.Data = Data{}
	return StateKnown, nil
}

func (e *Engine) groupForListSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	ok, err := e.memberOf(ctx, t, in.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		t.notice = noticeNotAvailable
		return StateWaitGroupForAssignmentList, nil
	}
	t.session.Data.GroupID = in.ID
	return e.listAssignments(ctx, t)
}

func (e *Engine) listAssignments(ctx context.Context, t *turn) (State, error) {
	assignments, err := e.Assignments.ListByGroup(ctx, t.session.Data.GroupID)
	if err != nil {
		return "", fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(assignments) == 0 {
		if err := e.reply(ctx, t, msgNoAssignmentsYet, nil); err != nil {
			return "", err
		}
		return StateKnown, nil
	}

	buttons := make([]chat.Button, 0, len(assignments))
	for _, a := range assignments {
		mark := "🚫"
		if a.IsEnabled {
			mark = "✅"
		}
		buttons = append(buttons, chat.Button{
			Text: fmt.Sprintf("%s (%s) %s", a.Name, a.Type, mark),
			Data: IDIntent(IntentManageAssignment, a.ID).Data(),
		})
	}
	if err := e.reply(ctx, t, msgAssignmentList, chat.Column(buttons...)); err != nil {
		return "", err
	}
	return StateSelectAssignmentToManage, nil
}

func (e *Engine) assignmentToManageSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	a, err := e.Assignments.GetByID(ctx, in.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load assignment: %w", err)
	}
	ok, err := e.memberOf(ctx, t, a.GroupID)
	if err != nil {
		return "", err
	}
	if !ok {
		t.notice = noticeNotAvailable
		return StateSelectAssignmentToManage, nil
	}
	t.session.Data.AssignmentID = a.ID
	if err := e.showAssignment(ctx, t, a); err != nil {
		return "", err
	}
	return StateWaitCommandForAssignment, nil
}

func (e *Engine) showAssignment(ctx context.Context, t *turn, a *domain.Assignment) error {
	counts, err := e.Assignments.CountByStatus(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to count submissions: %w", err)
	}
	tasks, err := e.Catalog.TaskCount(ctx, a.CatalogURL)
	if err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}
	return e.reply(ctx, t, msgAssignmentInfo(a, tasks, counts), manageKeyboard(a, counts[domain.SubmissionStatusReview]))
}

func manageKeyboard(a *domain.Assignment, onReview int) *chat.Keyboard {
	toggle := "Disabled 🚫"
	if a.IsEnabled {
		toggle = "Enabled ✅"
	}
	buttons := []chat.Button{
		{Text: toggle, Data: ValueIntent(IntentManageCommand, string(ManageToggle)).Data()},
	}
	if onReview > 0 {
		buttons = append(buttons, chat.Button{
			Text: fmt.Sprintf("On review (%d)", onReview),
			Data: ValueIntent(IntentManageCommand, string(ManageReview)).Data(),
		})
	}
	return chat.Column(buttons...)
}

func (e *Engine) manageCommandSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	user, err := e.actor(ctx, t)
	if err != nil {
		return "", err
	}
	a, err := e.Assignments.GetByID(ctx, t.session.Data.AssignmentID)
	if err != nil {
		return "", fmt.Errorf("failed to load assignment: %w", err)
	}

	switch ManageCommand(in.Value) {
	case ManageToggle:
		if a.OwnerID != user.ID {
			t.notice = noticeOwnerOnly
			return StateWaitCommandForAssignment, nil
		}
		a.IsEnabled = !a.IsEnabled
		if err := e.Assignments.SetEnabled(ctx, a.ID, a.IsEnabled); err != nil {
			return "", fmt.Errorf("failed to toggle assignment: %w", err)
		}
		if err := e.showAssignment(ctx, t, a); err != nil {
			return "", err
		}
		t.notice = noticeDone
		return StateWaitCommandForAssignment, nil
	case ManageReview:
		items, err := e.Submissions.ListReviewQueueForAssignment(ctx, a.ID)
		if err != nil {
			return "", fmt.Errorf("failed to list review queue: %w", err)
		}
		if err := e.reply(ctx, t, e.assignmentReviewText(items), nil); err != nil {
			return "", err
		}
		t.session.Data = Data{}
		return StateKnown, nil
	default:
		return "", fmt.Errorf("%w: manage command %q", errdefs.ErrUnknownIntent, in.Value)
	}
}

// assignmentReviewText lists one assignment's review queue grouped by task.
// Entries waiting long or not yet opened by staff carry the elapsed time,
// opened ones are marked seen.
func (e *Engine) assignmentReviewText(items []domain.ReviewItem) string {
	if len(items) == 0 {
		return msgNothingToReview
	}
	if len(items) > e.cfg.ReviewLimit {
		items = items[:e.cfg.ReviewLimit]
	}

	var b strings.Builder
	lastTask := 0
	for _, item := range items {
		if lastTask != 0 && item.TaskID != lastTask {
			b.WriteString("\n")
		}
		lastTask = item.TaskID

		b.WriteString(taskLine(item, 0))
		if marker := reviewMarker(item, e.now()); marker != "" {
			fmt.Fprintf(&b, " \\[*%s*\\]", marker)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// reviewMarker is the elapsed time for stale or unseen entries and "seen"
// for the rest.
func reviewMarker(item domain.ReviewItem, now time.Time) string {
	var elapsed time.Duration
	if item.StatusSince != nil {
		elapsed = now.Sub(*item.StatusSince)
	}
	stale := int(elapsed/(24*time.Hour)) > staleReviewDays
	if stale || !item.Seen {
		return ElapsedMarker(elapsed)
	}
	return "seen"
}

// reviewQueue sends the review queue of the actor's groups, one message per
// assignment.
func (e *Engine) reviewQueue(ctx context.Context, t *turn) (State, error) {
	groups, err := e.Users.ListUserGroups(ctx, t.user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list user groups: %w", err)
	}
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	items, err := e.Submissions.ListReviewQueueForGroups(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("failed to list review queue: %w", err)
	}
	if len(items) == 0 {
		_, err := e.send(ctx, t, msgNothingToReview, nil)
		return StateKnown, err
	}

	for _, text := range e.groupReviewTexts(items) {
		if _, err := e.send(ctx, t, text, nil); err != nil {
			return "", err
		}
	}
	return StateKnown, nil
}

func (e *Engine) groupReviewTexts(items []domain.ReviewItem) []string {
	var (
		texts   []string
		current []domain.ReviewItem
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*%s* \\(review\\: %d\\)\n\n", chat.Escape(current[0].AssignmentName), len(current))
		shown := current
		if len(shown) > e.cfg.ReviewLimit {
			shown = shown[:e.cfg.ReviewLimit]
		}
		counter, lastTask := 1, 0
		for _, item := range shown {
			if lastTask != 0 && item.TaskID != lastTask {
				b.WriteString("\n")
				counter = 1
			}
			lastTask = item.TaskID
			b.WriteString(taskLine(item, counter))
			b.WriteString("\n")
			counter++
		}
		texts = append(texts, b.String())
		current = nil
	}

	for _, item := range items {
		if len(current) > 0 && current[0].AssignmentID != item.AssignmentID {
			flush()
		}
		current = append(current, item)
	}
	flush()
	return texts
}
