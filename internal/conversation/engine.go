package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
	"homework_bot/pkg/ctxdata"
	"homework_bot/pkg/logger"
)

const (
	CommandStart  = "start"
	CommandCancel = "cancel"
	CommandMe     = "me"
)

type Document struct {
	FileID   string
	FileName string
}

type Callback struct {
	ID     string
	Intent Intent
}

// Input is one update from a chat, already parsed by the transport.
// Command is set for "/command" texts, without the slash.
type Input struct {
	ChatID    int64
	MessageID int
	Username  string
	FullName  string
	Text      string
	Command   string
	Document  *Document
	Callback  *Callback
}

type Users interface {
	GetByChatID(ctx context.Context, chatID int64) (*domain.BotUser, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	ListUserGroups(ctx context.Context, userID int64) ([]domain.Group, error)
	ListUnregisteredStudents(ctx context.Context, groupID int64) ([]domain.BotUser, error)
	CompleteRegistration(ctx context.Context, input *repository.CompleteRegistrationInput) (*domain.BotUser, error)
}

type Assignments interface {
	Create(ctx context.Context, input *repository.CreateAssignmentInput) (*domain.Assignment, error)
	GetByID(ctx context.Context, id int64) (*domain.Assignment, error)
	ListAvailable(ctx context.Context, userID int64, typ *domain.AssignmentType) ([]domain.Assignment, error)
	ListByGroup(ctx context.Context, groupID int64) ([]domain.Assignment, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	CountByStatus(ctx context.Context, id int64) (map[domain.SubmissionStatus]int, error)
}

type Submissions interface {
	Create(ctx context.Context, input *repository.CreateSubmissionInput) (*domain.Submission, error)
	ListByAuthorAndAssignment(ctx context.Context, authorID, assignmentID int64) ([]domain.Submission, error)
	ListReviewQueueForGroups(ctx context.Context, groupIDs []int64) ([]domain.ReviewItem, error)
	ListReviewQueueForAssignment(ctx context.Context, assignmentID int64) ([]domain.ReviewItem, error)
}

type Catalog interface {
	Load(ctx context.Context, catalogURL string) (int, error)
	TaskCount(ctx context.Context, catalogURL string) (int, error)
}

type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte) error
}

type Queue interface {
	EnqueuePublish(ctx context.Context, submissionID int64) error
}

// Accounts checks logins on the version-control host.
type Accounts interface {
	UserExists(ctx context.Context, login string) (bool, error)
}

type Config struct {
	AdminChatID       int64
	UploadPrefix      string
	AllowedExtensions []string
	ReviewLimit       int
}

type Deps struct {
	Sessions    SessionStore
	Users       Users
	Assignments Assignments
	Submissions Submissions
	Catalog     Catalog
	Storage     ObjectStorage
	Queue       Queue
	Accounts    Accounts
	Sender      chat.Sender
	Files       chat.Files
	Logger      *logger.Logger
}

type Engine struct {
	Deps
	cfg    Config
	locks  *keyedMutex
	routes map[State]route
	now    func() time.Time
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.ReviewLimit <= 0 {
		cfg.ReviewLimit = 50
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".py"}
	}
	e := &Engine{
		Deps:  deps,
		cfg:   cfg,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	e.routes = e.buildRoutes()
	return e
}

type (
	intentHandler   func(ctx context.Context, t *turn, in Intent) (State, error)
	textHandler     func(ctx context.Context, t *turn, text string) (State, error)
	documentHandler func(ctx context.Context, t *turn, doc Document) (State, error)
)

// route is what a state accepts. Anything else gets the fallback reply.
type route struct {
	intents  map[IntentKind]intentHandler
	text     textHandler
	document documentHandler
}

func (e *Engine) buildRoutes() map[State]route {
	return map[State]route{
		StateStart:                {},
		StateKnown:                {intents: map[IntentKind]intentHandler{IntentMenu: e.menuSelected}},
		StateGroupRequested:       {intents: map[IntentKind]intentHandler{IntentGroup: e.groupSelected}},
		StateNameRequested:        {intents: map[IntentKind]intentHandler{IntentStudent: e.studentSelected}},
		StateGithubLoginRequested: {text: e.githubLoginEntered},
		StateWaitSelectAssignment: {intents: map[IntentKind]intentHandler{IntentAssignment: e.assignmentSelected}},
		StateWaitSelectTask:       {intents: map[IntentKind]intentHandler{IntentTask: e.taskSelected}},
		StateWaitFile:             {document: e.documentUploaded},
		StateWaitGroupForNewAssignment: {
			intents: map[IntentKind]intentHandler{IntentNewAssignmentIn: e.groupForNewAssignmentSelected},
		},
		StateWaitAssignmentType:  {intents: map[IntentKind]intentHandler{IntentAssignmentType: e.assignmentTypeSelected}},
		StateWaitAssignmentName:  {text: e.assignmentNameEntered},
		StateWaitCatalogLink:     {text: e.catalogLinkEntered},
		StateWaitEnableAssignment: {intents: map[IntentKind]intentHandler{IntentEnable: e.enableSelected}},
		StateWaitGroupForAssignmentList: {
			intents: map[IntentKind]intentHandler{IntentListGroup: e.groupForListSelected},
		},
		StateSelectAssignmentToManage: {
			intents: map[IntentKind]intentHandler{IntentManageAssignment: e.assignmentToManageSelected},
		},
		StateWaitCommandForAssignment: {
			intents: map[IntentKind]intentHandler{IntentManageCommand: e.manageCommandSelected},
		},
	}
}

// turn carries one update through the handlers.
type turn struct {
	in      Input
	session *Session
	user    *domain.BotUser
	notice  string
}

// Handle processes one update. Updates of one chat are handled strictly in
// order; distinct chats proceed concurrently. On unexpected errors the
// session is left as it was, the user is asked to retry and the operator
// chat gets the error.
func (e *Engine) Handle(ctx context.Context, in Input) error {
	unlock := e.locks.Lock(in.ChatID)
	defer unlock()

	ctx = ctxdata.WithChatID(ctx, in.ChatID)
	t := &turn{in: in}

	if in.Callback != nil {
		defer func() {
			if err := e.Sender.Answer(ctx, in.Callback.ID, t.notice); err != nil {
				e.Logger.Warn(ctx, "Failed to answer callback", zap.Error(err))
			}
		}()
	}

	err := e.handle(ctx, t)
	if err != nil {
		e.fail(ctx, t, err)
	}
	return err
}

func (e *Engine) handle(ctx context.Context, t *turn) error {
	switch t.in.Command {
	case CommandMe:
		return e.me(ctx, t)
	case CommandStart, CommandCancel:
		if err := e.Sessions.Reset(ctx, t.in.ChatID); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		t.session = NewSession()
		next, err := e.start(ctx, t)
		if err != nil {
			return err
		}
		return e.save(ctx, t, next)
	}

	session, err := e.Sessions.Load(ctx, t.in.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	t.session = session

	next, err := e.dispatch(ctx, t)
	if err != nil {
		return err
	}
	return e.save(ctx, t, next)
}

func (e *Engine) dispatch(ctx context.Context, t *turn) (State, error) {
	r := e.routes[t.session.State]
	switch {
	case t.in.Callback != nil:
		if h, ok := r.intents[t.in.Callback.Intent.Kind]; ok {
			return h(ctx, t, t.in.Callback.Intent)
		}
	case t.in.Document != nil:
		if r.document != nil {
			return r.document(ctx, t, *t.in.Document)
		}
	case t.in.Command == "" && t.in.Text != "":
		if r.text != nil {
			return r.text(ctx, t, t.in.Text)
		}
	}

	e.Logger.Debug(ctx, "Unexpected input",
		zap.String("state", string(t.session.State)),
	)
	if _, err := e.Sender.Send(ctx, t.in.ChatID, msgFallback, nil); err != nil {
		return "", fmt.Errorf("failed to send fallback: %w", err)
	}
	return t.session.State, nil
}

func (e *Engine) save(ctx context.Context, t *turn, next State) error {
	if next != t.session.State {
		e.Logger.Debug(ctx, "Conversation state changed",
			zap.String("from", string(t.session.State)),
			zap.String("to", string(next)),
		)
	}
	t.session.State = next
	if err := e.Sessions.Save(ctx, t.in.ChatID, t.session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, t *turn, err error) {
	e.Logger.Error(ctx, "Conversation update failed", zap.Error(err))

	if _, sendErr := e.Sender.Send(ctx, t.in.ChatID, msgErrorRetry, nil); sendErr != nil {
		e.Logger.Warn(ctx, "Failed to send retry message", zap.Error(sendErr))
	}
	if e.cfg.AdminChatID == 0 {
		return
	}
	if _, sendErr := e.Sender.Send(ctx, e.cfg.AdminChatID, msgAdminError(t.user, t.in.Username, err), nil); sendErr != nil {
		e.Logger.Warn(ctx, "Failed to notify admin", zap.Error(sendErr))
	}
}

// actor returns the registered user of the chat.
func (e *Engine) actor(ctx context.Context, t *turn) (*domain.BotUser, error) {
	if t.user != nil {
		return t.user, nil
	}
	user, err := e.Users.GetByChatID(ctx, t.in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat user: %w", err)
	}
	t.user = user
	return user, nil
}

// reply edits the message carrying the pressed button, or sends a new one
// for text and document input.
func (e *Engine) reply(ctx context.Context, t *turn, text string, kb *chat.Keyboard) error {
	if t.in.Callback != nil && t.in.MessageID != 0 {
		if err := e.Sender.Edit(ctx, t.in.ChatID, t.in.MessageID, text, kb); err != nil {
			return fmt.Errorf("failed to edit message: %w", err)
		}
		return nil
	}
	_, err := e.send(ctx, t, text, kb)
	return err
}

func (e *Engine) send(ctx context.Context, t *turn, text string, kb *chat.Keyboard) (int, error) {
	id, err := e.Sender.Send(ctx, t.in.ChatID, text, kb)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

func (e *Engine) edit(ctx context.Context, t *turn, messageID int, text string, kb *chat.Keyboard) error {
	if err := e.Sender.Edit(ctx, t.in.ChatID, messageID, text, kb); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (e *Engine) start(ctx context.Context, t *turn) (State, error) {
	user, err := e.actor(ctx, t)
	switch {
	case err == nil:
		kb, err := e.menu(ctx, user)
		if err != nil {
			return "", err
		}
		if _, err := e.send(ctx, t, msgMenu, kb); err != nil {
			return "", err
		}
		return StateKnown, nil
	case errors.Is(err, errdefs.ErrNotFound):
	default:
		return "", err
	}

	groups, err := e.Users.ListGroups(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list groups: %w", err)
	}
	buttons := make([]chat.Button, 0, len(groups))
	for _, g := range groups {
		buttons = append(buttons, chat.Button{Text: g.Name, Data: IDIntent(IntentGroup, g.ID).Data()})
	}
	if _, err := e.send(ctx, t, msgFromWhatGroup, chat.Row(buttons...)); err != nil {
		return "", err
	}
	return StateGroupRequested, nil
}

func (e *Engine) menu(ctx context.Context, user *domain.BotUser) (*chat.Keyboard, error) {
	typ := domain.AssignmentTypeTest
	tests, err := e.Assignments.ListAvailable(ctx, user.ID, &typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list test assignments: %w", err)
	}
	return menuKeyboard(Menu(user, len(tests) > 0)), nil
}

func (e *Engine) me(ctx context.Context, t *turn) error {
	user, err := e.actor(ctx, t)
	if errors.Is(err, errdefs.ErrNotFound) {
		_, err = e.send(ctx, t, msgMe(t.in.FullName, t.in.Username, t.in.ChatID), nil)
		return err
	}
	if err != nil {
		return err
	}
	groups, err := e.Users.ListUserGroups(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list user groups: %w", err)
	}
	_, err = e.send(ctx, t, msgMeKnown(t.in.FullName, t.in.Username, t.in.ChatID, user, groups), nil)
	return err
}

func (e *Engine) menuSelected(ctx context.Context, t *turn, in Intent) (State, error) {
	user, err := e.actor(ctx, t)
	if err != nil {
		return "", err
	}
	action := MenuAction(in.Value)
	if !allowed(user, action) {
		t.notice = noticeNotAvailable
		return StateKnown, nil
	}

	switch action {
	case ActionUploadHomework:
		return e.uploadSelected(ctx, t, domain.AssignmentTypeHomework)
	case ActionUploadTest:
		return e.uploadSelected(ctx, t, domain.AssignmentTypeTest)
	case ActionReview:
		return e.reviewQueue(ctx, t)
	case ActionCreateAssignment:
		return e.selectGroup(ctx, t, IntentNewAssignmentIn, StateWaitGroupForNewAssignment, e.askAssignmentType)
	case ActionViewAssignments:
		return e.selectGroup(ctx, t, IntentListGroup, StateWaitGroupForAssignmentList, e.listAssignments)
	default:
		return "", fmt.Errorf("%w: menu action %q", errdefs.ErrUnknownIntent, action)
	}
}

// keyedMutex serializes work per chat. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedEntry)}
}

func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
