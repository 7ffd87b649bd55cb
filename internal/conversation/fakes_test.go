package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"homework_bot/internal/chat"
	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
)

type memorySessions struct {
	mu   sync.Mutex
	data map[int64][]byte
}

func newMemorySessions() *memorySessions {
	return &memorySessions{data: make(map[int64][]byte)}
}

func (m *memorySessions) Load(_ context.Context, chatID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[chatID]
	if !ok {
		return NewSession(), nil
	}
	return DecodeSession(b)
}

func (m *memorySessions) Save(_ context.Context, chatID int64, s *Session) error {
	b, err := EncodeSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[chatID] = b
	return nil
}

func (m *memorySessions) Reset(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, chatID)
	return nil
}

func (m *memorySessions) state(chatID int64) State {
	s, _ := m.Load(context.Background(), chatID)
	return s.State
}

type fakeUsers struct {
	users   map[int64]*domain.BotUser
	groups  []domain.Group
	members map[int64][]int64
	failAll error
}

func (f *fakeUsers) GetByChatID(_ context.Context, chatID int64) (*domain.BotUser, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	for _, u := range f.users {
		if u.TelegramChatID != nil && *u.TelegramChatID == chatID {
			return u, nil
		}
	}
	return nil, errdefs.ErrNotFound
}

func (f *fakeUsers) ListGroups(context.Context) ([]domain.Group, error) {
	return f.groups, nil
}

func (f *fakeUsers) ListUserGroups(_ context.Context, userID int64) ([]domain.Group, error) {
	var out []domain.Group
	for _, g := range f.groups {
		for _, id := range f.members[g.ID] {
			if id == userID {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (f *fakeUsers) ListUnregisteredStudents(_ context.Context, groupID int64) ([]domain.BotUser, error) {
	var out []domain.BotUser
	for _, id := range f.members[groupID] {
		u := f.users[id]
		if u.Role == domain.RoleStudent && u.TelegramChatID == nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) CompleteRegistration(_ context.Context, in *repository.CompleteRegistrationInput) (*domain.BotUser, error) {
	for _, u := range f.users {
		if u.ID != in.UserID && u.GithubLogin != nil && *u.GithubLogin == in.GithubLogin {
			return nil, errdefs.ErrAlreadyExists
		}
	}
	u, ok := f.users[in.UserID]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	chatID, login := in.TelegramChatID, in.GithubLogin
	u.TelegramChatID = &chatID
	u.GithubLogin = &login
	u.TelegramLogin = in.TelegramLogin
	return u, nil
}

type fakeAssignments struct {
	items  map[int64]*domain.Assignment
	groups map[int64]string
	counts map[int64]map[domain.SubmissionStatus]int
	users  *fakeUsers
	nextID int64
}

func (f *fakeAssignments) Create(_ context.Context, in *repository.CreateAssignmentInput) (*domain.Assignment, error) {
	seq := 0
	for _, a := range f.items {
		if a.GroupID == in.GroupID && a.Type == in.Type && a.Seq > seq {
			seq = a.Seq
		}
	}
	f.nextID++
	a := &domain.Assignment{
		ID:         f.nextID,
		Name:       in.Name,
		Type:       in.Type,
		GroupID:    in.GroupID,
		GroupName:  f.groups[in.GroupID],
		Seq:        seq + 1,
		CatalogURL: in.CatalogURL,
		OwnerID:    in.OwnerID,
	}
	f.items[a.ID] = a
	return a, nil
}

func (f *fakeAssignments) GetByID(_ context.Context, id int64) (*domain.Assignment, error) {
	a, ok := f.items[id]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAssignments) ListAvailable(ctx context.Context, userID int64, typ *domain.AssignmentType) ([]domain.Assignment, error) {
	groups, _ := f.users.ListUserGroups(ctx, userID)
	var out []domain.Assignment
	for _, a := range f.sorted() {
		if !a.IsEnabled || (typ != nil && a.Type != *typ) {
			continue
		}
		for _, g := range groups {
			if g.ID == a.GroupID {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeAssignments) ListByGroup(_ context.Context, groupID int64) ([]domain.Assignment, error) {
	var out []domain.Assignment
	for _, a := range f.sorted() {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssignments) SetEnabled(_ context.Context, id int64, enabled bool) error {
	a, ok := f.items[id]
	if !ok {
		return errdefs.ErrNotFound
	}
	a.IsEnabled = enabled
	return nil
}

func (f *fakeAssignments) CountByStatus(_ context.Context, id int64) (map[domain.SubmissionStatus]int, error) {
	return f.counts[id], nil
}

func (f *fakeAssignments) sorted() []domain.Assignment {
	out := make([]domain.Assignment, 0, len(f.items))
	for _, a := range f.items {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeSubmissions struct {
	items  []*domain.Submission
	review []domain.ReviewItem
	nextID int64
}

func (f *fakeSubmissions) Create(_ context.Context, in *repository.CreateSubmissionInput) (*domain.Submission, error) {
	for _, s := range f.items {
		if s.AuthorID == in.AuthorID && s.AssignmentID == in.AssignmentID && s.TaskID == in.TaskID {
			return nil, errdefs.ErrAlreadyExists
		}
	}
	f.nextID++
	s := &domain.Submission{
		ID:           f.nextID,
		AuthorID:     in.AuthorID,
		AssignmentID: in.AssignmentID,
		TaskID:       in.TaskID,
		Status:       domain.SubmissionStatusPending,
		ObjectKey:    in.ObjectKey,
	}
	f.items = append(f.items, s)
	return s, nil
}

func (f *fakeSubmissions) ListByAuthorAndAssignment(_ context.Context, authorID, assignmentID int64) ([]domain.Submission, error) {
	var out []domain.Submission
	for _, s := range f.items {
		if s.AuthorID == authorID && s.AssignmentID == assignmentID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) ListReviewQueueForGroups(context.Context, []int64) ([]domain.ReviewItem, error) {
	return f.review, nil
}

func (f *fakeSubmissions) ListReviewQueueForAssignment(_ context.Context, assignmentID int64) ([]domain.ReviewItem, error) {
	var out []domain.ReviewItem
	for _, item := range f.review {
		if item.AssignmentID == assignmentID {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	tasks   map[string]int
	loadErr error
}

func (f *fakeCatalog) Load(_ context.Context, url string) (int, error) {
	if f.loadErr != nil {
		return 0, f.loadErr
	}
	return f.tasks[url], nil
}

func (f *fakeCatalog) TaskCount(_ context.Context, url string) (int, error) {
	return f.tasks[url], nil
}

type memoryStorage struct {
	objects map[string][]byte
}

func (m *memoryStorage) Put(_ context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

type recordingQueue struct {
	ids []int64
}

func (q *recordingQueue) EnqueuePublish(_ context.Context, id int64) error {
	q.ids = append(q.ids, id)
	return nil
}

type fakeAccounts struct {
	logins map[string]bool
	err    error
}

func (f *fakeAccounts) UserExists(_ context.Context, login string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.logins[login], nil
}

type fakeFiles struct {
	files map[string][]byte
}

func (f *fakeFiles) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	b, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, errdefs.ErrNotFound)
	}
	return b, nil
}

type sentMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  *chat.Keyboard
	Edited    bool
}

type recordingSender struct {
	mu       sync.Mutex
	messages []sentMessage
	answers  map[string]string
	nextID   int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{answers: make(map[string]string), nextID: 100}
}

func (s *recordingSender) Send(_ context.Context, chatID int64, text string, kb *chat.Keyboard) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.messages = append(s.messages, sentMessage{ChatID: chatID, MessageID: s.nextID, Text: text, Keyboard: kb})
	return s.nextID, nil
}

func (s *recordingSender) Edit(_ context.Context, chatID int64, messageID int, text string, kb *chat.Keyboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sentMessage{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb, Edited: true})
	return nil
}

func (s *recordingSender) Answer(_ context.Context, callbackID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[callbackID] = text
	return nil
}

func (s *recordingSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return sentMessage{}
	}
	return s.messages[len(s.messages)-1]
}

func (s *recordingSender) to(chatID int64) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}
