package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/repository"
)

// SubmissionStore keeps submissions and their audit log in memory. InTx
// holds a single lock for the whole callback and discards all changes when
// the callback fails, like the Postgres implementation.
type SubmissionStore struct {
	mu          sync.Mutex
	submissions map[int64]*domain.Submission
	events      []domain.SubmissionEvent
	repoNames   map[int64]string
	nextEventID int64
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		submissions: make(map[int64]*domain.Submission),
		repoNames:   make(map[int64]string),
	}
}

func (s *SubmissionStore) Put(sub domain.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = &sub
}

func (s *SubmissionStore) PutRepository(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoNames[id] = name
}

func (s *SubmissionStore) Get(id int64) domain.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.submissions[id]
}

// Events returns the submission's audit log ordered by occurrence.
func (s *SubmissionStore) Events(id int64) []domain.SubmissionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SubmissionEvent
	for _, e := range s.events {
		if e.SubmissionID == id {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func (s *SubmissionStore) GetByID(_ context.Context, id int64) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *SubmissionStore) GetByPullURL(_ context.Context, pullURL string) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedIDs() {
		sub := s.submissions[id]
		if sub.PullURL != nil && *sub.PullURL == pullURL {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, errdefs.ErrNotFound
}

func (s *SubmissionStore) GetByRefAndRepository(_ context.Context, ref, repoName string) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sortedIDs() {
		sub := s.submissions[id]
		if sub.GitRef == nil || *sub.GitRef != ref || sub.RepositoryID == nil {
			continue
		}
		if s.repoNames[*sub.RepositoryID] == repoName {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, errdefs.ErrNotFound
}

func (s *SubmissionStore) InTx(ctx context.Context, id int64, fn func(ctx context.Context, tx repository.SubmissionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return errdefs.ErrNotFound
	}

	tx := &fakeTx{store: s, working: *sub, saved: *sub}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	*sub = tx.saved
	for _, e := range tx.pending {
		s.nextEventID++
		e.ID = s.nextEventID
		s.events = append(s.events, e)
	}
	return nil
}

func (s *SubmissionStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.submissions))
	for id := range s.submissions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *SubmissionStore) keySeen(key string) bool {
	for _, e := range s.events {
		if e.DedupKey != nil && *e.DedupKey == key {
			return true
		}
	}
	return false
}

type fakeTx struct {
	store   *SubmissionStore
	working domain.Submission
	saved   domain.Submission
	pending []domain.SubmissionEvent
}

func (t *fakeTx) Submission() *domain.Submission {
	return &t.working
}

func (t *fakeTx) Save(context.Context) error {
	t.saved = t.working
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, e *domain.SubmissionEvent) (bool, error) {
	if e.DedupKey != nil {
		if seen, _ := t.EventSeen(context.Background(), *e.DedupKey); seen {
			return false, nil
		}
	}
	e.SubmissionID = t.working.ID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	t.pending = append(t.pending, *e)
	return true, nil
}

func (t *fakeTx) EventSeen(_ context.Context, key string) (bool, error) {
	if t.store.keySeen(key) {
		return true, nil
	}
	for _, e := range t.pending {
		if e.DedupKey != nil && *e.DedupKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) LastStateEventAt(context.Context) (time.Time, error) {
	var last time.Time
	events := append([]domain.SubmissionEvent(nil), t.pending...)
	for _, e := range t.store.events {
		if e.SubmissionID == t.working.ID {
			events = append(events, e)
		}
	}
	for _, e := range events {
		if domain.SubmissionStatus(e.Event).IsValid() && e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
	}
	return last, nil
}
