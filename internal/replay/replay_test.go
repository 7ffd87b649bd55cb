package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/lifecycle"
	"homework_bot/internal/webhook"
	"homework_bot/pkg/logger"
)

const pullURL = "https://github.com/acme/assignments_grace/pull/1"

type stubSubmissions map[string]*domain.Submission

func (s stubSubmissions) GetByPullURL(_ context.Context, url string) (*domain.Submission, error) {
	sub, ok := s[url]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return sub, nil
}

func (s stubSubmissions) GetByRefAndRepository(context.Context, string, string) (*domain.Submission, error) {
	return nil, errdefs.ErrNotFound
}

type stubUsers map[string]*domain.BotUser

func (u stubUsers) GetByGithubLogin(_ context.Context, login string) (*domain.BotUser, error) {
	user, ok := u[strings.ToLower(login)]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return user, nil
}

type recordingLifecycle struct {
	transitions []lifecycle.TransitionRequest
	activities  []lifecycle.ActivityRequest
	created     map[int64]time.Time
}

func (l *recordingLifecycle) Transition(_ context.Context, req lifecycle.TransitionRequest) (*domain.Submission, error) {
	l.transitions = append(l.transitions, req)
	return &domain.Submission{ID: req.SubmissionID, Status: req.Target}, nil
}

func (l *recordingLifecycle) RecordActivity(_ context.Context, req lifecycle.ActivityRequest) (*lifecycle.ActivityResult, error) {
	l.activities = append(l.activities, req)
	return &lifecycle.ActivityResult{Recorded: true}, nil
}

func (l *recordingLifecycle) MarkCreated(_ context.Context, id int64, at time.Time) error {
	l.created[id] = at
	return nil
}

func setup(t *testing.T) (*Processor, *recordingLifecycle) {
	t.Helper()
	subs := stubSubmissions{pullURL: {ID: 7, AuthorID: 11, Status: domain.SubmissionStatusReview}}
	users := stubUsers{
		"grace": {ID: 11, Role: domain.RoleStudent},
		"alan":  {ID: 2, Role: domain.RoleTeacher},
	}
	lc := &recordingLifecycle{created: make(map[int64]time.Time)}
	log := logger.NewNop()
	router := webhook.NewRouter(users, subs, lc, log)
	return NewProcessor(router, subs, users, lc, log), lc
}

const export = `{"type":"submission.created","pull_url":"` + pullURL + `","body":"","author":"grace","occured_at":"2021-03-01T10:00:00+00:00","repo":"assignments_grace","ref":null}
{"type":"submission.comment","pull_url":"` + pullURL + `","body":"/needwork","author":"Alan","occured_at":"2021-03-02 11:00:00+00:00","repo":"assignments_grace"}

{"type":"submission.push","pull_url":"` + pullURL + `","body":"","author":"grace","occured_at":"2021-03-03T12:00:00","repo":"assignments_grace","ref":"refs/heads/assignments-homework-1-3"}
{"type":"submission.comment","pull_url":"` + pullURL + `","body":"/approve","author":"alan","occured_at":"2021-03-04T09:00:00Z","repo":"assignments_grace"}
{"type":"submission.review","pull_url":"` + pullURL + `","body":"/accepted","author":"ghost","occured_at":"2021-03-04T10:00:00Z","repo":"assignments_grace"}
{"type":"submission.review","pull_url":"` + pullURL + `","body":"/accepted","author":"alan","occured_at":"2021-03-05T10:00:00Z","repo":"assignments_grace"}
not json
`

func TestProcess_Run(t *testing.T) {
	p, lc := setup(t)
	errorsPath := filepath.Join(t.TempDir(), "errors.jsonl")

	report, err := p.Process(context.Background(), strings.NewReader(export), Options{Run: true, ErrorsPath: errorsPath})

	require.NoError(t, err)
	assert.Equal(t, &Report{OK: 4, Failed: 3, ErrorsPath: errorsPath}, report)

	assert.Equal(t, time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC), lc.created[7])

	require.Len(t, lc.transitions, 2)
	assert.Equal(t, domain.SubmissionStatusNeedwork, lc.transitions[0].Target)
	assert.Equal(t, time.Date(2021, 3, 2, 11, 0, 0, 0, time.UTC), lc.transitions[0].OccurredAt)
	assert.False(t, lc.transitions[0].Notify)
	assert.Len(t, lc.transitions[0].DedupKey, 64)
	assert.Equal(t, domain.SubmissionStatusAccepted, lc.transitions[1].Target)

	require.Len(t, lc.activities, 1)
	assert.Equal(t, domain.EventPush, lc.activities[0].Kind)
	assert.Equal(t, time.Date(2021, 3, 3, 12, 0, 0, 0, time.UTC), lc.activities[0].OccurredAt)
	assert.False(t, lc.activities[0].Notify)

	raw, err := os.ReadFile(errorsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		parts := strings.SplitN(l, "\t", 2)
		require.Len(t, parts, 2)
		assert.NotEmpty(t, parts[0])
	}
	assert.Contains(t, lines[0], "/approve")
	assert.Contains(t, lines[1], `"author":"ghost"`)
	assert.True(t, strings.HasSuffix(lines[2], "\tnot json"))
}

func TestProcess_DryRun(t *testing.T) {
	p, lc := setup(t)
	errorsPath := filepath.Join(t.TempDir(), "errors.jsonl")

	report, err := p.Process(context.Background(), strings.NewReader(export), Options{ErrorsPath: errorsPath})

	require.NoError(t, err)
	assert.Equal(t, 4, report.OK)
	assert.Equal(t, 3, report.Failed)
	assert.Empty(t, lc.transitions)
	assert.Empty(t, lc.activities)
	assert.Empty(t, lc.created)
}

func TestProcess_NoFailures(t *testing.T) {
	p, _ := setup(t)
	errorsPath := filepath.Join(t.TempDir(), "errors.jsonl")
	line := `{"type":"submission.push","pull_url":"` + pullURL + `","author":"grace","occured_at":"2021-03-03T12:00:00Z"}`

	report, err := p.Process(context.Background(), strings.NewReader(line), Options{ErrorsPath: errorsPath})

	require.NoError(t, err)
	assert.Equal(t, &Report{OK: 1}, report)
	assert.NoFileExists(t, errorsPath)
}

func TestRecordTime(t *testing.T) {
	for _, raw := range []string{
		"2021-03-01T10:00:00Z",
		"2021-03-01T12:00:00+02:00",
		"2021-03-01T10:00:00.000000",
		"2021-03-01 10:00:00+00:00",
		"2021-03-01 10:00:00",
	} {
		t.Run(raw, func(t *testing.T) {
			at, err := (&Record{OccurredAt: raw}).Time()
			require.NoError(t, err)
			assert.Equal(t, time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC), at)
		})
	}

	_, err := (&Record{OccurredAt: "yesterday"}).Time()
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, DedupKey("a"), DedupKey("a"))
	assert.NotEqual(t, DedupKey("a"), DedupKey("b"))
}
