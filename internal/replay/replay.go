package replay

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"homework_bot/internal/domain"
	"homework_bot/internal/errdefs"
	"homework_bot/internal/webhook"
	"homework_bot/pkg/logger"
)

const (
	TypeCreated = "submission.created"
	TypeReview  = "submission.review"
	TypeComment = "submission.comment"
	TypePush    = "submission.push"

	DefaultErrorsPath = "_events_with_errors.jsonl"

	maxLineSize = 1 << 20
)

// timeLayouts are the timestamp shapes found in exports. Values without a
// zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Record is one exported event. The occured_at spelling is the export's.
type Record struct {
	Type       string  `json:"type"`
	PullURL    string  `json:"pull_url"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	OccurredAt string  `json:"occured_at"`
	Repo       string  `json:"repo"`
	Ref        *string `json:"ref"`
}

func (r *Record) Time() (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, r.OccurredAt); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad occured_at %q", errdefs.ErrValidation, r.OccurredAt)
}

type Router interface {
	Comment(ctx context.Context, target webhook.Target, author, body string, o webhook.Origin) error
	Push(ctx context.Context, target webhook.Target, pusher string, o webhook.Origin) error
}

type Submissions interface {
	GetByPullURL(ctx context.Context, pullURL string) (*domain.Submission, error)
}

type Users interface {
	GetByGithubLogin(ctx context.Context, login string) (*domain.BotUser, error)
}

type Backfill interface {
	MarkCreated(ctx context.Context, id int64, createdAt time.Time) error
}

type Options struct {
	// Run applies changes; without it records are only resolved and
	// validated.
	Run        bool
	ErrorsPath string
}

type Report struct {
	OK     int
	Failed int
	// ErrorsPath is set when at least one line failed.
	ErrorsPath string
}

type failure struct {
	err  error
	line string
}

// Processor re-applies exported events through the webhook routing rules
// with notifications off. A failing line never stops the batch.
type Processor struct {
	router      Router
	submissions Submissions
	users       Users
	backfill    Backfill
	logger      *logger.Logger
}

func NewProcessor(router Router, submissions Submissions, users Users, backfill Backfill, log *logger.Logger) *Processor {
	return &Processor{
		router:      router,
		submissions: submissions,
		users:       users,
		backfill:    backfill,
		logger:      log,
	}
}

// DedupKey identifies a replayed line, so applying an export twice records
// each event once.
func DedupKey(line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

func (p *Processor) Process(ctx context.Context, in io.Reader, opts Options) (*Report, error) {
	if opts.ErrorsPath == "" {
		opts.ErrorsPath = DefaultErrorsPath
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	report := &Report{}
	var failures []failure
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++

		if err := p.apply(ctx, line, opts.Run); err != nil {
			p.logger.Warn(ctx, "Event failed", zap.Int("line", n), zap.Error(err))
			failures = append(failures, failure{err: err, line: line})
			continue
		}
		p.logger.Debug(ctx, "Event applied", zap.Int("line", n))
		report.OK++
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("failed to read events: %w", err)
	}

	report.Failed = len(failures)
	if len(failures) > 0 {
		if err := writeFailures(opts.ErrorsPath, failures); err != nil {
			return report, err
		}
		report.ErrorsPath = opts.ErrorsPath
	}

	p.logger.Info(ctx, "Replay finished",
		zap.Bool("run", opts.Run),
		zap.Int("ok", report.OK),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (p *Processor) apply(ctx context.Context, line string, run bool) error {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return fmt.Errorf("%w: malformed record: %v", errdefs.ErrValidation, err)
	}
	at, err := rec.Time()
	if err != nil {
		return err
	}

	target := webhook.Target{PullURL: rec.PullURL}
	origin := webhook.Origin{
		DedupKey:   DedupKey(line),
		OccurredAt: at,
		DryRun:     !run,
	}

	switch rec.Type {
	case TypeComment, TypeReview:
		return p.router.Comment(ctx, target, rec.Author, rec.Body, origin)
	case TypePush:
		return p.router.Push(ctx, target, rec.Author, origin)
	case TypeCreated:
		return p.created(ctx, &rec, at, run)
	default:
		return fmt.Errorf("%w: unknown event type %q", errdefs.ErrValidation, rec.Type)
	}
}

func (p *Processor) created(ctx context.Context, rec *Record, at time.Time, run bool) error {
	s, err := p.submissions.GetByPullURL(ctx, rec.PullURL)
	if err != nil {
		return fmt.Errorf("no submission for %s: %w", rec.PullURL, err)
	}
	if _, err := p.users.GetByGithubLogin(ctx, rec.Author); err != nil {
		return fmt.Errorf("unknown user %s: %w", rec.Author, err)
	}
	if !run {
		return nil
	}
	return p.backfill.MarkCreated(ctx, s.ID, at)
}

func writeFailures(path string, failures []failure) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create error file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	for _, fl := range failures {
		msg := strings.ReplaceAll(fl.err.Error(), "\n", " ")
		if _, err := fmt.Fprintf(w, "%s\t%s\n", msg, fl.line); err != nil {
			return fmt.Errorf("failed to write error file: %w", err)
		}
	}
	return w.Flush()
}
