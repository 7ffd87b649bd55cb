package domain

import (
	"sort"
	"time"
)

type SubmissionStatus string

const (
	SubmissionStatusPending    SubmissionStatus = "pending"
	SubmissionStatusProcessing SubmissionStatus = "processing"
	SubmissionStatusReview     SubmissionStatus = "review"
	SubmissionStatusNeedwork   SubmissionStatus = "needwork"
	SubmissionStatusAccepted   SubmissionStatus = "accepted"
)

// Audit event tags. State-changing events carry the name of the status they
// move the submission into.
const (
	EventProcessing = string(SubmissionStatusProcessing)
	EventReview     = string(SubmissionStatusReview)
	EventNeedwork   = string(SubmissionStatusNeedwork)
	EventAccepted   = string(SubmissionStatusAccepted)
	EventComment    = "comment"
	EventPush       = "push"
	EventMigrated   = "migrated"
)

var transitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionStatusPending:    {SubmissionStatusProcessing},
	SubmissionStatusProcessing: {SubmissionStatusReview},
	SubmissionStatusReview:     {SubmissionStatusNeedwork, SubmissionStatusAccepted},
	SubmissionStatusNeedwork:   {SubmissionStatusReview, SubmissionStatusAccepted},
	SubmissionStatusAccepted:   nil,
}

func (s SubmissionStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusAccepted
}

func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateEvents lists the audit event tags that change a submission's status.
func StateEvents() []string {
	out := make([]string, 0, len(transitions))
	for st := range transitions {
		out = append(out, string(st))
	}
	sort.Strings(out)
	return out
}

// StudentActivity reports whether an event kind counts as student activity
// that returns a needwork submission to review.
func StudentActivity(kind string) bool {
	return kind == EventComment || kind == EventPush
}

type Submission struct {
	ID           int64            `db:"id"`
	AuthorID     int64            `db:"author_id"`
	AssignmentID int64            `db:"assignment_id"`
	TaskID       int              `db:"task_id"`
	Status       SubmissionStatus `db:"status"`
	ObjectKey    string           `db:"object_key"`
	CreatedAt    time.Time        `db:"created_at"`
	RepositoryID *int64           `db:"repository_id"`
	PullURL      *string          `db:"pull_url"`
	GitRef       *string          `db:"git_ref"`
}

type SubmissionEvent struct {
	ID           int64          `db:"id"`
	SubmissionID int64          `db:"submission_id"`
	Event        string         `db:"event"`
	Payload      map[string]any `db:"payload"`
	OccurredAt   time.Time      `db:"occurred_at"`
	DedupKey     *string        `db:"dedup_key"`
}

// ProjectStatus replays the state-changing events of a submission in
// occurred-at order and returns the status they imply. ok is false when the
// history holds no state-changing event.
func ProjectStatus(events []SubmissionEvent) (SubmissionStatus, bool) {
	sorted := make([]SubmissionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	var (
		status SubmissionStatus
		found  bool
	)
	for _, e := range sorted {
		s := SubmissionStatus(e.Event)
		if s.IsValid() {
			status = s
			found = true
		}
	}
	return status, found
}

// ReviewItem is a submission waiting for staff, as listed in review queues.
type ReviewItem struct {
	SubmissionID   int64      `db:"submission_id"`
	AssignmentID   int64      `db:"assignment_id"`
	AssignmentName string     `db:"assignment_name"`
	TaskID         int        `db:"task_id"`
	AuthorName     string     `db:"author_name"`
	PullURL        string     `db:"pull_url"`
	StatusSince    *time.Time `db:"status_since"`
	Seen           bool       `db:"seen"`
}
