package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"

	"homework_bot/internal/errdefs"
)

type Kind string

const (
	KindComment Kind = "comment"
	KindPush    Kind = "push"
	KindReview  Kind = "review"
)

// Event is one classified webhook delivery. Exactly one of the payload
// fields is set, matching Kind.
type Event struct {
	Kind    Kind
	Comment *CommentEvent
	Push    *PushEvent
	Review  *ReviewEvent
}

type CommentEvent struct {
	ID        int64
	PullURL   string
	Author    string
	Body      string
	CreatedAt time.Time
}

type PushEvent struct {
	Ref        string
	Repository string
	Pusher     string
	After      string
}

type ReviewEvent struct {
	ID          int64
	PullURL     string
	Reviewer    string
	State       string
	Body        string
	SubmittedAt time.Time
}

// envelope holds every field the classifiers look at. GitHub sends one of
// several payload shapes to the same endpoint.
type envelope struct {
	Action      *string                     `json:"action"`
	Comment     *github.IssueComment        `json:"comment"`
	Issue       *github.Issue               `json:"issue"`
	PullRequest *github.PullRequest         `json:"pull_request"`
	Review      *github.PullRequestReview   `json:"review"`
	Ref         *string                     `json:"ref"`
	After       *string                     `json:"after"`
	Repository  *github.PushEventRepository `json:"repository"`
	Pusher      *github.CommitAuthor        `json:"pusher"`
}

type classifier func(headers http.Header, env *envelope) (Event, bool)

var classifiers = []classifier{
	classifyComment,
	classifyPush,
	classifyReview,
}

// Classify returns an event for every classifier matching the delivery.
func Classify(headers http.Header, body []byte) ([]Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", errdefs.ErrValidation, err)
	}

	var events []Event
	for _, classify := range classifiers {
		if e, ok := classify(headers, &env); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func classifyComment(_ http.Header, env *envelope) (Event, bool) {
	if env.Comment == nil || env.Action == nil || *env.Action != "created" {
		return Event{}, false
	}

	var pullURL string
	switch {
	case env.Issue != nil:
		pullURL = env.Issue.GetHTMLURL()
	case env.PullRequest != nil:
		pullURL = env.PullRequest.GetHTMLURL()
	default:
		return Event{}, false
	}

	return Event{
		Kind: KindComment,
		Comment: &CommentEvent{
			ID:        env.Comment.GetID(),
			PullURL:   pullURL,
			Author:    env.Comment.GetUser().GetLogin(),
			Body:      env.Comment.GetBody(),
			CreatedAt: env.Comment.GetCreatedAt().Time,
		},
	}, true
}

func classifyPush(headers http.Header, env *envelope) (Event, bool) {
	if headers.Get(github.EventTypeHeader) != "push" {
		return Event{}, false
	}

	return Event{
		Kind: KindPush,
		Push: &PushEvent{
			Ref:        stringValue(env.Ref),
			Repository: env.Repository.GetName(),
			Pusher:     env.Pusher.GetName(),
			After:      stringValue(env.After),
		},
	}, true
}

func classifyReview(_ http.Header, env *envelope) (Event, bool) {
	if env.Review == nil || env.PullRequest == nil || env.Action == nil || *env.Action != "submitted" {
		return Event{}, false
	}

	return Event{
		Kind: KindReview,
		Review: &ReviewEvent{
			ID:          env.Review.GetID(),
			PullURL:     env.PullRequest.GetHTMLURL(),
			Reviewer:    env.Review.GetUser().GetLogin(),
			State:       env.Review.GetState(),
			Body:        env.Review.GetBody(),
			SubmittedAt: env.Review.GetSubmittedAt().Time,
		},
	}, true
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
