package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"homework_bot/internal/errdefs"
	"homework_bot/pkg/logger"
)

const signatureHeader = "X-Hub-Signature-256"

// Dispatcher turns GitHub deliveries into lifecycle changes. Handle never
// fails: every problem is logged and the delivery dropped, so the host
// always gets a success answer.
type Dispatcher struct {
	router *Router
	secret []byte
	logger *logger.Logger
}

func NewDispatcher(router *Router, secret string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{router: router, secret: []byte(secret), logger: log}
}

func (d *Dispatcher) Handle(ctx context.Context, headers http.Header, body []byte) {
	deliveryID := headers.Get(github.DeliveryIDHeader)
	log := d.logger.With(zap.String("delivery_id", deliveryID))

	if len(d.secret) > 0 {
		if err := github.ValidateSignature(headers.Get(signatureHeader), body, d.secret); err != nil {
			log.Warn(ctx, "webhook signature rejected", zap.Error(err))
			return
		}
	}

	events, err := Classify(headers, body)
	if err != nil {
		log.Warn(ctx, "webhook payload rejected", zap.Error(err))
		return
	}
	if len(events) == 0 {
		log.Debug(ctx, "webhook ignored", zap.String("event", headers.Get(github.EventTypeHeader)))
		return
	}

	for _, e := range events {
		origin := Origin{
			DedupKey: DedupKey(deliveryID, e),
			Notify:   true,
		}
		err := d.route(ctx, e, origin)
		fields := []zap.Field{zap.String("kind", string(e.Kind))}
		switch {
		case err == nil:
			log.Info(ctx, "webhook event handled", fields...)
		case errors.Is(err, errdefs.ErrNotFound):
			log.Info(ctx, "webhook event dropped", append(fields, zap.Error(err))...)
		case errors.Is(err, errdefs.ErrTransitionRejected), errors.Is(err, errdefs.ErrValidation):
			log.Warn(ctx, "webhook event rejected", append(fields, zap.Error(err))...)
		default:
			log.Error(ctx, "webhook event failed", append(fields, zap.Error(err))...)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, e Event, o Origin) error {
	switch e.Kind {
	case KindComment:
		c := e.Comment
		return d.router.Comment(ctx, Target{PullURL: c.PullURL}, c.Author, c.Body, o)
	case KindPush:
		p := e.Push
		return d.router.Push(ctx, Target{Ref: p.Ref, Repository: p.Repository}, p.Pusher, o)
	case KindReview:
		r := e.Review
		return d.router.Review(ctx, Target{PullURL: r.PullURL}, r.Reviewer, r.State, r.Body, o)
	default:
		return errors.New("unknown event kind " + string(e.Kind))
	}
}

// DedupKey identifies one real-world action across redeliveries. GitHub's
// delivery id is used when present, otherwise a hash of what the event says,
// including its GitHub id and timestamp so identical texts posted twice stay
// distinct.
func DedupKey(deliveryID string, e Event) string {
	if deliveryID != "" {
		return deliveryID + ":" + string(e.Kind)
	}

	var parts []string
	switch e.Kind {
	case KindComment:
		c := e.Comment
		parts = []string{c.PullURL, c.Author, Fragment(c.Body), strconv.FormatInt(c.ID, 10), timestamp(c.CreatedAt)}
	case KindPush:
		parts = []string{e.Push.Repository, e.Push.Ref, e.Push.Pusher, e.Push.After}
	case KindReview:
		r := e.Review
		parts = []string{r.PullURL, r.Reviewer, r.State, Fragment(r.Body), strconv.FormatInt(r.ID, 10), timestamp(r.SubmittedAt)}
	}

	h := sha256.New()
	h.Write([]byte(e.Kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte(p))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
