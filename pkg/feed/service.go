package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"guestbook/internal/metrics"
	"guestbook/internal/util"
	"guestbook/pkg/broker"
	"guestbook/pkg/domain"
	"guestbook/pkg/store"
)

const (
	// MaxBodyLen is the body length limit, in characters.
	MaxBodyLen = 500
	// DefaultWindow is the feed window size used when none is configured.
	DefaultWindow = 5

	maxFetchLimit = 100
)

// Config wires the service dependencies.
type Config struct {
	Store  store.Store
	Broker broker.Broker
	Window int
}

// Service implements the guestbook feed operations: submission, recent
// listing, authorized delete, moderation visibility, and live subscription.
type Service struct {
	store  store.Store
	broker broker.Broker
	gate   Gate
	window int
}

// New constructs the feed service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("feed service requires a store")
	}
	if cfg.Broker == nil {
		return nil, errors.New("feed service requires a broker")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{store: cfg.Store, broker: cfg.Broker, window: window}, nil
}

// Window returns the configured feed window size.
func (s *Service) Window() int {
	return s.window
}

// Submit validates and persists a visitor message, then broadcasts it.
// The broadcast is published only after the store has durably committed,
// so a subscriber never sees an insert the store cannot answer for. The
// created message is returned directly; the submitter does not depend on
// broadcast delivery. A publish failure after commit is logged and counted
// rather than returned: the row exists, and other clients converge on
// their next FetchRecent.
func (s *Service) Submit(ctx context.Context, rawBody, clientName string, ident *domain.Identity) (domain.Message, error) {
	body := strings.TrimSpace(rawBody)
	if body == "" {
		return domain.Message{}, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return domain.Message{}, ErrBodyTooLong
	}

	author := ResolveAuthor(ident, clientName)
	msg, err := s.store.Append(ctx, domain.Message{
		AuthorUserID:      author.UserID,
		AuthorDisplayName: author.DisplayName,
		AuthorAvatarURL:   author.AvatarURL,
		Body:              body,
		Visible:           true,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.MessagesSubmitted.Inc()

	if err := s.broker.Publish(ctx, domain.InsertEvent(msg)); err != nil {
		metrics.PublishFailures.Inc()
		util.LoggerFromContext(ctx).Warn("insert broadcast failed", "message_id", msg.ID, "err", err)
	}
	return msg, nil
}

// FetchRecent returns the newest visible messages. A non-positive limit
// falls back to the configured window; oversized limits are clamped.
func (s *Service) FetchRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = s.window
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	msgs, err := s.store.ListRecent(ctx, limit, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// Delete permanently removes a message after the gate authorizes the
// requester. Deleting an id that is already gone is a silent no-op with no
// broadcast, so duplicate delete requests are harmless.
func (s *Service) Delete(ctx context.Context, id string, requester domain.Identity) error {
	// An anonymous requester can never own a message, so deny before
	// touching the store and without leaking whether the id exists.
	if requester.Anonymous() && !requester.HasRole(domain.RoleModerator) {
		return ErrForbidden
	}

	msg, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil
	}
	if err := s.gate.AuthorizeDelete(requester, msg); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.MessagesDeleted.Inc()

	if err := s.broker.Publish(ctx, domain.DeleteEvent(id)); err != nil {
		metrics.PublishFailures.Inc()
		util.LoggerFromContext(ctx).Warn("delete broadcast failed", "message_id", id, "err", err)
	}
	return nil
}

// SetVisibility is the administrative hook used by the moderation pipeline.
// The row is retained either way; only its feed visibility changes. The
// matching hide/unhide event is broadcast so live windows converge early.
func (s *Service) SetVisibility(ctx context.Context, id string, visible bool, actor string) error {
	msg, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok || msg.Visible == visible {
		return nil
	}
	if err := s.store.SetVisibility(ctx, id, visible, actor); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.broker.Publish(ctx, domain.VisibilityEvent(id, visible)); err != nil {
		metrics.PublishFailures.Inc()
		util.LoggerFromContext(ctx).Warn("visibility broadcast failed", "message_id", id, "err", err)
	}
	return nil
}

// Subscribe opens a live event stream. A consumer must seed itself with
// FetchRecent before, or immediately after, subscribing; the stream only
// carries events published while it is connected.
func (s *Service) Subscribe(ctx context.Context) (*broker.Subscription, error) {
	return s.broker.Subscribe(ctx)
}
