// Package notify delivers operator alerts to Telegram and Discord. The
// Notifier filters by event type and throttles each channel; EventNotifier
// turns committed ledger events into alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLimiter makes every send wait for room under limiter, keyed per
// channel as notify:<sender>. Limiter failures are logged and the alert is
// sent anyway.
func WithLimiter(limiter domain.RateLimiter) Option {
	return func(n *Notifier) { n.limiter = limiter }
}

// Notifier fans an alert out to every channel in parallel. Notify drops
// event types outside the configured set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter domain.RateLimiter
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Allows reports whether Notify forwards event.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll ignores the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends on every channel; one failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, s := range n.senders {
		g.Go(func() error {
			if err := n.send(ctx, s, title, message); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, s Sender, title, message string) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx, "notify:"+s.Name()); err != nil {
			if ctx.Err() != nil {
				return err
			}
			n.logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.Send(ctx, title, message); err != nil {
		n.logger.ErrorContext(ctx, "sender failed",
			slog.String("sender", s.Name()),
			slog.String("error", err.Error()),
		)
		return err
	}
	n.logger.DebugContext(ctx, "notification sent",
		slog.String("sender", s.Name()),
		slog.String("title", title),
	)
	return nil
}
