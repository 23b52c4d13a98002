// Package notify delivers operator alerts for settlement exceptions:
// unmatched credits, expired deposits and failed transfers. Alerts fan out
// to every configured channel and can be filtered by event kind.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/netzerhq/settler/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It keeps a set of
// allowed event kinds; Notify only forwards alerts whose kind is in the set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose kind appears in the events slice are forwarded by Notify. If
// events is empty, all kinds pass.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders if the event kind is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// dispatch fans the alert out to every sender. A failing sender does not
// block delivery to the rest; failures are collected into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
