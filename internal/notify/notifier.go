// Package notify sends request lifecycle alerts to chat channels. A Notifier
// fans each alert out to every registered Sender and filters by request
// status so operators only hear about the transitions they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

// sendTimeout bounds one asynchronous alert delivery.
const sendTimeout = 15 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to its senders. An empty status filter allows
// every status.
type Notifier struct {
	senders  []Sender
	statuses map[domain.RequestStatus]bool
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. statuses lists the
// request statuses ("confirmed", "failed", ...) that trigger an alert.
func NewNotifier(senders []Sender, statuses []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.RequestStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[domain.RequestStatus(strings.ToLower(strings.TrimSpace(s)))] = true
	}
	return &Notifier{
		senders:  senders,
		statuses: allowed,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyTransition sends an alert for one tracker transition if its target
// status passes the filter.
func (n *Notifier) NotifyTransition(ctx context.Context, name string, to domain.RequestState) error {
	if len(n.statuses) > 0 && !n.statuses[to.Status] {
		return nil
	}
	title, message := describe(name, to)
	return n.dispatch(ctx, title, message)
}

// Observer returns a lifecycle.Observer that delivers alerts in the
// background so tracker transitions never wait on a chat API.
func (n *Notifier) Observer() lifecycle.Observer {
	return func(name string, _, to domain.RequestState) {
		if !n.Enabled() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			// dispatch already logs each sender failure.
			_ = n.NotifyTransition(ctx, name, to)
		}()
	}
}

// describe renders a transition as a title and body.
func describe(name string, st domain.RequestState) (string, string) {
	title := fmt.Sprintf("%s %s", name, st.Status)
	var b strings.Builder
	if msg := lifecycle.Message(st); msg != "" {
		b.WriteString(msg)
	}
	if st.TxHash != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("tx: ")
		b.WriteString(st.TxHash)
	}
	return title, b.String()
}

// dispatch sends to every sender. One sender failing does not stop the
// others; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
