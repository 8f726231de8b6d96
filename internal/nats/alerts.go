package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// AlertBroker implements core.AlertPublisher over NATS core pub/sub.
// Monitor alerts fan out to a severity-specific subject and a catch-all,
// so an operator tool can watch only criticals or everything.
type AlertBroker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewAlertBroker creates an AlertBroker on an existing NATS connection.
func NewAlertBroker(nc *nats.Conn) *AlertBroker {
	return &AlertBroker{nc: nc}
}

// PublishAlert publishes an alert to its severity subject and the
// catch-all subject.
func (b *AlertBroker) PublishAlert(alert *core.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if err := b.nc.Publish(AlertSubject(alert.Severity), data); err != nil {
		slog.Error("failed to publish alert", "error", err, "severity", alert.Severity)
		return fmt.Errorf("publish alert: %w", err)
	}
	if err := b.nc.Publish(AlertsAllSubject(), data); err != nil {
		slog.Error("failed to publish alert to catch-all", "error", err)
	}
	return nil
}

// SubscribeSeverity subscribes to alerts of one severity.
func (b *AlertBroker) SubscribeSeverity(severity string) (<-chan *core.Alert, func(), error) {
	return b.subscribe(AlertSubject(severity))
}

// SubscribeAll subscribes to every alert.
func (b *AlertBroker) SubscribeAll() (<-chan *core.Alert, func(), error) {
	return b.subscribe(AlertsAllSubject())
}

func (b *AlertBroker) subscribe(subject string) (<-chan *core.Alert, func(), error) {
	ch := make(chan *core.Alert, 64)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var alert core.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			slog.Error("failed to unmarshal alert", "error", err)
			return
		}
		select {
		case ch <- &alert:
		default:
			slog.Warn("dropping alert, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(ch)
	}

	return ch, unsubscribe, nil
}

// Close unsubscribes every subscription.
func (b *AlertBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}
