package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// TaskMsg is one delivered task plus the message controls a worker needs:
// ack on success, NAK with delay for a retry, terminate when retries are
// exhausted.
type TaskMsg struct {
	task core.Task
	msg  jetstream.Msg
}

// Task returns the decoded task.
func (m *TaskMsg) Task() core.Task { return m.task }

// Deliveries returns how many times this message has been delivered,
// starting at 1.
func (m *TaskMsg) Deliveries() int {
	meta, err := m.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

// Ack acknowledges the message; it will not be redelivered.
func (m *TaskMsg) Ack() error { return m.msg.Ack() }

// Retry negatively acknowledges with a delay before redelivery.
func (m *TaskMsg) Retry(delay time.Duration) error { return m.msg.NakWithDelay(delay) }

// Discard terminates the message; it will not be redelivered.
func (m *TaskMsg) Discard() error { return m.msg.Term() }

// Extend signals the message is still being worked on, resetting the ack
// wait clock. Workers call this between items in a long batch.
func (m *TaskMsg) Extend() error { return m.msg.InProgress() }

// TaskFetcher pulls task messages from the shared durable consumer.
type TaskFetcher struct {
	consumer jetstream.Consumer
}

// NewTaskFetcher wraps a JetStream pull consumer.
func NewTaskFetcher(consumer jetstream.Consumer) *TaskFetcher {
	return &TaskFetcher{consumer: consumer}
}

// Fetch pulls up to count task messages, waiting briefly when the queue is
// empty. An empty queue yields (nil, nil); a broken consumer or connection
// surfaces as an error so the caller can log and back off. Undecodable
// payloads are terminated in place.
func (f *TaskFetcher) Fetch(ctx context.Context, count int) ([]*TaskMsg, error) {
	msgs, err := f.consumer.Fetch(count, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetching tasks: %w", err)
	}

	var tasks []*TaskMsg
	for msg := range msgs.Messages() {
		task, err := unmarshalTask(msg.Data())
		if err != nil {
			msg.Term()
			continue
		}
		tasks = append(tasks, &TaskMsg{task: task, msg: msg})
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return tasks, fmt.Errorf("fetching tasks: %w", err)
	}
	return tasks, nil
}
