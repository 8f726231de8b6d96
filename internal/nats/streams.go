package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// workerAckWait is how long JetStream waits for an ack before a task
// message becomes eligible for redelivery. Batches run minutes, so workers
// extend this via InProgress while the item loop runs.
const workerAckWait = 2 * time.Minute

// SetupJetStream creates the analysis task stream and KV buckets.
func SetupJetStream(ctx context.Context, js jetstream.JetStream, maxDeliver int) error {
	// One work-queue stream carries every task message; batch state lives
	// in KV, so messages only reference it by key.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{TasksAllSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    48 * time.Hour,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	buckets := []string{
		BucketSessions,
		BucketBatches,
		BucketScheduled,
		BucketFailures,
	}
	for _, name := range buckets {
		cfg := jetstream.KeyValueConfig{
			Bucket:  name,
			Storage: jetstream.FileStorage,
		}
		if _, err := js.CreateOrUpdateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}

	// The durable consumer the worker pool pulls from. MaxDeliver bounds
	// systemic batch retries: workers NAK with backoff until delivery
	// attempts run out, then mark the batch failed and terminate the
	// message.
	_, err = js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       WorkerConsumerName,
		FilterSubject: TasksAllSubject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       workerAckWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("creating consumer %s: %w", WorkerConsumerName, err)
	}

	return nil
}
