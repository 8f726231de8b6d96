package nats

import (
	"encoding/json"
	"fmt"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// batchKey builds the KV key for a batch record. The batch number is
// zero-padded so lexical key order matches batch order within a session.
func batchKey(sessionID string, batchNumber int) string {
	return fmt.Sprintf("%s.%04d", sessionID, batchNumber)
}

// scheduledKey builds the KV key for a parked task.
func scheduledKey(task core.Task) string {
	if task.Kind == core.TaskItem {
		return fmt.Sprintf("item.%d", task.ItemID)
	}
	return fmt.Sprintf("batch.%s", batchKey(task.SessionID, task.BatchNumber))
}

// marshalTask serializes a task for the wire.
func marshalTask(task core.Task) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal %s task: %w", task.Kind, err)
	}
	return data, nil
}

// unmarshalTask deserializes a task message payload.
func unmarshalTask(data []byte) (core.Task, error) {
	var task core.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return core.Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	switch task.Kind {
	case core.TaskBatch:
		if task.SessionID == "" || task.BatchNumber < 1 {
			return core.Task{}, fmt.Errorf("batch task missing session or batch number")
		}
	case core.TaskItem:
		if task.ItemID == 0 {
			return core.Task{}, fmt.Errorf("item task missing item id")
		}
	default:
		return core.Task{}, fmt.Errorf("unknown task kind %q", task.Kind)
	}
	return task, nil
}
