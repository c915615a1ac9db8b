package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dizzycode/rabbitkit/v1/rabbit"
	"github.com/dizzycode/rabbitkit/v1/store"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

var errMissingID = errors.New("task has no id")

// task is the message body the worker consumes.
type task struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`

	// FailAttempts makes the first N attempts fail, to exercise the retry path.
	FailAttempts int `json:"fail_attempts,omitempty"`
}

// worker processes each task at most once to completion. Completion is recorded in the
// store under the task ID, so a redelivery of a finished task is acked without work.
type worker struct {
	store store.Store
	log   rabbit.Logger
	cfg   workerConfig
}

func (w *worker) handle(ctx context.Context, d *amqp.Delivery) error {
	var t task
	if err := json.Unmarshal(d.Body, &t); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if t.ID == "" {
		t.ID = d.MessageId
	}
	if t.ID == "" {
		return errMissingID
	}

	key := "task:" + t.ID
	state, seen, err := w.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if seen && state == stateDone {
		w.log.Info("task already processed, skipping", "taskId", t.ID)
		return nil
	}
	if err := w.store.Set(ctx, key, stateProcessing); err != nil {
		return err
	}

	meta := rabbit.GetRetryMetadata(d)
	if meta.RetryCount < t.FailAttempts {
		return fmt.Errorf("task %s: simulated failure %d of %d", t.ID, meta.RetryCount+1, t.FailAttempts)
	}

	w.log.Info("task processed", "taskId", t.ID, "kind", t.Kind, "attempt", meta.RetryCount+1)

	if err := w.store.Set(ctx, key, stateDone); err != nil {
		return err
	}
	if w.cfg.CloseKeys {
		return w.store.MarkAsClosed(ctx, key)
	}
	return nil
}
