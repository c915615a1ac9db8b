package rabbit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dizzycode/rabbitkit/v1/observability"
)

// TestObserver records every observed operation.
type TestObserver struct {
	mu         sync.Mutex
	operations []observability.OperationContext
}

func (t *TestObserver) ObserveOperation(ctx observability.OperationContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations = append(t.operations, ctx)
}

func (t *TestObserver) GetOperations() []observability.OperationContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]observability.OperationContext{}, t.operations...)
}

// ByOperation returns the recorded operations with the given name.
func (t *TestObserver) ByOperation(operation string) []observability.OperationContext {
	var out []observability.OperationContext
	for _, op := range t.GetOperations() {
		if op.Operation == operation {
			out = append(out, op)
		}
	}
	return out
}

func TestObserveHelper(t *testing.T) {
	obs := &TestObserver{}
	conn := NewConnection(Config{URL: "amqp://localhost"}, nil).WithObserver(obs)

	conn.observe(OperationPublish, "orders", "", 100*time.Millisecond, nil, 1024, map[string]interface{}{"channel": "default"})

	ops := obs.GetOperations()
	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, "rabbit", op.Component)
	assert.Equal(t, OperationPublish, op.Operation)
	assert.Equal(t, "orders", op.Resource)
	assert.Equal(t, 100*time.Millisecond, op.Duration)
	assert.Equal(t, int64(1024), op.Size)
	assert.NoError(t, op.Error)
	assert.Equal(t, "default", op.Metadata["channel"])
}

func TestObserveHelperWithoutObserver(t *testing.T) {
	conn := NewConnection(Config{URL: "amqp://localhost"}, nil)
	assert.NotPanics(t, func() {
		conn.observe(OperationConsume, "orders", "", time.Millisecond, nil, 1, nil)
	})
}

func TestPublishIsObserved(t *testing.T) {
	b := newFakeBroker()
	obs := &TestObserver{}
	conn := newFakeConnection(t, b, Config{})
	conn.WithObserver(obs)

	require.NoError(t, declareQueue(conn, "observed"))
	require.NoError(t, PublishToQueue(t.Context(), conn, "observed", map[string]string{"k": "v"}, nil))

	ops := obs.ByOperation(OperationPublish)
	require.Len(t, ops, 1)
	assert.Equal(t, "observed", ops[0].Resource)
	assert.Equal(t, int64(len(`{"k":"v"}`)), ops[0].Size)
	assert.NoError(t, ops[0].Error)
}

// declareQueue declares a durable queue without arguments on the default channel.
func declareQueue(conn *Connection, name string) error {
	ch, err := conn.GetChannel("")
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}
