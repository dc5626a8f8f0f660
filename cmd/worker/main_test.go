package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthdata/cmr-embeddings/pkg/config"
	"github.com/earthdata/cmr-embeddings/pkg/handlers"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
	"github.com/earthdata/cmr-embeddings/pkg/queue"
)

type fakeQueue struct {
	receiveTimes []time.Time
	receiveErr   error
	messages     []queue.Message
	deleted      []string

	// stopAfter cancels the loop after this many receives.
	stopAfter int
	cancel    context.CancelFunc
}

func (f *fakeQueue) ReceiveMessages(ctx context.Context, maxMessages int32, wait time.Duration) ([]queue.Message, error) {
	f.receiveTimes = append(f.receiveTimes, time.Now())
	if len(f.receiveTimes) >= f.stopAfter {
		f.cancel()
	}
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	msgs := f.messages
	f.messages = nil
	return msgs, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type fakeBatchHandler struct {
	result handlers.BatchResult
}

func (f *fakeBatchHandler) HandleBatch(ctx context.Context, messages []queue.Message) handlers.BatchResult {
	return f.result
}

func TestRunAcknowledgesOnlySuccessfulMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQueue{
		messages: []queue.Message{
			{ID: "m1", ReceiptHandle: "rh1"},
			{ID: "m2", ReceiptHandle: "rh2"},
		},
		stopAfter: 2,
		cancel:    cancel,
	}
	h := &fakeBatchHandler{result: handlers.BatchResult{
		BatchItemFailures: []handlers.BatchItemFailure{{ItemIdentifier: "m2"}},
	}}

	err := run(ctx, &config.Config{}, q, h, observability.NewNoopLogger(), time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)

	// The failed message stays on the queue for redelivery.
	assert.Equal(t, []string{"rh1"}, q.deleted)
}

func TestRunPausesAfterReceiveError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQueue{
		receiveErr: errors.New("queue unavailable"),
		stopAfter:  3,
		cancel:     cancel,
	}

	delay := 25 * time.Millisecond
	err := run(ctx, &config.Config{}, q, &fakeBatchHandler{}, observability.NewNoopLogger(), delay)
	require.ErrorIs(t, err, context.Canceled)

	require.GreaterOrEqual(t, len(q.receiveTimes), 2)
	for i := 1; i < len(q.receiveTimes); i++ {
		assert.GreaterOrEqual(t, q.receiveTimes[i].Sub(q.receiveTimes[i-1]), delay)
	}
}
