package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthdata/cmr-embeddings/pkg/models"
)

type fakeSQS struct {
	sendInputs  []*sqs.SendMessageInput
	batchInputs []*sqs.SendMessageBatchInput

	// failOnce maps entry ids to fail on the first batch call only.
	failOnce map[string]bool
	failures int

	receiveOut *sqs.ReceiveMessageOutput
	deleted    []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sendInputs = append(f.sendInputs, input)
	return &sqs.SendMessageOutput{MessageId: aws.String("mid-1")}, nil
}

func (f *fakeSQS) SendMessageBatch(ctx context.Context, input *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.batchInputs = append(f.batchInputs, input)

	out := &sqs.SendMessageBatchOutput{}
	for _, entry := range input.Entries {
		if f.failOnce[aws.ToString(entry.Id)] {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: entry.Id})
			f.failures++
			continue
		}
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{Id: entry.Id})
	}
	f.failOnce = nil
	return out, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveOut != nil {
		return f.receiveOut, nil
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func fastClient(api SQSAPI) *Client {
	c := NewClientWithAPI(api, "https://sqs.test/queue.fifo", nil)
	c.retry = RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 1.0}
	return c
}

func conceptMessages(n int) []models.ConceptMessage {
	msgs := make([]models.ConceptMessage, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, models.ConceptMessage{
			Action:      models.ActionUpdate,
			ConceptType: models.ConceptTypeCollection,
			ConceptID:   fmt.Sprintf("C%d-P", i),
			RevisionID:  1,
		})
	}
	return msgs
}

func TestSendConceptMessageFIFOAttributes(t *testing.T) {
	api := &fakeSQS{}
	client := fastClient(api)

	msg := models.ConceptMessage{
		Action:      models.ActionUpdate,
		ConceptType: models.ConceptTypeVariable,
		ConceptID:   "V9-P",
		RevisionID:  4,
	}

	id, err := client.SendConceptMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "mid-1", id)

	require.Len(t, api.sendInputs, 1)
	input := api.sendInputs[0]
	assert.Equal(t, "variable:V9-P", aws.ToString(input.MessageGroupId))
	assert.Equal(t, "V9-P:4", aws.ToString(input.MessageDeduplicationId))
	assert.Contains(t, aws.ToString(input.MessageBody), `"concept-id":"V9-P"`)
}

func TestSendBatchChunking(t *testing.T) {
	api := &fakeSQS{}
	client := fastClient(api)

	sent, err := client.SendBatch(context.Background(), conceptMessages(25))
	require.NoError(t, err)
	assert.Equal(t, 25, sent)

	require.Len(t, api.batchInputs, 3)
	assert.Len(t, api.batchInputs[0].Entries, 10)
	assert.Len(t, api.batchInputs[1].Entries, 10)
	assert.Len(t, api.batchInputs[2].Entries, 5)

	dedupIDs := make(map[string]bool)
	for _, input := range api.batchInputs {
		for _, entry := range input.Entries {
			dedupIDs[aws.ToString(entry.MessageDeduplicationId)] = true
		}
	}
	assert.Len(t, dedupIDs, 25)
}

func TestSendBatchRetriesOnlyFailedEntries(t *testing.T) {
	api := &fakeSQS{failOnce: map[string]bool{"2": true, "7": true}}
	client := fastClient(api)

	sent, err := client.SendBatch(context.Background(), conceptMessages(10))
	require.NoError(t, err)
	assert.Equal(t, 10, sent)

	require.Len(t, api.batchInputs, 2)
	retry := api.batchInputs[1].Entries
	require.Len(t, retry, 2)
	assert.Equal(t, "2", aws.ToString(retry[0].Id))
	assert.Equal(t, "7", aws.ToString(retry[1].Id))
}

func TestSendBatchExhaustsRetries(t *testing.T) {
	// alwaysFail keeps rejecting one entry on every attempt.
	api := &alwaysFailSQS{failID: "3"}
	client := fastClient(api)

	sent, err := client.SendBatch(context.Background(), conceptMessages(5))
	assert.Equal(t, 4, sent)

	var batchErr *BatchSendError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"C3-P:1"}, batchErr.FailedIDs)
}

type alwaysFailSQS struct {
	fakeSQS
	failID string
}

func (f *alwaysFailSQS) SendMessageBatch(ctx context.Context, input *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	out := &sqs.SendMessageBatchOutput{}
	for _, entry := range input.Entries {
		if aws.ToString(entry.Id) == f.failID {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: entry.Id})
			continue
		}
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{Id: entry.Id})
	}
	return out, nil
}

func TestReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{receiveOut: &sqs.ReceiveMessageOutput{
		Messages: []types.Message{
			{MessageId: aws.String("m1"), ReceiptHandle: aws.String("rh1"), Body: aws.String("{}")},
			{MessageId: aws.String("m2"), ReceiptHandle: aws.String("rh2"), Body: aws.String("{}")},
		},
	}}
	client := fastClient(api)

	msgs, err := client.ReceiveMessages(context.Background(), 10, 20*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "rh1", msgs[0].ReceiptHandle)

	require.NoError(t, client.DeleteMessage(context.Background(), "rh1"))
	assert.Equal(t, []string{"rh1"}, api.deleted)
}
