// Package queue provides the SQS-backed work queue adapter.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/billingapp/backend/internal/domain/billing"
	"go.uber.org/zap"
)

const (
	// maxReceiveBatch is the SQS ceiling for one receive call.
	maxReceiveBatch = 10
	// maxWait is the SQS ceiling for long-poll waits.
	maxWait = 20 * time.Second
	// maxDeleteBatch is the SQS ceiling for one batch delete call.
	maxDeleteBatch = 10
)

// Ensure SQSQueue implements billing.Queue
var _ billing.Queue = (*SQSQueue)(nil)

// SQSQueue adapts AWS SQS to the work queue contract. Queue names are
// resolved to URLs once and cached for the lifetime of the adapter.
type SQSQueue struct {
	client *sqs.Client
	logger *zap.Logger

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSQueue creates a new SQS queue adapter.
func NewSQSQueue(client *sqs.Client, logger *zap.Logger) *SQSQueue {
	return &SQSQueue{
		client: client,
		logger: logger,
		urls:   make(map[string]string),
	}
}

// NewSQSClient creates an SQS client from the AWS config.
func NewSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Send puts one message on the queue and returns its id.
func (q *SQSQueue) Send(ctx context.Context, queue string, body []byte) (string, error) {
	url, err := q.queueURL(ctx, queue)
	if err != nil {
		return "", err
	}

	result, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		q.logger.Error("failed to send message",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return "", fmt.Errorf("send to %s: %w", queue, err)
	}
	return aws.ToString(result.MessageId), nil
}

// Receive fetches up to maxMessages messages, long-polling up to wait.
// maxMessages is clamped to 1..10 and wait to 0..20s per the SQS limits.
func (q *SQSQueue) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]billing.Message, error) {
	url, err := q.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	if maxMessages < 1 {
		maxMessages = 1
	}
	if maxMessages > maxReceiveBatch {
		maxMessages = maxReceiveBatch
	}
	if wait < 0 {
		wait = 0
	}
	if wait > maxWait {
		wait = maxWait
	}

	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		q.logger.Error("failed to receive messages",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}

	msgs := make([]billing.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, billing.Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

// Delete acknowledges one message by receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, queue string, receiptHandle string) error {
	url, err := q.queueURL(ctx, queue)
	if err != nil {
		return err
	}

	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		q.logger.Error("failed to delete message",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return fmt.Errorf("delete from %s: %w", queue, err)
	}
	return nil
}

// DeleteBatch acknowledges the messages in chunks of up to ten, returning
// how many were deleted. Per-entry failures are logged and counted out
// rather than failing the whole call.
func (q *SQSQueue) DeleteBatch(ctx context.Context, queue string, msgs []billing.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	url, err := q.queueURL(ctx, queue)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(msgs); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for i, m := range chunk {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("m%d", start+i)),
				ReceiptHandle: aws.String(m.ReceiptHandle),
			})
		}

		result, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(url),
			Entries:  entries,
		})
		if err != nil {
			q.logger.Error("failed to delete message batch",
				zap.String("queue", queue),
				zap.Int("deleted", deleted),
				zap.Error(err),
			)
			return deleted, fmt.Errorf("delete batch from %s: %w", queue, err)
		}

		deleted += len(result.Successful)
		for _, failure := range result.Failed {
			q.logger.Warn("message was not deleted",
				zap.String("queue", queue),
				zap.String("entry_id", aws.ToString(failure.Id)),
				zap.String("code", aws.ToString(failure.Code)),
			)
		}
	}
	return deleted, nil
}

// queueURL resolves and caches the URL for a queue name.
func (q *SQSQueue) queueURL(ctx context.Context, queue string) (string, error) {
	q.mu.RLock()
	url, ok := q.urls[queue]
	q.mu.RUnlock()
	if ok {
		return url, nil
	}

	result, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queue),
	})
	if err != nil {
		return "", fmt.Errorf("resolve queue url for %s: %w", queue, err)
	}
	url = aws.ToString(result.QueueUrl)

	q.mu.Lock()
	q.urls[queue] = url
	q.mu.Unlock()
	return url, nil
}
