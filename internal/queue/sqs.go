package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
)

// maxBatchSize is the SQS SendMessageBatch limit.
const maxBatchSize = 10

// SQSQueue implements SendQueue on an SQS queue.
type SQSQueue struct {
	client    *sqs.Client
	queueURL  string
	chunkSize int
	log       *logger.Logger
}

func NewSQSQueue(client *sqs.Client, queueURL string, chunkSize int) *SQSQueue {
	if chunkSize <= 0 || chunkSize > maxBatchSize {
		chunkSize = maxBatchSize
	}
	return &SQSQueue{
		client:    client,
		queueURL:  queueURL,
		chunkSize: chunkSize,
		log:       logger.Component("send-queue"),
	}
}

// Enqueue sends jobs in batches. Batches are independent: a failed
// batch is counted and skipped, later batches still go out. Enqueue
// only returns an error when the context is cancelled.
func (q *SQSQueue) Enqueue(ctx context.Context, jobs []domain.SendJob) (EnqueueResult, error) {
	var res EnqueueResult

	for start := 0; start < len(jobs); start += q.chunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start + q.chunkSize
		if end > len(jobs) {
			end = len(jobs)
		}
		chunk := jobs[start:end]
		res.Batches++

		entries := make([]types.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, job := range chunk {
			body, err := json.Marshal(job)
			if err != nil {
				q.log.Error("marshaling send job",
					"campaign_id", job.CampaignID,
					"recipient_id", job.RecipientID,
					"error", err.Error())
				res.Failed++
				continue
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(string(body)),
			})
		}
		if len(entries) == 0 {
			continue
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			q.log.Error("sending job batch", "batch_size", len(entries), "error", err.Error())
			res.Failed += len(entries)
			continue
		}

		res.Enqueued += len(out.Successful)
		res.Failed += len(out.Failed)
		for _, f := range out.Failed {
			q.log.Warn("job rejected by queue", "code", aws.ToString(f.Code), "message", aws.ToString(f.Message))
		}
	}

	return res, nil
}

// Consumer long-polls an SQS queue and feeds send jobs to a handler.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	handler  JobHandler
	log      *logger.Logger
	done     chan struct{}
}

func NewConsumer(client *sqs.Client, queueURL string, handler JobHandler) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		log:      logger.Component("send-consumer"),
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.log.Info("consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("receive failed", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		// Jobs are independent, so a received batch is processed
		// concurrently. Bounded by the 10-message receive cap.
		var wg sync.WaitGroup
		for _, msg := range out.Messages {
			wg.Add(1)
			go func(msg types.Message) {
				defer wg.Done()
				c.process(ctx, msg)
			}(msg)
		}
		wg.Wait()
	}
}

func (c *Consumer) process(ctx context.Context, msg types.Message) {
	var job domain.SendJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		// Malformed messages would loop forever, drop them.
		c.log.Error("bad job message", "error", err.Error())
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if err := c.handler.Handle(ctx, job); err != nil {
		c.log.Error("job failed, left for redelivery",
			"campaign_id", job.CampaignID,
			"recipient_id", job.RecipientID,
			"error", err.Error())
		return
	}

	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		c.log.Warn("delete failed", "error", err.Error())
	}
}
