package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// StartMessage is the payload the campaigns API drops on the start
// queue when a campaign should begin sending.
type StartMessage struct {
	CampaignID string `json:"campaign_id"`
}

// StartConsumer long-polls the start queue and feeds campaign IDs into
// the dispatcher.
type StartConsumer struct {
	client     *sqs.Client
	queueURL   string
	dispatcher *Dispatcher
	done       chan struct{}
}

func NewStartConsumer(client *sqs.Client, queueURL string, d *Dispatcher) *StartConsumer {
	return &StartConsumer{
		client:     client,
		queueURL:   queueURL,
		dispatcher: d,
		done:       make(chan struct{}),
	}
}

func (c *StartConsumer) Start(ctx context.Context) {
	c.dispatcher.log.Info("start consumer running", "queue", c.queueURL)
	go c.poll(ctx)
}

func (c *StartConsumer) Stop() {
	close(c.done)
}

func (c *StartConsumer) poll(ctx context.Context) {
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
			c.dispatcher.log.Error("start queue receive failed", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var sm StartMessage
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &sm); err != nil || sm.CampaignID == "" {
				c.dispatcher.log.Error("bad start message", "body", aws.ToString(msg.Body))
				c.delete(ctx, msg.ReceiptHandle)
				continue
			}

			if _, err := c.dispatcher.Dispatch(ctx, sm.CampaignID); err != nil {
				c.dispatcher.log.Error("dispatch failed", "campaign_id", sm.CampaignID, "error", err.Error())
				// The claim transition makes redelivery safe.
				continue
			}

			c.delete(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *StartConsumer) delete(ctx context.Context, handle *string) {
	_, _ = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
}
