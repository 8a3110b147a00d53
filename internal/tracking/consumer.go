package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// Handler consumes one event.
type Handler interface {
	Handle(ctx context.Context, e domain.Event) error
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Pollers     int
	WaitSeconds int32
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

// Consumer long-polls the events queue and hands each message to a Handler.
// A message is deleted only after it was handled, so a failure is retried
// once the visibility timeout lapses. Malformed messages are dropped.
type Consumer struct {
	client   API
	queueURL string
	handler  Handler
	cfg      ConsumerConfig
}

func NewConsumer(client API, queueURL string, handler Handler, cfg ConsumerConfig) *Consumer {
	if cfg.Pollers <= 0 {
		cfg.Pollers = 2
	}
	if cfg.WaitSeconds <= 0 {
		cfg.WaitSeconds = 20
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{client: client, queueURL: queueURL, handler: handler, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("sqs consumer: starting", "queue_url", c.queueURL, "pollers", c.cfg.Pollers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Pollers; i++ {
		g.Go(func() error {
			c.poll(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.ReceiveOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("sqs consumer: receive failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

// ReceiveOnce does one receive round and returns how many messages were
// handled and deleted.
func (c *Consumer) ReceiveOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.cfg.WaitSeconds,
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, msg := range out.Messages {
		if c.process(ctx, msg) {
			handled++
		}
	}
	return handled, nil
}

func (c *Consumer) process(ctx context.Context, msg types.Message) bool {
	var e domain.Event
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &e); err != nil || e.ID == "" {
		logger.Warn("sqs consumer: dropping malformed message", "message_id", aws.ToString(msg.MessageId))
		c.delete(ctx, msg.ReceiptHandle)
		return false
	}

	if err := c.handler.Handle(ctx, e); err != nil {
		metrics.RecordNotifyFailure()
		logger.Error("sqs consumer: handling failed, leaving for redelivery", "event_id", e.ID, "type", string(e.Type), "error", err.Error())
		return false
	}
	c.delete(ctx, msg.ReceiptHandle)
	return true
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Warn("sqs consumer: delete failed", "error", err.Error())
	}
}
