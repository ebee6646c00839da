package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueConvertImage(ctx context.Context, payload ConvertImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertImageTask(payload)
	if err != nil {
		return nil, err
	}
	// A failed codec invocation is deterministic; retries only make sense for
	// queue-level delivery problems, so the count stays low.
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
