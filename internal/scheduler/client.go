package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"leadsync_backend/internal/qualification"
	"leadsync_backend/internal/webhook"
	"leadsync_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	webhookMaxRetry = 5
	webhookTimeout  = time.Minute

	// Stage overrides issued in quick succession collapse into one re-sync.
	resyncUniqueWindow = 10 * time.Minute
	resyncTimeout      = 30 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// DispatchMessage queues an acknowledged inbound message.
func (c *Client) DispatchMessage(ctx context.Context, job webhook.MessageJob) error {
	task, err := NewInboundMessageTask(job)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.MaxRetry(webhookMaxRetry), asynq.Timeout(webhookTimeout))
}

// DispatchBooking queues an acknowledged booking-system event.
func (c *Client) DispatchBooking(ctx context.Context, job webhook.BookingJob) error {
	task, err := NewBookingEventTask(job)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.MaxRetry(webhookMaxRetry), asynq.Timeout(webhookTimeout))
}

// EnqueueAccountResync queues a full CRM lead re-sync for one account. A re-sync already
// pending for the account absorbs the request.
func (c *Client) EnqueueAccountResync(ctx context.Context, accountID uuid.UUID) error {
	task, err := NewAccountResyncTask(AccountResyncPayload{AccountID: accountID})
	if err != nil {
		return err
	}
	err = c.enqueue(ctx, task, asynq.Unique(resyncUniqueWindow), asynq.Timeout(resyncTimeout))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}
	opts = append(opts, asynq.Queue(c.queue))
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

var (
	_ webhook.Dispatcher           = (*Client)(nil)
	_ qualification.ResyncEnqueuer = (*Client)(nil)
)
