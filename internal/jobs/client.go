// Package jobs implements the durable job substrate (C6): named queues
// backed by asynq/Redis, enqueue helpers per queue, and the worker server
// that dispatches to domain handlers with retry and backoff.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/omnireach/core/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// defaultMaxRetry is the substrate-wide retry budget per job (spec: attempts=3).
const defaultMaxRetry = 3

// completedTaskRetention bounds how long a successfully processed task's
// result stays queryable. asynq retains completed tasks by duration, not
// by count, so this is this core's translation of the job contract's
// count-based remove_on_complete=1000 policy; the count itself is
// enforced separately by Inspector.TrimCompleted on a periodic sweep.
const completedTaskRetention = 24 * time.Hour

// Client enqueues jobs onto the named queues from any process (HTTP
// handlers, schedulers) without running a worker itself.
type Client struct {
	client *asynq.Client
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

	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueInboundEvent(ctx context.Context, payload InboundEventPayload) error {
	task, err := NewInboundEventTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskInboundEvent, task)
}

func (c *Client) EnqueueOutboundMessage(ctx context.Context, payload OutboundMessagePayload) error {
	task, err := NewOutboundMessageTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskOutboundMessage, task)
}

func (c *Client) EnqueueWhatsAppStatus(ctx context.Context, payload WhatsAppStatusPayload) error {
	task, err := NewWhatsAppStatusTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskWhatsAppStatus, task)
}

func (c *Client) EnqueueCampaignSend(ctx context.Context, payload CampaignSendPayload) error {
	task, err := NewCampaignSendTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskCampaignSend, task)
}

// EnqueueJourneyRun enqueues the next step of a journey run. Passing a
// non-zero delay lets the journey engine implement wait-for-duration
// nodes without blocking a worker goroutine.
func (c *Client) EnqueueJourneyRun(ctx context.Context, payload JourneyRunPayload, delay time.Duration) error {
	task, err := NewJourneyRunTask(payload)
	if err != nil {
		return err
	}
	if c == nil || c.client == nil {
		return nil
	}
	opts := []asynq.Option{asynq.Queue(TaskJourneyRun), asynq.MaxRetry(defaultMaxRetry), asynq.Retention(completedTaskRetention)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func (c *Client) EnqueueKnowledgeSync(ctx context.Context, payload KnowledgeSyncPayload) error {
	task, err := NewKnowledgeSyncTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskKnowledgeSync, task)
}

func (c *Client) EnqueueAIInsight(ctx context.Context, payload AIInsightPayload) error {
	task, err := NewAIInsightTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskAIInsight, task)
}

func (c *Client) EnqueueCRMWebhook(ctx context.Context, payload CRMWebhookPayload) error {
	task, err := NewCRMWebhookTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskCRMWebhook, task)
}

func (c *Client) EnqueueAnalyticsMetric(ctx context.Context, payload AnalyticsMetricPayload) error {
	task, err := NewAnalyticsMetricTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskAnalyticsMetric, task)
}

func (c *Client) EnqueueAgentReply(ctx context.Context, payload AgentReplyPayload) error {
	task, err := NewAgentReplyTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, TaskAgentReply, task)
}

func (c *Client) enqueue(ctx context.Context, queue string, task *asynq.Task) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(defaultMaxRetry), asynq.Retention(completedTaskRetention))
	return err
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

// NewRedisClient builds a plain go-redis client against the same
// connection settings the asynq client and worker use, for substrate
// concerns that need direct key/value access (short-lived dedup
// caches) rather than a job queue.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if cfg.GetRedisTLSInsecure() {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if cfg.GetRedisTLSInsecure() {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return redis.NewClient(opt), nil
}
