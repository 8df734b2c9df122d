package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/webdevavi/aureus/constants"
)

// Consumer reads one stage queue. Messages are acked on receipt; the outcome of
// a job lives in the file status record, never in redelivery.
type Consumer struct {
	url       string
	exchange  string
	stage     constants.Stage
	handler   Handler
	logger    *slog.Logger
	reconnect time.Duration
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
}

type ConsumerConfig struct {
	URL               string
	Exchange          string
	Stage             constants.Stage
	ReconnectInterval time.Duration
	MaxConcurrentJobs int
}

func NewConsumer(cfg ConsumerConfig, h Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	return &Consumer{
		url:       cfg.URL,
		exchange:  cfg.Exchange,
		stage:     cfg.Stage,
		handler:   h,
		logger:    logger,
		reconnect: cfg.ReconnectInterval,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
	}
}

// Run consumes until ctx is done, reconnecting after broker failures, then
// waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.wg.Wait()
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer.stopped", "stage", c.stage)
			return nil
		}
		c.logger.Warn("consumer.disconnected", "stage", c.stage, "error", err, "retry_in", c.reconnect)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.exchange, c.stage); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(string(c.stage), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.stage, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.logger.Info("consumer.ready", "stage", c.stage)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := d.Ack(false); err != nil {
				c.logger.Error("consumer.ack.failed", "error", err)
			}
			if err := c.Dispatch(ctx, d.Body); err != nil {
				return nil
			}
		}
	}
}

// Dispatch decodes body and runs the handler in the background once a job slot
// is free. It only fails when ctx ends while waiting for a slot.
func (c *Consumer) Dispatch(ctx context.Context, body []byte) error {
	job, err := DecodeJob(body)
	if err != nil {
		c.logger.Error("consumer.message.malformed", "error", err, "body", truncate(string(body), 512))
		return nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		c.runJob(job)
	}()
	return nil
}

func (c *Consumer) runJob(job Job) {
	// jobs outlive the consumer context so shutdown drains instead of aborting
	ctx, log := jobContext(context.Background(), c.logger, c.stage, job)
	defer func() {
		if r := recover(); r != nil {
			log.Error("consumer.job.panic", "panic", fmt.Sprint(r))
		}
	}()
	start := time.Now()
	log.Info("consumer.job.start")
	if err := c.handler(ctx, job); err != nil {
		log.Error("consumer.job.failed", "error", err, "took", time.Since(start))
		return
	}
	log.Info("consumer.job.done", "took", time.Since(start))
}

// Wait blocks until every dispatched job has returned.
func (c *Consumer) Wait() { c.wg.Wait() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
