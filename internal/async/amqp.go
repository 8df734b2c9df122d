package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/webdevavi/aureus/constants"
)

// declareTopology sets up the direct exchange and the durable stage queue bound to it.
func declareTopology(ch *amqp.Channel, exchange string, stage constants.Stage) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := ch.QueueDeclare(string(stage), true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", stage, err)
	}
	if err := ch.QueueBind(q.Name, string(stage), exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", stage, err)
	}
	return nil
}

// AMQPPublisher publishes persistent JSON jobs. It redials lazily after a broken connection.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[constants.Stage]bool
}

func NewAMQPPublisher(url, exchange string, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{url: url, exchange: exchange, logger: logger, declared: map[constants.Stage]bool{}}
}

func (p *AMQPPublisher) connect() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.closeLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.declared = map[constants.Stage]bool{}
	p.logger.Info("broker.publisher.connected", "exchange", p.exchange)
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, stage constants.Stage, job Job) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = p.connect(); lastErr != nil {
			continue
		}
		if !p.declared[stage] {
			if lastErr = declareTopology(p.ch, p.exchange, stage); lastErr != nil {
				p.closeLocked()
				continue
			}
			p.declared[stage] = true
		}
		lastErr = p.ch.PublishWithContext(ctx, p.exchange, string(stage), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
		if lastErr == nil {
			p.logger.Info("broker.publish", "stage", stage, "report_id", job.ReportID, "file_id", job.FileID)
			return nil
		}
		p.closeLocked()
	}
	p.logger.Error("broker.publish.failed", "stage", stage, "report_id", job.ReportID, "error", lastErr)
	return fmt.Errorf("publish %s job: %w", stage, lastErr)
}

func (p *AMQPPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
