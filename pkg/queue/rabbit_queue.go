package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitJobQueue implements JobQueue on a durable RabbitMQ queue.
type RabbitJobQueue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// NewRabbitJobQueue connects to RabbitMQ and declares the job queue.
func NewRabbitJobQueue(url, queueName string) (*RabbitJobQueue, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rabbitmq url required")
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		queueName = "file_extraction"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitJobQueue{conn: conn, channel: ch, queueName: queueName}, nil
}

// Publish enqueues a job as a persistent JSON message.
func (q *RabbitJobQueue) Publish(ctx context.Context, job ExtractionJob) error {
	if strings.TrimSpace(job.FileID) == "" {
		return errors.New("file id required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = q.channel.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume reads jobs with manual acks until ctx is cancelled.
func (q *RabbitJobQueue) Consume(ctx context.Context, handler func(context.Context, ExtractionJob) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			var job ExtractionJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Reject(false)
				continue
			}
			if err := handler(ctx, job); err != nil {
				// Requeue on first failure only.
				_ = d.Reject(!d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (q *RabbitJobQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
