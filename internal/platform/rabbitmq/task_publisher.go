package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BackfillTask asks the worker to regenerate the embedding of one memory.
type BackfillTask struct {
	MemoryID string `json:"memory_id"`
}

type TaskPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewTaskPublisher(conn *amqp.Connection, queueName string) *TaskPublisher {
	return &TaskPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// Enqueue publishes a backfill task for one memory.
func (p *TaskPublisher) Enqueue(ctx context.Context, memoryID string) error {
	return p.Publish(ctx, BackfillTask{MemoryID: memoryID})
}

func (p *TaskPublisher) Publish(ctx context.Context, task BackfillTask) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal backfill task failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish backfill task failed: %w", err)
	}
	return nil
}
