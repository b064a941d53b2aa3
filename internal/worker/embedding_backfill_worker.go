package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"memoryvault/internal/app"
	"memoryvault/internal/platform/rabbitmq"
)

// EmbeddingBackfillWorker consumes backfill tasks and re-embeds memories that
// were stored without a vector. Embedding failures are acked anyway: the next
// vectorless memory re-enqueues independently, so there is no retry storm
// against a provider that is down.
type EmbeddingBackfillWorker struct {
	conn      *amqp.Connection
	memories  *app.MemoryService
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEmbeddingBackfillWorker(conn *amqp.Connection, memories *app.MemoryService, queueName string) *EmbeddingBackfillWorker {
	return &EmbeddingBackfillWorker{
		conn:      conn,
		memories:  memories,
		queueName: queueName,
	}
}

func (w *EmbeddingBackfillWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var task rabbitmq.BackfillTask
				if err := json.Unmarshal(d.Body, &task); err != nil {
					log.Printf("worker decode backfill task failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := w.memories.BackfillEmbedding(workerCtx, task.MemoryID); err != nil {
					if errors.Is(err, app.ErrMemoryNotFound) {
						log.Printf("backfill skipped, memory %s gone", task.MemoryID)
					} else {
						log.Printf("backfill embedding for %s failed: %v", task.MemoryID, err)
					}
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *EmbeddingBackfillWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
