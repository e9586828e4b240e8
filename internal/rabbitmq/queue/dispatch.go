// Package queue declares the dispatch topology: one direct exchange, a durable
// task queue per priority, a TTL retry queue per priority dead-lettering back
// into the exchange, and a DLQ for tasks the main queues reject.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

const (
	ExchangeName = "notifications-exchange"
	DLQName      = "notifications-dlq"

	// retryTTL is the parking time of the retry queues. Delayed execution
	// (cooldowns, scheduled activation) is resolved at this granularity: a task
	// surfacing before its NotBefore is parked for another cycle.
	retryTTL = 5000 // milliseconds
)

// DeliveryTask schedules one delivery attempt for a notification. Retry and
// backoff state lives on the task, not in the broker.
type DeliveryTask struct {
	NotificationID uuid.UUID      `json:"notification_id"`
	Priority       model.Priority `json:"priority"`
	TraceID        string         `json:"trace_id,omitempty"`
	NotBefore      time.Time      `json:"not_before,omitempty"` // earliest execution time, zero for immediate
}

// QueueName returns the main queue name for a priority partition.
func QueueName(p model.Priority) string {
	return "notifications-" + string(p)
}

// RetryQueueName returns the retry queue name for a priority partition.
func RetryQueueName(p model.Priority) string {
	return "notifications-retry-" + string(p)
}

func routingKey(p model.Priority) string {
	return "notify." + string(p)
}

func retryRoutingKey(p model.Priority) string {
	return "retry." + string(p)
}

// DispatchQueue is the priority-partitioned task queue feeding the delivery workers.
type DispatchQueue struct {
	publisher *rabbitmq.Publisher
	consumers map[model.Priority]*rabbitmq.Consumer
}

// NewDispatchQueue declares the full topology on the given channel.
func NewDispatchQueue(ch *rabbitmq.Channel) (*DispatchQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	consumers := make(map[model.Priority]*rabbitmq.Consumer, 3)

	for _, p := range []model.Priority{model.PriorityHigh, model.PriorityNormal, model.PriorityLow} {
		mainArgs := map[string]interface{}{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQName,
		}

		mainQ, err := qm.DeclareQueue(QueueName(p), rabbitmq.QueueConfig{
			Durable: true,
			Args:    mainArgs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to declare %s queue: %w", p, err)
		}

		if err := ch.QueueBind(mainQ.Name, routingKey(p), exchange.Name(), false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind the exchange to the %s queue: %w", p, err)
		}

		// Parked tasks flow back into the priority partition after the TTL.
		retryArgs := map[string]interface{}{
			"x-dead-letter-exchange":    ExchangeName,
			"x-dead-letter-routing-key": routingKey(p),
			"x-message-ttl":             int32(retryTTL),
		}

		retryQ, err := qm.DeclareQueue(RetryQueueName(p), rabbitmq.QueueConfig{
			Durable: true,
			Args:    retryArgs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to declare %s retry queue: %w", p, err)
		}

		if err := ch.QueueBind(retryQ.Name, retryRoutingKey(p), exchange.Name(), false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind the exchange to the %s retry queue: %w", p, err)
		}

		consumers[p] = rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(mainQ.Name))
	}

	return &DispatchQueue{
		publisher: rabbitmq.NewPublisher(ch, exchange.Name()),
		consumers: consumers,
	}, nil
}

// Publish enqueues a task into its priority partition.
func (q *DispatchQueue) Publish(task DeliveryTask, strategy retry.Strategy) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.publisher.PublishWithRetry(body, routingKey(task.Priority), "application/json", strategy)
}

// PublishRetry parks a task on its priority's retry queue; it re-enters the
// main partition after the retry TTL.
func (q *DispatchQueue) PublishRetry(task DeliveryTask, strategy retry.Strategy) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.publisher.PublishWithRetry(body, retryRoutingKey(task.Priority), "application/json", strategy)
}

// Consume delivers tasks from one priority partition into out.
func (q *DispatchQueue) Consume(priority model.Priority, out chan<- DeliveryTask, strategy retry.Strategy) error {
	consumer, ok := q.consumers[priority]
	if !ok {
		return fmt.Errorf("no consumer for priority %s", priority)
	}

	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var task DeliveryTask
			if err := json.Unmarshal(m, &task); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal task")
				continue
			}

			out <- task
		}
	}()

	return consumer.ConsumeWithRetry(msgChan, strategy)
}
