package worker

import (
	"context"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
)

type taskQueue interface {
	Consume(priority model.Priority, out chan<- queue.DeliveryTask, strategy retry.Strategy) error
}

type taskHandler interface {
	HandleTask(ctx context.Context, task queue.DeliveryTask, strategy retry.Strategy)
}

// Dispatcher runs the delivery worker pool over the three priority partitions.
type Dispatcher struct {
	queue   taskQueue
	handler taskHandler
}

func NewDispatcher(q taskQueue, h taskHandler) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		handler: h,
	}
}

// Run consumes all partitions and services them with workerCount goroutines.
// Workers prefer high over normal over low, but the bias is advisory only.
func (d *Dispatcher) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	high := make(chan queue.DeliveryTask)
	normal := make(chan queue.DeliveryTask)
	low := make(chan queue.DeliveryTask)

	consume := func(p model.Priority, out chan queue.DeliveryTask) {
		if err := d.queue.Consume(p, out, strategy); err != nil {
			zlog.Logger.Fatal().Err(err).Msgf("failed to consume %s tasks", p)
		}
	}

	go consume(model.PriorityHigh, high)
	go consume(model.PriorityNormal, normal)
	go consume(model.PriorityLow, low)

	for i := 0; i < workerCount; i++ {
		go func(id int) {
			zlog.Logger.Printf("worker-%d started", id)

			for {
				task, ok := d.next(ctx, high, normal, low)
				if !ok {
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				}

				d.handler.HandleTask(ctx, task, strategy)
			}
		}(i)
	}

	<-ctx.Done()
	zlog.Logger.Print("dispatcher stopped")
}

// next blocks until a task is available, draining higher partitions first.
func (d *Dispatcher) next(ctx context.Context, high, normal, low chan queue.DeliveryTask) (queue.DeliveryTask, bool) {
	select {
	case <-ctx.Done():
		return queue.DeliveryTask{}, false
	case task := <-high:
		return task, true
	default:
	}

	select {
	case <-ctx.Done():
		return queue.DeliveryTask{}, false
	case task := <-high:
		return task, true
	case task := <-normal:
		return task, true
	default:
	}

	select {
	case <-ctx.Done():
		return queue.DeliveryTask{}, false
	case task := <-high:
		return task, true
	case task := <-normal:
		return task, true
	case task := <-low:
		return task, true
	}
}
