package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskdeck-api/domain"
)

type enqueuer interface {
	Enqueue(ctx context.Context, ev domain.Event) error
}

const (
	defaultPumpWorkers = 8
	defaultPumpBuffer  = 1024

	pumpEnqueueTimeout = 60 * time.Second
	pumpHandoffTimeout = 15 * time.Millisecond
)

// Pump hands events to the queue on worker goroutines so the mutation path
// never waits on queue latency. When the buffer is full, Publish waits a short
// handoff window and then drops the event with a log entry. Delivery is best
// effort by contract.
type Pump struct {
	queue  enqueuer
	logger *log.Logger
	jobs   chan domain.Event
	wg     sync.WaitGroup
}

// NewPump starts the worker goroutines. Non-positive workers or buffer fall
// back to defaults.
func NewPump(queue enqueuer, logger *log.Logger, workers, buffer int) *Pump {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if workers <= 0 {
		workers = defaultPumpWorkers
	}
	if buffer <= 0 {
		buffer = defaultPumpBuffer
	}
	p := &Pump{
		queue:  queue,
		logger: logger,
		jobs:   make(chan domain.Event, buffer),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event pump started, workers: %d, buffer: %d", workers, buffer)
	return p
}

// Publish implements domain.EventPublisher.
func (p *Pump) Publish(ev domain.Event) {
	if ok, closed := trySendNonBlocking(p.jobs, ev); ok || closed {
		return
	}

	timer := time.NewTimer(pumpHandoffTimeout)
	defer timer.Stop()

	if ok, _ := sendWithTimer(p.jobs, ev, timer.C); !ok {
		p.logger.Errorf("event dropped, buffer full, type: %s, task: %s, user: %s", ev.Type, ev.TaskID, ev.UserID)
	}
}

// Close stops accepting events and waits for in-flight sends to finish.
func (p *Pump) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pump) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), pumpEnqueueTimeout)
		err := p.queue.Enqueue(ctx, ev)
		cancel()
		if err != nil {
			p.logger.Errorf("event enqueue failed, err: %v, type: %s, task: %s, worker: %d", err, ev.Type, ev.TaskID, id)
		}
	}
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
