/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/metrics"
)

var (
	ErrQueueFull     = errors.New("mail queue is full")
	ErrQueueStopping = errors.New("mail queue is shutting down")
)

// QueueItem represents a single email waiting for delivery
type QueueItem struct {
	ID        string
	Message   Message
	CreatedAt time.Time
}

// Queue delivers mail in the background on a best-effort basis. Retries and
// transport fallback happen inside the Sender; a message that still fails is
// logged and counted, never returned to the caller that enqueued it.
type Queue struct {
	sender       Sender
	queue        chan *QueueItem
	log          *zap.SugaredLogger
	workers      int
	maxQueueSize int
	wg           sync.WaitGroup

	// intake guards stopped so no item is accepted after Stop has begun.
	intake  sync.Mutex
	stopped bool

	// ctx stops intake and tells workers to drain; sendCtx aborts in-flight
	// deliveries once the Stop deadline passes.
	ctx        context.Context
	cancel     context.CancelFunc
	sendCtx    context.Context
	sendCancel context.CancelFunc
}

// NewQueue creates a new mail queue for asynchronous sending
func NewQueue(sender Sender, log *zap.SugaredLogger, maxQueueSize, workers int) *Queue {
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	log.Infow("Initializing mail queue",
		"maxQueueSize", maxQueueSize,
		"workers", workers)

	ctx, cancel := context.WithCancel(context.Background())
	sendCtx, sendCancel := context.WithCancel(context.Background())

	return &Queue{
		sender:       sender,
		queue:        make(chan *QueueItem, maxQueueSize),
		log:          log,
		workers:      workers,
		maxQueueSize: maxQueueSize,
		ctx:          ctx,
		cancel:       cancel,
		sendCtx:      sendCtx,
		sendCancel:   sendCancel,
	}
}

// Start begins the background workers
func (q *Queue) Start() {
	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Infow("Mail queue workers started", "workers", q.workers)
}

// Enqueue adds an email to the queue and returns its id.
func (q *Queue) Enqueue(msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		q.log.Errorw("Cannot enqueue invalid email", "subject", msg.Subject, "error", err)
		metrics.MailQueueDropped.Inc()
		return "", err
	}

	q.intake.Lock()
	defer q.intake.Unlock()
	if q.stopped {
		q.log.Errorw("Cannot enqueue, queue is shutting down", "subject", msg.Subject)
		metrics.MailQueueDropped.Inc()
		return "", ErrQueueStopping
	}

	item := &QueueItem{
		ID:        uuid.NewString(),
		Message:   msg,
		CreatedAt: time.Now(),
	}

	select {
	case q.queue <- item:
		metrics.MailQueued.Inc()
		q.log.Debugw("Email queued for sending",
			"id", item.ID,
			"receivers", len(msg.To),
			"subject", msg.Subject)
		return item.ID, nil
	default:
		metrics.MailQueueDropped.Inc()
		q.log.Errorw("Mail queue is full, dropping message",
			"id", item.ID,
			"receivers", len(msg.To),
			"queueSize", q.maxQueueSize)
		return "", fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.maxQueueSize)
	}
}

// worker processes items from the queue
func (q *Queue) worker() {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic in mail queue worker recovered", "panic", r)
			metrics.MailQueueFailed.Inc()
			// Restart the worker to maintain processing capacity
			q.wg.Add(1)
			go q.worker()
		}
	}()

	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case item := <-q.queue:
			if item != nil {
				q.processItem(item)
			}
		}
	}
}

// drain sends whatever is still buffered when the queue stops.
func (q *Queue) drain() {
	for {
		select {
		case item := <-q.queue:
			if item != nil {
				q.log.Infow("Sending pending item before shutdown", "id", item.ID)
				q.processItem(item)
			}
		default:
			return
		}
	}
}

func (q *Queue) processItem(item *QueueItem) {
	res, err := q.sender.Send(q.sendCtx, item.Message)
	if err != nil {
		q.log.Errorw("Queued email could not be delivered",
			"id", item.ID,
			"receivers", len(item.Message.To),
			"subject", item.Message.Subject,
			"queuedFor", time.Since(item.CreatedAt).String(),
			"error", err)
		metrics.MailQueueFailed.Inc()
		return
	}
	q.log.Infow("Queued email sent successfully",
		"id", item.ID,
		"messageId", res.MessageID,
		"transport", res.Transport,
		"attempts", res.Attempts)
}

// Stop stops intake, waits for workers to drain the buffer and returns
// ctx.Err() if the deadline passes first. In-flight deliveries are aborted then.
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping mail queue")
	q.intake.Lock()
	q.stopped = true
	q.cancel()
	q.intake.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.sendCancel()
		q.log.Info("Mail queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.sendCancel()
		q.log.Warnw("Mail queue shutdown timeout, some items may not have been processed",
			"remaining", q.Length())
		return ctx.Err()
	}
}

// Length returns the current number of items in the queue
func (q *Queue) Length() int {
	return len(q.queue)
}
