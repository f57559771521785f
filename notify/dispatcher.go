// Package notify delivers booking notifications off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"theratreat/models"

	"github.com/rs/zerolog"
)

// Sender delivers one notification to a downstream channel.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher fans notifications out to a bounded pool of workers. Submit
// never blocks; when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	sender  Sender
	queue   chan models.Notification
	workers int
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan models.Notification, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.Timeout,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// Start launches the workers. They exit once Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(parent context.Context, n models.Notification) {
	// delivery outlives the request that produced it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("bookingId", n.BookingID).Str("kind", string(n.Kind)).Msg("notification sender panicked")
		}
	}()

	if err := d.sender.Send(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("bookingId", n.BookingID).Str("kind", string(n.Kind)).Msg("notification delivery failed")
		return
	}
	d.log.Debug().Str("bookingId", n.BookingID).Str("kind", string(n.Kind)).Msg("notification delivered")
}

// Submit queues n for delivery and reports whether it was accepted.
func (d *Dispatcher) Submit(n models.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn().Str("bookingId", n.BookingID).Str("kind", string(n.Kind)).Msg("dispatcher stopped, notification dropped")
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.log.Warn().Str("bookingId", n.BookingID).Str("kind", string(n.Kind)).Msg("notification queue full, dropped")
		return false
	}
}

// Stop closes the queue and waits for queued notifications to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// LogSender writes notifications to the log. Used when no broker is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notify.log").Logger()}
}

func (s *LogSender) Send(_ context.Context, n models.Notification) error {
	s.log.Info().
		Str("kind", string(n.Kind)).
		Str("bookingId", n.BookingID).
		Strs("recipients", n.Recipients).
		Msg("notification")
	return nil
}
