package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/photogram/photogram_api/internal/metrics"
)

// DispatcherConfig tunes the delivery workers.
type DispatcherConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	// RatePerSecond caps outbound provider calls across all workers. Zero
	// disables throttling.
	RatePerSecond float64
	SendTimeout   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Dispatcher queues rendered messages and delivers them from a pool of
// background workers. Delivery failures are logged and counted only.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   Queue
	email   EmailSender
	sms     SMSSender
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher wires a dispatcher. Call Start to launch the workers.
func NewDispatcher(cfg DispatcherConfig, queue Queue, email EmailSender, sms SMSSender, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		email:   email,
		sms:     sms,
		limiter: limiter,
		logger:  logger,
		metrics: m,
	}
}

// Send enqueues the message and returns without waiting for delivery.
func (d *Dispatcher) Send(ctx context.Context, message Message) error {
	if err := d.queue.Push(ctx, Job{Message: message, QueuedAt: time.Now().UTC()}); err != nil {
		d.metrics.Dispatch(string(message.Channel), "rejected")
		return err
	}
	return nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight deliveries to return.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		job, err := d.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			d.logger.Error("notification queue pop failed", slog.Int("worker", id), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.Backoff):
			}
			continue
		}
		d.deliver(ctx, job)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	msg := job.Message
	delay := d.cfg.Backoff
	for job.Attempts < d.cfg.MaxAttempts {
		job.Attempts++
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		err := d.sendOnce(ctx, msg)
		if err == nil {
			d.metrics.Dispatch(string(msg.Channel), "delivered")
			return
		}
		d.logger.Warn("notification delivery failed",
			slog.String("channel", string(msg.Channel)),
			slog.Int("attempt", job.Attempts),
			slog.Any("error", err),
		)
		if job.Attempts >= d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	d.metrics.Dispatch(string(msg.Channel), "failed")
	d.logger.Error("notification dropped",
		slog.String("channel", string(msg.Channel)),
		slog.Int("attempts", job.Attempts),
	)
}

func (d *Dispatcher) sendOnce(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	switch msg.Channel {
	case ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return d.email.SendEmail(ctx, msg.Destination, msg.Subject, msg.Body)
	case ChannelPhone:
		if d.sms == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return d.sms.SendSMS(ctx, msg.Destination, msg.Body)
	default:
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}
}
