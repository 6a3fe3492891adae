package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/config"
	"github.com/telekom/taskmail/pkg/metrics"
)

// DefaultMaxRetries is the number of attempts made against one transport
// before falling back to the next one.
const DefaultMaxRetries = 3

// Sender delivers a single message and reports a terminal outcome.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// Dispatcher delivers messages through the Configuration Set, retrying each
// transport with backoff and falling back to the next one in order.
type Dispatcher struct {
	set        *config.ConfigurationSet
	cache      *TransportCache
	factory    TransportFactory
	maxRetries int
	backoff    Backoff
	classify   func(error) ErrorClass
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zap.SugaredLogger
	from       string
}

type Option func(*Dispatcher)

// WithMaxRetries sets the attempts per transport. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.backoff = b
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithTransportFactory(f TransportFactory) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.factory = f
		}
	}
}

// WithClassifier replaces Classify.
func WithClassifier(f func(error) ErrorClass) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.classify = f
		}
	}
}

// WithSleeper replaces the backoff wait. Used by tests.
func WithSleeper(f func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.sleep = f
		}
	}
}

// WithDefaultSender sets the From used when a message has none.
func WithDefaultSender(address, name string) Option {
	return func(d *Dispatcher) {
		if address != "" {
			d.from = FormatAddress(name, address)
		}
	}
}

// NewDispatcher creates a dispatcher over set. The set must not be nil.
func NewDispatcher(set *config.ConfigurationSet, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		set:        set,
		factory:    NewSMTPTransport,
		maxRetries: DefaultMaxRetries,
		backoff:    ExponentialBackoff{Base: time.Second, Cap: MaxBackoff},
		classify:   Classify,
		sleep:      sleepContext,
		log:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("dispatcher")
	d.cache = NewTransportCache(set, d.factory, d.log)

	d.log.Infow("Mail dispatcher configured",
		"transports", set.Names(),
		"maxRetriesPerTransport", d.maxRetries)
	return d
}

// Send delivers msg. It starts on the current transport, which may be a
// fallback chosen by an earlier call, and returns the first success. When all
// transports fail, the returned error is an *ExhaustedError wrapping the last
// attempt error. A canceled ctx stops the loop at the next attempt or backoff.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.From == "" {
		msg.From = d.from
	}
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}
	if msg.From == "" {
		return Result{}, fmt.Errorf("%w: no sender address configured", ErrInvalidMessage)
	}

	idx, transport, buildErr := d.cache.EnsureInitialized()
	total := d.set.Len()
	tried := make([]string, 0, total)
	attempts := 0
	var lastErr error

	for configsTried := 1; ; configsTried++ {
		cfg := d.set.Get(idx)
		tried = append(tried, cfg.Name)

		for retry := 0; retry < d.maxRetries; retry++ {
			if transport == nil {
				lastErr = &AttemptError{Class: ConfigInvalid, Transport: cfg.Name, Retry: retry, Err: buildErr}
				metrics.MailAttempts.WithLabelValues(cfg.Name, ConfigInvalid.String()).Inc()
				break
			}
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("mail delivery canceled after %d attempts: %w", attempts, err)
			}

			attempts++
			res, err := transport.Send(ctx, msg)
			if err == nil {
				res.Attempts = attempts
				if res.Transport == "" {
					res.Transport = cfg.Name
				}
				metrics.MailAttempts.WithLabelValues(cfg.Name, "success").Inc()
				metrics.MailSendSuccess.WithLabelValues(cfg.Host).Inc()
				d.log.Infow("Mail sent",
					"transport", cfg.Name,
					"index", idx,
					"retry", retry,
					"attempt", attempts,
					"messageId", res.MessageID,
					"receivers", len(msg.To))
				return res, nil
			}

			class := d.classify(err)
			lastErr = attemptError(err, class, cfg.Name, retry)
			metrics.MailAttempts.WithLabelValues(cfg.Name, class.String()).Inc()
			metrics.MailSendFailure.WithLabelValues(cfg.Host).Inc()

			if class != Transient {
				d.log.Warnw("Mail send rejected, skipping remaining retries for transport",
					"transport", cfg.Name,
					"index", idx,
					"retry", retry,
					"attempt", attempts,
					"class", class.String(),
					"error", err)
				break
			}
			if retry >= d.maxRetries-1 {
				d.log.Warnw("Mail send failed, retries exhausted for transport",
					"transport", cfg.Name,
					"index", idx,
					"retry", retry,
					"attempt", attempts,
					"error", err)
				break
			}

			delay := d.backoff.Delay(retry)
			d.log.Warnw("Mail send failed, retrying",
				"transport", cfg.Name,
				"index", idx,
				"retry", retry,
				"attempt", attempts,
				"retryIn", delay.String(),
				"error", err)
			if err := d.sleep(ctx, delay); err != nil {
				return Result{}, fmt.Errorf("mail delivery canceled after %d attempts: %w", attempts, err)
			}
		}

		if configsTried >= total {
			break
		}

		next, nextTransport, err := d.cache.AdvanceFrom(idx)
		metrics.MailFallbacks.WithLabelValues(cfg.Name, d.set.Get(next).Name).Inc()
		idx, transport, buildErr = next, nextTransport, err
	}

	metrics.MailExhausted.Inc()
	exhausted := &ExhaustedError{Attempts: attempts, Transports: tried, Last: lastErr}
	d.log.Errorw("Mail delivery failed on all transports",
		"attempts", attempts,
		"transports", tried,
		"receivers", len(msg.To),
		"subject", msg.Subject,
		"error", lastErr)
	return Result{}, exhausted
}

// CurrentConfigIndex returns the index the next Send starts from.
func (d *Dispatcher) CurrentConfigIndex() int {
	return d.cache.CurrentIndex()
}

// CurrentConfig returns the configuration the next Send starts from.
func (d *Dispatcher) CurrentConfig() config.TransportConfig {
	return d.cache.CurrentConfig()
}

// Current returns the index and configuration the next Send starts from,
// read together.
func (d *Dispatcher) Current() (int, config.TransportConfig) {
	return d.cache.Current()
}

// Close releases the current transport.
func (d *Dispatcher) Close() error {
	return d.cache.Close()
}

// attemptError tags err with the transport and retry. An AttemptError coming
// back from the transport is reused so the prefix is not repeated.
func attemptError(err error, class ErrorClass, transport string, retry int) *AttemptError {
	var ae *AttemptError
	if errors.As(err, &ae) {
		tagged := *ae
		tagged.Class = class
		tagged.Retry = retry
		if tagged.Transport == "" {
			tagged.Transport = transport
		}
		return &tagged
	}
	return &AttemptError{Class: class, Transport: transport, Retry: retry, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
