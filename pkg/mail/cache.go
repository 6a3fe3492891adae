package mail

import (
	"sync"

	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/config"
	"github.com/telekom/taskmail/pkg/metrics"
)

// TransportCache owns the single current transport and the index of the
// configuration it was built from. The index persists across dispatch calls.
type TransportCache struct {
	set     *config.ConfigurationSet
	factory TransportFactory
	log     *zap.SugaredLogger

	mu      sync.Mutex
	index   int
	current Transport
}

// NewTransportCache creates a cache positioned on the first configuration.
// No transport is built until EnsureInitialized is called.
func NewTransportCache(set *config.ConfigurationSet, factory TransportFactory, log *zap.SugaredLogger) *TransportCache {
	if factory == nil {
		factory = NewSMTPTransport
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TransportCache{set: set, factory: factory, log: log}
}

// EnsureInitialized builds the transport for the current index if none exists.
// It is idempotent.
func (c *TransportCache) EnsureInitialized() (int, Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

// SwitchToNext advances the index modulo the set size and replaces the
// current transport with one built for the new configuration.
func (c *TransportCache) SwitchToNext() (int, Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchLocked()
}

// AdvanceFrom switches to the next configuration only if the current index is
// still observed. When another caller already moved the index, the
// already-current transport is returned instead, so concurrent fallbacks
// advance at most once past a failing configuration.
func (c *TransportCache) AdvanceFrom(observed int) (int, Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != observed {
		c.log.Debugw("Transport already switched by a concurrent dispatch",
			"observed", observed,
			"current", c.index)
		return c.ensureLocked()
	}
	return c.switchLocked()
}

// CurrentIndex returns the index of the current configuration.
func (c *TransportCache) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// CurrentConfig returns the configuration at the current index.
func (c *TransportCache) CurrentConfig() config.TransportConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Get(c.index)
}

// Current returns the current index together with its configuration.
func (c *TransportCache) Current() (int, config.TransportConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index, c.set.Get(c.index)
}

// Close releases the current transport. A later EnsureInitialized rebuilds it.
func (c *TransportCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	err := c.current.Close()
	c.current = nil
	return err
}

func (c *TransportCache) ensureLocked() (int, Transport, error) {
	if c.current != nil {
		return c.index, c.current, nil
	}
	cfg := c.set.Get(c.index)
	t, err := c.factory(cfg)
	if err != nil {
		c.log.Errorw("Failed to build mail transport", "transport", cfg.Name, "index", c.index, "error", err)
		return c.index, nil, err
	}
	c.current = t
	metrics.MailCurrentTransport.Set(float64(c.index))
	c.log.Infow("Mail transport initialized", "transport", cfg.Name, "index", c.index, "host", cfg.Host, "port", cfg.Port)
	return c.index, c.current, nil
}

func (c *TransportCache) switchLocked() (int, Transport, error) {
	from := c.set.Get(c.index)
	next := (c.index + 1) % c.set.Len()

	if c.current != nil {
		if err := c.current.Close(); err != nil {
			c.log.Warnw("Error closing replaced mail transport", "transport", from.Name, "error", err)
		}
		c.current = nil
	}
	c.index = next
	metrics.MailCurrentTransport.Set(float64(next))

	to := c.set.Get(next)
	c.log.Warnw("Switching mail transport",
		"from", from.Name,
		"to", to.Name,
		"index", next)

	t, err := c.factory(to)
	if err != nil {
		c.log.Errorw("Failed to build mail transport", "transport", to.Name, "index", next, "error", err)
		return next, nil, err
	}
	c.current = t
	return next, t, nil
}
