package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telekom/taskmail/pkg/config"
)

var errRelay = errors.New("relay timeout")

// outcome decides the result of the n-th send (1-based) against one transport.
type outcome func(n int) error

func alwaysFail(err error) outcome { return func(int) error { return err } }

func alwaysSucceed() outcome { return func(int) error { return nil } }

func failTimes(k int, err error) outcome {
	return func(n int) error {
		if n <= k {
			return err
		}
		return nil
	}
}

// fakeRelay backs every fakeTransport built by its factory and records what
// happened across rebuilds.
type fakeRelay struct {
	mu        sync.Mutex
	outcomes  map[string]outcome
	buildErrs map[string]error
	sends     map[string]int
	order     []string
	messages  []Message
	built     map[string]int
	closed    map[string]int
	delay     time.Duration
}

func newFakeRelay(outcomes map[string]outcome) *fakeRelay {
	return &fakeRelay{
		outcomes:  outcomes,
		buildErrs: map[string]error{},
		sends:     map[string]int{},
		built:     map[string]int{},
		closed:    map[string]int{},
	}
}

func (r *fakeRelay) factory(cfg config.TransportConfig) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.buildErrs[cfg.Name]; err != nil {
		return nil, err
	}
	r.built[cfg.Name]++
	return &fakeTransport{relay: r, cfg: cfg}, nil
}

func (r *fakeRelay) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *fakeRelay) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *fakeRelay) SendsTo(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends[name]
}

func (r *fakeRelay) Built(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built[name]
}

func (r *fakeRelay) Closed(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[name]
}

func (r *fakeRelay) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

type fakeTransport struct {
	relay *fakeRelay
	cfg   config.TransportConfig
}

func (t *fakeTransport) Send(ctx context.Context, msg Message) (Result, error) {
	r := t.relay
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.sends[t.cfg.Name]++
	n := r.sends[t.cfg.Name]
	r.order = append(r.order, t.cfg.Name)
	fn := r.outcomes[t.cfg.Name]
	r.mu.Unlock()

	if fn != nil {
		if err := fn(n); err != nil {
			return Result{}, err
		}
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return Result{MessageID: fmt.Sprintf("<%s-%d@example.com>", t.cfg.Name, n), Transport: t.cfg.Name}, nil
}

func (t *fakeTransport) Config() config.TransportConfig { return t.cfg }

func (t *fakeTransport) Close() error {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	t.relay.closed[t.cfg.Name]++
	return nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestSet(t *testing.T, names ...string) *config.ConfigurationSet {
	t.Helper()
	configs := make([]config.TransportConfig, 0, len(names))
	for _, name := range names {
		configs = append(configs, config.TransportConfig{
			Name:     name,
			Host:     name + ".example.com",
			Port:     587,
			Security: config.SecurityStartTLS,
		})
	}
	set, err := config.NewConfigurationSet(configs)
	require.NoError(t, err)
	return set
}

func newTestDispatcher(t *testing.T, relay *fakeRelay, retries int, names ...string) (*Dispatcher, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	d := NewDispatcher(newTestSet(t, names...),
		WithMaxRetries(retries),
		WithTransportFactory(relay.factory),
		WithSleeper(sleeper.sleep),
		WithDefaultSender("noreply@example.com", "Task Tracker"),
	)
	return d, sleeper
}

func testMessage() Message {
	return Message{
		To:      []string{"ana@example.com"},
		Subject: "Proba",
		HTML:    "<p>Ola</p>",
	}
}
