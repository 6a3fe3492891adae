package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/config"
	"github.com/telekom/taskmail/pkg/mail"
)

const (
	testSecretEnv = "TASKMAIL_TEST_JWT_SECRET"
	testSecret    = "test-signing-secret"
)

var errRelayDown = errors.New("dial tcp 10.0.0.7:587: connect: connection refused")

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRelay builds transports whose outcome is decided per configuration name.
type stubRelay struct {
	mu       sync.Mutex
	failures map[string]error
	sent     []mail.Message
}

func (r *stubRelay) factory(cfg config.TransportConfig) (mail.Transport, error) {
	return &stubTransport{cfg: cfg, relay: r}, nil
}

func (r *stubRelay) Sent() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail.Message(nil), r.sent...)
}

type stubTransport struct {
	cfg   config.TransportConfig
	relay *stubRelay
}

func (t *stubTransport) Send(_ context.Context, msg mail.Message) (mail.Result, error) {
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	if err := t.relay.failures[t.cfg.Name]; err != nil {
		return mail.Result{}, err
	}
	t.relay.sent = append(t.relay.sent, msg)
	return mail.Result{
		MessageID: fmt.Sprintf("<stub-%d@example.com>", len(t.relay.sent)),
		Transport: t.cfg.Name,
	}, nil
}

func (t *stubTransport) Config() config.TransportConfig { return t.cfg }
func (t *stubTransport) Close() error                   { return nil }

type testEnv struct {
	server  *Server
	relay   *stubRelay
	service *mail.Service
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv(testSecretEnv, testSecret)
	return config.Config{
		Server:   config.Server{ListenAddress: "127.0.0.1:0"},
		Frontend: config.Frontend{BaseURL: "https://tracker.example.com", BrandingName: "Rexistro de Tarefas"},
		Auth:     config.Auth{SecretEnv: testSecretEnv},
	}
}

// newTestEnv wires the mail service over a stub relay with the given
// transport names into a server with the mail controller registered.
func newTestEnv(t *testing.T, withQueue bool, failures map[string]error, names ...string) *testEnv {
	t.Helper()
	if len(names) == 0 {
		names = []string{"primary"}
	}
	configs := make([]config.TransportConfig, 0, len(names))
	for _, n := range names {
		configs = append(configs, config.TransportConfig{Name: n, Host: n + ".internal", Port: 587, Security: config.SecurityStartTLS})
	}
	set, err := config.NewConfigurationSet(configs)
	require.NoError(t, err)

	relay := &stubRelay{failures: failures}
	log := zap.NewNop()
	d := mail.NewDispatcher(set,
		mail.WithTransportFactory(relay.factory),
		mail.WithMaxRetries(1),
		mail.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		mail.WithDefaultSender("noreply@example.com", "Task Tracker"),
	)
	var q *mail.Queue
	if withQueue {
		q = mail.NewQueue(d, log.Sugar(), 10, 1)
	}
	cfg := testConfig(t)
	svc := mail.NewService(d, q, cfg.Frontend.BrandingName, cfg.Frontend.BaseURL, log.Sugar())
	svc.Start()

	srv, err := NewServer(log, cfg, false, nil)
	require.NoError(t, err)
	require.NoError(t, srv.RegisterAll([]APIController{NewMailController(log.Sugar(), svc, srv.Auth())}))

	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(context.Background())
	})
	return &testEnv{server: srv, relay: relay, service: svc}
}

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validToken(t *testing.T) string {
	return mintToken(t, testSecret, jwt.MapClaims{
		"sub":                "backend",
		"email":              "backend@example.com",
		"preferred_username": "backend",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
