package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/apiresponses"
	"github.com/telekom/taskmail/pkg/config"
	"github.com/telekom/taskmail/pkg/metrics"
	"github.com/telekom/taskmail/pkg/ratelimit"
	"github.com/telekom/taskmail/pkg/system"
	"github.com/telekom/taskmail/pkg/version"
)

const (
	RequestIDHeader = "X-Request-ID"

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// stopper is implemented by controllers that own background goroutines.
type stopper interface {
	Stop()
}

type Server struct {
	gin     *gin.Engine
	config  config.Config
	auth    *TokenAuth
	log     *zap.SugaredLogger
	limiter *ratelimit.Limiter

	mu       sync.Mutex
	stoppers []stopper
	closed   bool
}

// NewServer builds the gin engine with access logging, panic recovery, the
// operational endpoints and the per-caller API rate limiter. A nil auth is
// built from cfg.
func NewServer(log *zap.Logger, cfg config.Config, debug bool, auth *TokenAuth) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		requestLogger(log.Sugar()),
	)
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type", RequestIDHeader},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	if auth == nil {
		var err error
		auth, err = NewTokenAuth(log.Sugar(), cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		gin:     engine,
		config:  cfg,
		auth:    auth,
		log:     log.Sugar(),
		limiter: ratelimit.New(ratelimit.DefaultAPIConfig(), ratelimit.ByIdentity(ContextUserID)),
	}

	engine.GET("healthz", s.healthz)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("api/version", s.getVersion)
	engine.NoRoute(func(c *gin.Context) {
		apiresponses.RespondNotFound(c, "not found")
	})

	return s, nil
}

// Auth returns the token middleware controllers should guard their routes with.
func (s *Server) Auth() *TokenAuth {
	return s.auth
}

// RegisterAll mounts every controller below /api. The rate limiter runs after
// the controller handlers so authenticated callers are keyed by identity.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		handlers := append(c.Handlers(), s.limiter.Middleware())
		if err := c.Register(r.Group(c.BasePath(), handlers...)); err != nil {
			return err
		}
		if st, ok := c.(stopper); ok {
			s.mu.Lock()
			s.stoppers = append(s.stoppers, st)
			s.mu.Unlock()
		}
	}
	return nil
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is done and then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		tls := s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != ""
		s.log.Infow("Starting API server", "address", srv.Addr, "tls", tls)
		var err error
		if tls {
			err = srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the rate limiters. It is safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.limiter.Stop()
	for _, st := range s.stoppers {
		st.Stop()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getVersion(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}

// requestLogger stores a request-scoped logger carrying the request id.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(system.ReqLoggerKey, log.With("requestId", id))
		c.Next()
	}
}
