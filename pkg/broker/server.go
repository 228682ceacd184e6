package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/authcoord/pkg/apiresponses"
	"github.com/telekom/authcoord/pkg/config"
	"github.com/telekom/authcoord/pkg/coordinator"
	"github.com/telekom/authcoord/pkg/metrics"
	"github.com/telekom/authcoord/pkg/ratelimit"
	"github.com/telekom/authcoord/pkg/system"
)

// RequestIDHeader carries the request id back to the caller.
const RequestIDHeader = "X-Request-ID"

const shutdownTimeout = 5 * time.Second

// Coordinator is the part of *coordinator.Coordinator the broker uses.
type Coordinator interface {
	AcquireSilent(ctx context.Context, scopes []string) (*coordinator.TokenResult, error)
	AcquireInteractive(ctx context.Context, scopes []string) (*coordinator.TokenResult, error)
	SignOut(ctx context.Context) error
	Scopes() []string
}

type Options struct {
	// Listen must be a loopback host:port. Default: config.DefaultBrokerListen.
	Listen           string
	TokenLimit       ratelimit.Config
	InteractiveLimit ratelimit.Config
	Logger           *zap.Logger
	Debug            bool
}

type Server struct {
	engine *gin.Engine
	coord  Coordinator
	log    *zap.SugaredLogger
	listen string

	tokenLimiter       *ratelimit.Limiter
	interactiveLimiter *ratelimit.Limiter
}

// New builds the broker. Nothing listens until Serve or ListenAndServe.
func New(coord Coordinator, opts Options) (*Server, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.Listen == "" {
		opts.Listen = config.DefaultBrokerListen
	}
	if err := config.ValidateLoopbackListen(opts.Listen); err != nil {
		return nil, err
	}
	if opts.TokenLimit.Rate == 0 {
		opts.TokenLimit = ratelimit.DefaultTokenConfig()
	}
	if opts.InteractiveLimit.Rate == 0 {
		opts.InteractiveLimit = ratelimit.DefaultInteractiveConfig()
	}
	zlog := opts.Logger
	if zlog == nil {
		zlog = zap.NewNop()
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	// Only the socket peer counts; forwarded headers are never trusted.
	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("failed to configure trusted proxies: %w", err)
	}
	engine.Use(
		requestID(zlog.Sugar()),
		ginzap.Ginzap(zlog, time.RFC3339, true),
		ginzap.RecoveryWithZap(zlog, true),
		countRequests(),
		localOnly(),
	)

	s := &Server{
		engine:             engine,
		coord:              coord,
		log:                zlog.Sugar(),
		listen:             opts.Listen,
		tokenLimiter:       ratelimit.New(opts.TokenLimit),
		interactiveLimiter: ratelimit.New(opts.InteractiveLimit),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/token", s.tokenLimiter.Middleware(), s.getToken)
	v1.POST("/interactive", s.interactiveLimiter.Middleware(), s.postInteractive)
	v1.POST("/signout", s.interactiveLimiter.Middleware(), s.postSignOut)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.listen
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then shuts down
// gracefully. The listener must be bound to a loopback address.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if err := config.ValidateLoopbackListen(listener.Addr().String()); err != nil {
		_ = listener.Close()
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.log.Infow("Token broker listening", "address", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Infow("Shutting down token broker")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down broker: %w", err)
	}
	return nil
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.tokenLimiter.Stop()
	s.interactiveLimiter.Stop()
}

func requestID(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(apiresponses.RequestIDKey, id)
		c.Set(system.ReqLoggerKey, log.With("requestID", id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.BrokerRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// localOnly rejects requests that did not come from this machine or that a
// browser sent on behalf of a web page.
func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ip := net.ParseIP(c.ClientIP()); ip == nil || !ip.IsLoopback() {
			apiresponses.RespondForbidden(c, "broker only accepts loopback connections")
			return
		}
		host := c.Request.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !isLoopbackName(host) {
			apiresponses.RespondForbidden(c, "host header must name a loopback address")
			return
		}
		if c.GetHeader("Origin") != "" {
			apiresponses.RespondForbidden(c, "browser requests are not accepted")
			return
		}
		c.Next()
	}
}

func isLoopbackName(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
