//go:build linux
// +build linux

package relay

import (
	"fmt"
	"github.com/fzft/pollrelay/config"
	"github.com/fzft/pollrelay/log"
	"go.uber.org/zap"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type Option func(*Server)

func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

type Server struct {
	cfg      config.Config
	observer Observer
	logger   *zap.Logger

	mu       sync.Mutex
	addr     *net.TCPAddr
	registry *Registry
	loop     *Loop
	served   bool
}

func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Logger
	}
	return s
}

// Listen validates the configuration, binds the listening socket and prepares the
// loop. It must be called once before Serve.
func (s *Server) Listen() error {
	s.mu.Lock()
	listening := s.loop != nil
	s.mu.Unlock()
	if listening {
		return ErrAlreadyListening
	}

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	mux, err := NewMultiplexer(s.cfg.Strategy)
	if err != nil {
		return err
	}

	lnFd, addr, err := Listen(s.cfg.Host, s.cfg.Port)
	if err != nil {
		s.logger.Error("listen error", zap.String("addr", s.cfg.Addr()), zap.Error(err))
		return err
	}

	waker, err := NewWaker()
	if err != nil {
		CloseFd(lnFd)
		s.logger.Error("failed to create eventfd", zap.Error(err))
		return err
	}

	capacity, fdLimit := 0, 0
	if s.cfg.Strategy == config.StrategyBitset {
		capacity, fdLimit = s.cfg.Capacity, SelectFdLimit
	}
	registry := NewRegistry(lnFd, waker.Fd(), capacity, fdLimit)

	loop := NewLoop(registry, mux, LoopOptions{
		BufferSize:   int(s.cfg.BufferSize),
		Timeout:      s.cfg.Timeout.Duration,
		FlushTimeout: s.cfg.FlushTimeout.Duration,
		AcceptDrain:  s.cfg.Drain(),
		Waker:        waker,
		Observer:     s.observer,
		Logger:       s.logger,
	})

	s.mu.Lock()
	s.addr = addr
	s.registry = registry
	s.loop = loop
	s.mu.Unlock()

	s.logger.Info("listening",
		zap.String("addr", addr.String()),
		zap.String("strategy", string(mux.Strategy())),
		zap.Bool("bounded", registry.Bounded()),
		zap.Int("capacity", capacity),
		zap.String("buffer", s.cfg.BufferSize.String()))
	return nil
}

func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Connections returns the number of registered peers.
func (s *Server) Connections() int {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()
	if registry == nil {
		return 0
	}
	return registry.Len()
}

// Serve runs the relay loop on the calling goroutine until Shutdown or a fatal error.
func (s *Server) Serve() error {
	s.mu.Lock()
	loop := s.loop
	served := s.served
	if loop != nil {
		s.served = true
	}
	s.mu.Unlock()

	if loop == nil {
		return ErrNotListening
	}
	if served {
		return ErrServerClosed
	}
	return loop.Run()
}

func (s *Server) Shutdown() {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop != nil {
		loop.Shutdown()
	}
}

// Run listens, serves, and turns SIGINT, SIGTERM and SIGQUIT into a shutdown.
func (s *Server) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	if err := s.Listen(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("signal received", zap.String("signal", sig.String()))
			s.Shutdown()
		case <-done:
		}
	}()

	if err := s.Serve(); err != nil {
		return err
	}
	s.logger.Info("shutting down server")
	return nil
}

// Run starts a server for cfg and blocks until it stops.
func Run(cfg config.Config, opts ...Option) error {
	if err := NewServer(cfg, opts...).Run(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
