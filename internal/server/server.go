// Package server runs the HTTP API on a TCP address and, optionally, a
// unix socket for same-host clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr       string
	SocketPath string
	Handler    http.Handler
}

type Server struct {
	cfg    Config
	tcp    *http.Server
	unix   *http.Server
	unixLn net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	s := &Server{
		cfg: cfg,
		tcp: &http.Server{Addr: cfg.Addr, Handler: cfg.Handler},
	}

	if cfg.SocketPath != "" {
		ln, err := listenUnix(cfg.SocketPath)
		if err != nil {
			return nil, err
		}
		s.unixLn = ln
		s.unix = &http.Server{Handler: cfg.Handler}
	}
	return s, nil
}

// listenUnix binds the socket, clearing a stale file left by a previous
// run. Mode 0660 keeps it to the owning user and group.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unix listen: %w", err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is cancelled, then shuts both listeners down
// gracefully. A listener error other than graceful close is returned
// immediately.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	if s.unixLn != nil {
		go func() { errCh <- s.unix.Serve(s.unixLn) }()
	}
	go func() { errCh <- s.tcp.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.unix != nil {
		if err := s.unix.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}
	if err := s.tcp.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SocketPath returns the configured socket path, empty when disabled.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
