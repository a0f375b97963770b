// Package embedded runs an in-process interlock server, for tools that
// want coordination without managing a separate daemon.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/interlock/internal/coord"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/storage/filekv"
	"github.com/mistakeknot/interlock/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// DataRoot is the storage directory. Defaults to ~/.interlock/data.
	DataRoot string

	// Port is the HTTP port to listen on. Defaults to 7420.
	Port int

	// Host is the bind host. Defaults to 127.0.0.1.
	Host string

	// SweepInterval controls background reclaim of expired locks.
	// Defaults to one minute.
	SweepInterval time.Duration
}

// Server is an embedded interlock server.
type Server struct {
	cfg     Config
	coord   *coord.Coordinator
	sweeper *coord.Sweeper
	hub     *ws.Hub
	http    *http.Server
	started bool
	mu      sync.Mutex
}

func New(cfg Config) (*Server, error) {
	if cfg.DataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DataRoot = filepath.Join(home, ".interlock", "data")
	}
	if cfg.Port == 0 {
		cfg.Port = 7420
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	kv, err := filekv.New(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	hub := ws.NewHub()
	c := coord.New(kv, coord.DefaultConfig()).WithBroadcaster(hub)
	svc := httpapi.NewService(c)
	router := httpapi.NewRouter(svc, hub.Handler())

	return &Server{
		cfg:     cfg,
		coord:   c,
		sweeper: coord.NewSweeper(c, cfg.SweepInterval, 0),
		hub:     hub,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
	}, nil
}

// Start launches the server and sweeper in background goroutines.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.sweeper.Start(context.Background())
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "interlock server error: %v\n", err)
		}
	}()

	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop shuts the server and sweeper down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.sweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// URL returns the base URL for the server.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.http.Addr)
}

// Coordinator exposes the underlying coordinator for direct in-process
// calls that skip HTTP.
func (s *Server) Coordinator() *coord.Coordinator {
	return s.coord
}
