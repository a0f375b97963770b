package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/interlock/internal/config"
	"github.com/mistakeknot/interlock/internal/coord"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/server"
	"github.com/mistakeknot/interlock/internal/storage/filekv"
	"github.com/mistakeknot/interlock/internal/ws"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "interlock",
	Short: "File-lock coordination server for coding agents",
	Long: `interlock keeps multiple coding agents from stepping on each other:
agents register, declare what they are working on, and take TTL-bound
advisory locks on files. State lives in plain JSON files, one per
record, so independent processes coordinate through the filesystem.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired locks and prune old session events once, then exit",
	RunE:  runSweep,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter interlock.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.ResolvePath()
		}
		if err := config.WriteStarter(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./interlock.yaml or $INTERLOCK_CONFIG)")
	rootCmd.AddCommand(serveCmd, sweepCmd, initCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}

func buildCoordinator(cfg config.Config) (*coord.Coordinator, error) {
	kv, err := filekv.New(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	cc := coord.DefaultConfig()
	cc.DefaultLockTTL = cfg.DefaultLockTTL
	cc.MaxLocksPerAgent = cfg.MaxLocksPerAgent
	cc.RetentionMaxEvents = cfg.RetentionMaxEvents
	cc.RetentionMaxAge = cfg.RetentionMaxAge
	cc.Verbose = cfg.Verbose
	return coord.New(kv, cc), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	hub := ws.NewHub()
	c = c.WithBroadcaster(hub)

	svc := httpapi.NewService(c)
	router := httpapi.NewRouter(svc, hub.Handler())
	srv, err := server.New(server.Config{
		Addr:       cfg.Listen,
		SocketPath: cfg.Socket,
		Handler:    router,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := coord.NewSweeper(c, cfg.SweepInterval, 0)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	log.Printf("interlock listening on %s (data root %s)", cfg.Listen, cfg.DataRoot)
	if cfg.Socket != "" {
		log.Printf("interlock also listening on %s", cfg.Socket)
	}
	return srv.Run(ctx)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	removed, err := c.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	pruned, err := c.PruneSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed %d expired lock(s), pruned %d session event(s)\n", len(removed), pruned)
	return nil
}
