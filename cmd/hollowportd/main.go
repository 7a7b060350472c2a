package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowport/hollowport/internal/alerts"
	"github.com/hollowport/hollowport/internal/config"
	"github.com/hollowport/hollowport/internal/correlate"
	"github.com/hollowport/hollowport/internal/database"
	"github.com/hollowport/hollowport/internal/engine/postgres"
	"github.com/hollowport/hollowport/internal/engine/sshd"
	"github.com/hollowport/hollowport/internal/engine/webtrap"
	"github.com/hollowport/hollowport/internal/honeytoken"
	"github.com/hollowport/hollowport/internal/ingest"
	"github.com/hollowport/hollowport/internal/logging"
	"github.com/hollowport/hollowport/internal/reporter"
)

const version = "0.3.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "hollowportd",
		Short: "Hollowport - honeypot and honeytoken correlation platform",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the decoy engines and the correlation API",
			RunE:  func(cmd *cobra.Command, args []string) error { return serve() },
		},
		&cobra.Command{
			Use:   "engines",
			Short: "Run only the decoy engines, delivering observations to a remote ingest API",
			RunE:  func(cmd *cobra.Command, args []string) error { return serveEngines() },
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("hollowportd %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(cfg.System.LogDir, cfg.System.LogLevel, cfg.System.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()

	logging.Info("Hollowport %s starting", version)

	db, err := database.NewSQLiteDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tokens := honeytoken.NewStore(db)
	manager := alerts.NewManager(cfg)
	processor := correlate.NewProcessor(db, tokens, manager)

	api := ingest.NewServer(&cfg.Ingest, processor, db)
	go func() {
		if err := api.Run(); err != nil {
			logging.Error("Ingest API stopped: %v", err)
		}
	}()

	var sshSrv *sshd.Server
	var pgSrv *postgres.Server
	var httpSrv *webtrap.Server

	if cfg.Honeypots.SSH.Enabled {
		sshSrv = sshd.NewServer(&cfg.Honeypots.SSH, processor)
		go func() {
			if err := sshSrv.ListenAndServe(); err != nil {
				logging.Error("SSH engine stopped: %v", err)
			}
		}()
	}
	if cfg.Honeypots.Postgres.Enabled {
		pgSrv = postgres.NewServer(&cfg.Honeypots.Postgres, processor)
		go func() {
			if err := pgSrv.ListenAndServe(); err != nil {
				logging.Error("Postgres engine stopped: %v", err)
			}
		}()
	}
	if cfg.Honeypots.HTTP.Enabled {
		httpSrv = webtrap.NewServer(&cfg.Honeypots.HTTP, processor)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil {
				logging.Error("HTTP engine stopped: %v", err)
			}
		}()
	}

	waitForShutdown(sshSrv, pgSrv, httpSrv)
	return nil
}

// serveEngines runs the protocol engines without the local correlator.
// Observations travel over HTTP to a remote ingest API, so the decoys can
// sit on exposed hosts while correlation stays elsewhere.
func serveEngines() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(cfg.System.LogDir, cfg.System.LogLevel, cfg.System.Debug); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()

	logging.Info("Hollowport %s starting (engines only)", version)

	sink := reporter.New(&cfg.Ingest)

	var sshSrv *sshd.Server
	var pgSrv *postgres.Server
	var httpSrv *webtrap.Server

	if cfg.Honeypots.SSH.Enabled {
		sshSrv = sshd.NewServer(&cfg.Honeypots.SSH, sink)
		go func() {
			if err := sshSrv.ListenAndServe(); err != nil {
				logging.Error("SSH engine stopped: %v", err)
			}
		}()
	}
	if cfg.Honeypots.Postgres.Enabled {
		pgSrv = postgres.NewServer(&cfg.Honeypots.Postgres, sink)
		go func() {
			if err := pgSrv.ListenAndServe(); err != nil {
				logging.Error("Postgres engine stopped: %v", err)
			}
		}()
	}
	if cfg.Honeypots.HTTP.Enabled {
		httpSrv = webtrap.NewServer(&cfg.Honeypots.HTTP, sink)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil {
				logging.Error("HTTP engine stopped: %v", err)
			}
		}()
	}

	waitForShutdown(sshSrv, pgSrv, httpSrv)
	return nil
}

func waitForShutdown(sshSrv *sshd.Server, pgSrv *postgres.Server, httpSrv *webtrap.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("Received %s, shutting down", sig)

	if sshSrv != nil {
		sshSrv.Close()
	}
	if pgSrv != nil {
		pgSrv.Close()
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(ctx)
		cancel()
	}
}
