package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/threadly/internal/auth"
	"github.com/alphabot-ai/threadly/internal/config"
	"github.com/alphabot-ai/threadly/internal/docstore/sqldoc"
	httpapp "github.com/alphabot-ai/threadly/internal/http"
	"github.com/alphabot-ai/threadly/internal/janitor"
	"github.com/alphabot-ai/threadly/internal/logging"
	"github.com/alphabot-ai/threadly/internal/rate"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "threadly",
		Usage:   "community discussion server and client",
		Version: version,
		Commands: append([]*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server"},
				Usage:   "run the threadly server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default ./threadly.yaml)"},
				},
				Action: runServer,
			},
		}, clientCommands()...),
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DevSecret() {
		log.Warn(ctx, "using the development token secret; set THREADLY_TOKEN_SECRET")
	}

	db, err := sqldoc.Open(cfg.DBDriver, cfg.DSN, sqldoc.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	limiter := rate.NewMemory()
	authSvc := auth.NewService(db, []byte(cfg.TokenSecret), cfg.TokenTTL, cfg.ChallengeTTL, auth.WithLogger(log))

	jan := janitor.New(authSvc, limiter, log)
	if err := jan.Start(cfg.JanitorSchedule); err != nil {
		return fmt.Errorf("janitor schedule: %w", err)
	}
	defer jan.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapp.NewServer(db, authSvc, limiter, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "threadly listening", "addr", cfg.Addr, "driver", cfg.DBDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
