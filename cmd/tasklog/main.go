package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtlprog/tasklog/internal/capability"
	"github.com/mtlprog/tasklog/internal/config"
	"github.com/mtlprog/tasklog/internal/database"
	"github.com/mtlprog/tasklog/internal/handler"
	"github.com/mtlprog/tasklog/internal/logger"
	"github.com/mtlprog/tasklog/internal/repository"
	"github.com/mtlprog/tasklog/internal/service"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tasklog",
		Usage: "Event-sourced task lifecycle service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   config.DefaultLogFormat,
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "database-driver",
				Value:   config.DefaultDatabaseDriver,
				Usage:   "Storage engine (postgres, sqlite3)",
				EnvVars: []string{"DATABASE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Value:   config.DefaultDatabaseURL,
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.IntFlag{
				Name:    "database-max-conns",
				Value:   config.DefaultMaxConns,
				Usage:   "PostgreSQL pool size",
				EnvVars: []string{"DATABASE_MAX_CONNS"},
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Value:   config.DefaultSQLitePath,
				Usage:   "SQLite database file",
				EnvVars: []string{"SQLITE_PATH"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: runMigrate,
			},
			{
				Name:      "rebuild-projections",
				Usage:     "Recompute task projections from the event log",
				ArgsUsage: "[task-id...]",
				Action:    runRebuildProjections,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// storage bundles the stores of one engine.
type storage struct {
	events      service.EventStore
	projections service.ProjectionStore
	healthCheck handler.HealthCheck
	close       func()
}

// openStorage connects to the configured engine and applies migrations.
func openStorage(c *cli.Context) (*storage, error) {
	ctx := c.Context

	switch driver := c.String("database-driver"); driver {
	case database.DriverPostgres:
		databaseURL := c.String("database-url")
		if databaseURL == "" {
			return nil, fmt.Errorf("database-url is required for driver %s", driver)
		}

		db, err := database.New(ctx, databaseURL, int32(c.Int("database-max-conns")))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(ctx, db.Pool()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		return &storage{
			events:      repository.NewEventStore(db.Pool()),
			projections: repository.NewProjectionRepository(db.Pool()),
			healthCheck: db.Pool().Ping,
			close:       db.Close,
		}, nil

	case database.DriverSQLite:
		db, err := database.OpenSQLite(ctx, c.String("sqlite-path"))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.RunSQLiteMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		return &storage{
			events:      repository.NewSQLiteEventStore(db),
			projections: repository.NewSQLiteProjectionRepository(db),
			healthCheck: db.PingContext,
			close: func() {
				if err := db.Close(); err != nil {
					slog.Error("failed to close database", "error", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func newTaskService(st *storage) (*service.TaskService, error) {
	return service.NewTaskService(st.events, st.projections, capability.NewStaticResolver())
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	st, err := openStorage(c)
	if err != nil {
		return err
	}
	defer st.close()

	taskService, err := newTaskService(st)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}

	h := handler.New(taskService, st.healthCheck)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runMigrate(c *cli.Context) error {
	st, err := openStorage(c)
	if err != nil {
		return err
	}
	st.close()
	return nil
}

func runRebuildProjections(c *cli.Context) error {
	ctx := c.Context

	st, err := openStorage(c)
	if err != nil {
		return err
	}
	defer st.close()

	taskService, err := newTaskService(st)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}

	if c.NArg() == 0 {
		_, err := taskService.RebuildProjections(ctx)
		return err
	}

	for _, taskID := range c.Args().Slice() {
		if _, err := taskService.RebuildProjection(ctx, taskID); err != nil {
			return fmt.Errorf("rebuild projection %s: %w", taskID, err)
		}
	}
	return nil
}
