// Package app assembles the configured subsystems — logger, DB pool, worker
// pool, reactor — into a runnable server and owns its signal-driven shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/internal/dbpool"
	"github.com/searchktools/fast-server/internal/httpparse"
	"github.com/searchktools/fast-server/internal/logger"
	"github.com/searchktools/fast-server/internal/reactor"
)

// App owns every long-lived subsystem handle for one server instance.
type App struct {
	cfg *config.Config
	log *logger.Logger
	db  *dbpool.Pool
	r   *reactor.Reactor
}

// New wires logging, the DB pool, and the reactor per cfg. reactor.New binds
// and listens immediately, matching the reference WebServer constructor.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.OpenLog {
		lg, err := logger.New(logger.Config{
			Dir:      cfg.LogDir,
			Level:    logger.Level(cfg.LogLevel),
			Capacity: cfg.LogQueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init logger: %w", err)
		}
		a.log = lg
	}

	db, err := dbpool.New(context.Background(), cfg.DSN(), cfg.ConnPoolNum)
	if err != nil {
		return nil, fmt.Errorf("app: init db pool: %w", err)
	}
	a.db = db
	httpparse.Pool = db
	httpparse.Verify = httpparse.VerifyUser

	r, err := reactor.New(reactor.Config{
		Port:        cfg.Port,
		Trigger:     reactor.TriggerMode(cfg.Trigger),
		IdleTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		OpenLinger:  cfg.OpenLinger,
		SrcDir:      cfg.ResourcesDir,
		Workers:     cfg.ThreadNum,
		Log:         a.log,
	})
	if err != nil {
		db.CloseAll()
		return nil, fmt.Errorf("app: init reactor: %w", err)
	}
	a.r = r

	return a, nil
}

// Run blocks until SIGINT/SIGTERM, then tears every subsystem down.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.awaitSignal(cancel)

	err := a.r.Run(ctx)
	a.db.CloseAll()
	if a.log != nil {
		a.log.Close()
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (a *App) awaitSignal(cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
}
