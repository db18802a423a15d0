package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/cli/account"
	"github.com/julianstephens/streakly/internal/engine"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
)

type SyncCmd struct {
	Migrate   SyncMigrateCmd   `cmd:"" help:"Copy local habits and completions to your account."`
	Watch     SyncWatchCmd     `cmd:"" help:"Follow realtime changes from your account."`
	Reconcile SyncReconcileCmd `cmd:"" help:"Recompute stored streak counters from completions."`
}

func requireSession(ctx *cli.Context) (models.Identity, error) {
	if ctx.Remote == nil {
		return models.Identity{}, errors.New("no remote store configured. Set remote.driver in the config file")
	}
	identity := ctx.Provider.Identity()
	if !ctx.Provider.IsPremium() || identity.IsZero() {
		return models.Identity{}, fmt.Errorf("%w. Sign in with 'streakly account signin'", engine.ErrNoSession)
	}
	return identity, nil
}

type SyncMigrateCmd struct {
	Force bool `help:"Migrate again even if a previous run completed. Remote records are replaced by local ones."`
}

func (c *SyncMigrateCmd) Run(ctx *cli.Context) error {
	identity, err := requireSession(ctx)
	if err != nil {
		return err
	}

	var report *engine.MigrationReport
	if c.Force {
		r, migErr := ctx.Engine.MigrateLocalToRemote(ctx.Ctx, identity)
		report, err = &r, migErr
		if loadErr := ctx.Engine.Load(ctx.Ctx); loadErr != nil && err == nil {
			err = loadErr
		}
	} else {
		report, err = ctx.Engine.HandleTransition(ctx.Ctx, models.Transition{
			From:     models.TierFree,
			To:       models.TierPremium,
			Identity: identity,
			Epoch:    ctx.Provider.Epoch(),
		})
	}

	if report == nil && err == nil {
		ctx.Printf("Local data was already migrated. Use --force to migrate again.\n")
		return nil
	}
	if report != nil {
		account.PrintReport(ctx, *report)
	}
	return err
}

type SyncWatchCmd struct {
	MetricsAddr string        `help:"Serve Prometheus metrics on this address while watching." placeholder:"HOST:PORT"`
	For         time.Duration `help:"Stop after this long (0 runs until interrupted)."`
}

func (c *SyncWatchCmd) Run(ctx *cli.Context) error {
	if _, err := requireSession(ctx); err != nil {
		return err
	}

	watchCtx, stop := signal.NotifyContext(ctx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if c.For > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(watchCtx, c.For)
		defer cancel()
	}

	addr := c.MetricsAddr
	if addr == "" {
		addr = ctx.Config.Metrics.Addr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(ctx), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown error", "error", err)
			}
		}()
	}

	unsubscribe, err := ctx.Engine.Watch(watchCtx, func(collection string) {
		ctx.Printf("%s %s refreshed (%d habits, %d completions)\n",
			cli.MutedStyle.Render(ctx.Engine.Now().Format("15:04:05")), collection,
			len(ctx.Engine.Habits()), len(ctx.Engine.Completions()))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer unsubscribe()

	ctx.Printf("Watching %s for changes. Press Ctrl+C to stop.\n", ctx.Remote.Name())
	<-watchCtx.Done()
	ctx.Printf("Stopped watching.\n")
	return nil
}

func metricsMux(ctx *cli.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", ctx.Metrics.Handler())
	return mux
}

type SyncReconcileCmd struct{}

func (c *SyncReconcileCmd) Run(ctx *cli.Context) error {
	changed, err := ctx.Engine.ReconcileStreakCounters(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile streaks: %w", err)
	}
	if changed == 0 {
		ctx.Printf("All streak counters are up to date.\n")
		return nil
	}
	ctx.Printf("%s Updated %d streak counters\n", cli.SuccessStyle.Render("✓"), changed)
	return nil
}
