package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/julianstephens/streakly/internal/account"
	"github.com/julianstephens/streakly/internal/backup"
	"github.com/julianstephens/streakly/internal/config"
	"github.com/julianstephens/streakly/internal/engine"
	"github.com/julianstephens/streakly/internal/identity"
	"github.com/julianstephens/streakly/internal/keyring"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/notifier"
	"github.com/julianstephens/streakly/internal/settings"
	"github.com/julianstephens/streakly/internal/storage"
	"github.com/julianstephens/streakly/internal/storage/mongo"
	"github.com/julianstephens/streakly/internal/storage/postgres"
	"github.com/julianstephens/streakly/internal/telemetry"
)

// Context is handed to every command. Stores are set by New; the services
// are wired by Open once the local store is loaded.
type Context struct {
	Ctx    context.Context
	Config config.Config
	Out    io.Writer

	Local   storage.KeyValue
	Remote  storage.DocumentStore // nil when running local-only
	Backups *backup.Manager
	Metrics *telemetry.Metrics

	Accounts *account.Service // nil when running local-only
	Provider *identity.Provider
	Settings *settings.Service
	Engine   *engine.Engine

	// Reminders overrides the OS notifier when set.
	Reminders engine.ReminderScheduler

	mu          sync.Mutex
	lastReport  *engine.MigrationReport
	lastErr     error
	unsubscribe func()
}

// New creates a Context over the given stores. remote may be nil.
func New(ctx context.Context, cfg config.Config, local storage.KeyValue, remote storage.DocumentStore) *Context {
	return &Context{
		Ctx:     ctx,
		Config:  cfg,
		Out:     os.Stdout,
		Local:   local,
		Remote:  remote,
		Backups: backup.NewManager(local.GetConfigPath()),
		Metrics: telemetry.New(),
	}
}

// Open loads the local store and starts the services.
func (c *Context) Open() error {
	if err := c.Local.Load(c.Ctx); err != nil {
		return err
	}
	return c.Start()
}

// Start wires the services over already opened stores and resolves the
// startup tier. An unreachable remote is logged and the session continues
// offline.
func (c *Context) Start() error {
	var auth identity.Authenticator
	var conn identity.ConnectivityChecker
	if c.Remote != nil {
		initCtx, cancel := context.WithTimeout(c.Ctx, c.Config.Remote.Timeout)
		err := c.Remote.Init(initCtx)
		cancel()
		if err != nil {
			logger.Warn("Remote store unavailable, continuing offline", "store", c.Remote.Name(), "error", err)
		}
		c.Accounts = account.NewService(c.Remote, keyring.SessionTokens{}, []byte(c.Config.Session.Secret),
			account.WithTTL(c.Config.Session.TTL))
		auth = c.Accounts
		conn = identity.PingChecker{Store: c.Remote, Timeout: c.Config.Remote.Timeout}
	}

	c.Provider = identity.NewProvider(c.Local, auth, conn)
	c.Settings = settings.NewService(c.Local, c.Provider)

	loc, err := c.Settings.LocationOr(c.Ctx, c.Config.Timezone)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLocation(loc),
		engine.WithMetrics(c.Metrics),
		engine.WithVacation(c.Settings),
		engine.WithBackups(c.Backups),
		engine.WithRemoteTimeout(c.Config.Remote.Timeout),
	}
	if c.Remote != nil {
		opts = append(opts, engine.WithRemote(c.Remote))
	}
	if c.Reminders != nil {
		opts = append(opts, engine.WithReminders(c.Reminders))
	} else if c.Config.Reminders.Enabled {
		opts = append(opts, engine.WithReminders(notifier.New()))
	}
	c.Engine = engine.New(c.Local, c.Provider, opts...)
	c.unsubscribe = c.Provider.Subscribe(c.onTransition)

	tier, err := c.Provider.Start(c.Ctx)
	if err != nil {
		return err
	}
	logger.Debug("Session started", "tier", tier, "remote", c.Remote != nil)

	_, err = c.TakeTransitionResult()
	return err
}

func (c *Context) onTransition(tr models.Transition) {
	report, err := c.Engine.HandleTransition(c.Ctx, tr)
	if err != nil {
		logger.Error("Tier transition failed", "from", tr.From, "to", tr.To, "epoch", tr.Epoch, "error", err)
	}
	c.mu.Lock()
	c.lastReport, c.lastErr = report, err
	c.mu.Unlock()
}

// TakeTransitionResult returns and clears the outcome of the most recent
// tier transition. The report is nil when no migration ran.
func (c *Context) TakeTransitionResult() (*engine.MigrationReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, err := c.lastReport, c.lastErr
	c.lastReport, c.lastErr = nil, nil
	return report, err
}

func (c *Context) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	var errs []error
	if c.Remote != nil {
		errs = append(errs, c.Remote.Close())
	}
	errs = append(errs, c.Local.Close())
	return errors.Join(errs...)
}

// Printf writes to the command output, stdout when Out is unset.
func (c *Context) Printf(format string, args ...any) {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// PerformAutomaticBackup creates an automatic backup and silently handles errors
func (c *Context) PerformAutomaticBackup() {
	if _, err := c.Backups.CreateBackup(); err != nil {
		// Log warning but don't interrupt user workflow
		logger.Warn("Automatic backup failed", "error", err)
	}
}

// OpenRemote builds the remote store selected by cfg. It returns nil for a
// local-only configuration. When no URI is configured the OS keyring is used.
func OpenRemote(cfg config.Config) (storage.DocumentStore, error) {
	if !cfg.RemoteEnabled() {
		return nil, nil
	}

	uri := cfg.Remote.URI
	if uri == "" {
		stored, err := keyring.GetConnectionString()
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil, fmt.Errorf("no remote URI configured for %s. Set remote.uri, %sREMOTE_URI or run 'streakly keyring set'", cfg.Remote.Driver, config.EnvPrefix)
			}
			return nil, err
		}
		uri = stored
	}

	switch cfg.Remote.Driver {
	case config.DriverPostgres:
		if !strings.HasPrefix(uri, "postgres://") && !strings.HasPrefix(uri, "postgresql://") && !strings.Contains(uri, "host=") {
			return nil, errors.New("remote.uri must be a PostgreSQL connection string for the postgres driver")
		}
		return postgres.New(uri), nil
	case config.DriverMongo:
		return mongo.New(uri, cfg.Remote.Database), nil
	default:
		return nil, fmt.Errorf("%w: unknown remote.driver %q", config.ErrInvalidConfig, cfg.Remote.Driver)
	}
}

// FindHabit resolves a habit by id, id prefix or case-insensitive title.
func (c *Context) FindHabit(ref string) (models.Habit, error) {
	ref = strings.TrimSpace(ref)
	habits := c.Engine.Habits()

	for _, h := range habits {
		if h.ID == ref {
			return h, nil
		}
	}

	var matches []models.Habit
	for _, h := range habits {
		if strings.EqualFold(h.Title, ref) || (len(ref) >= 4 && strings.HasPrefix(h.ID, ref)) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return models.Habit{}, fmt.Errorf("%w: %q", engine.ErrHabitNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return models.Habit{}, fmt.Errorf("%q matches %d habits, use the habit id", ref, len(matches))
	}
}
