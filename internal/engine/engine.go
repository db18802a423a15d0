// Package engine is the local-first habit sync engine. It owns the canonical
// in-memory habit list and completion log and decides, per operation and
// tier, which of the local and remote stores to read and write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
	"github.com/julianstephens/streakly/internal/telemetry"
	"github.com/julianstephens/streakly/internal/utils"
)

var (
	ErrHabitNotFound       = errors.New("habit not found")
	ErrMigrationInProgress = errors.New("migration already in progress")
	ErrNoSession           = fmt.Errorf("%w: realtime sync requires a premium session", storage.ErrUnauthorized)
)

// TierSource is the read side of the identity provider
type TierSource interface {
	Tier() models.Tier
	Identity() models.Identity
}

// ReminderScheduler registers daily reminders with the OS notifier
type ReminderScheduler interface {
	ScheduleReminders(ctx context.Context, times []string, title, message string) error
}

// VacationChecker reports whether reminder scheduling is paused
type VacationChecker interface {
	VacationMode(ctx context.Context) (bool, error)
}

// Backupper snapshots the local store before destructive work
type Backupper interface {
	CreateBackup() (string, error)
}

type Engine struct {
	local         storage.KeyValue
	remote        storage.DocumentStore
	tier          TierSource
	reminders     ReminderScheduler
	vacation      VacationChecker
	backups       Backupper
	metrics       *telemetry.Metrics
	now           func() time.Time
	loc           *time.Location
	newID         func() string
	remoteTimeout time.Duration

	mu            sync.RWMutex
	habits        []models.Habit
	completions   []models.CompletionEvent
	completionIDs map[string]struct{}
	today         map[string]bool
	todayKey      string

	// localMu serializes read-modify-write cycles on the local list keys.
	localMu sync.Mutex
	locks   keyedMutex

	refetchMu sync.Mutex

	migMu    sync.Mutex
	inFlight map[string]bool
}

// Option configures an Engine
type Option func(*Engine)

// WithRemote sets the remote document store used on the premium tier.
func WithRemote(remote storage.DocumentStore) Option {
	return func(e *Engine) { e.remote = remote }
}

func WithReminders(r ReminderScheduler) Option {
	return func(e *Engine) { e.reminders = r }
}

func WithVacation(v VacationChecker) Option {
	return func(e *Engine) { e.vacation = v }
}

func WithBackups(b Backupper) Option {
	return func(e *Engine) { e.backups = b }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithIDGenerator overrides habit id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithRemoteTimeout bounds every remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.remoteTimeout = d }
}

func New(local storage.KeyValue, tier TierSource, opts ...Option) *Engine {
	e := &Engine{
		local:         local,
		tier:          tier,
		now:           time.Now,
		loc:           time.Local,
		newID:         uuid.NewString,
		remoteTimeout: constants.DefaultRemoteTimeout,
		completionIDs: make(map[string]struct{}),
		today:         make(map[string]bool),
		inFlight:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load refreshes both collections from the authoritative store.
func (e *Engine) Load(ctx context.Context) error {
	if _, err := e.FetchHabits(ctx); err != nil {
		return err
	}
	_, err := e.FetchCompletions(ctx)
	return err
}

// session returns the identity when remote storage is authoritative.
func (e *Engine) session() (models.Identity, bool) {
	if e.remote == nil || e.tier == nil || e.tier.Tier() != models.TierPremium {
		return models.Identity{}, false
	}
	id := e.tier.Identity()
	return id, !id.IsZero()
}

func (e *Engine) currentTier() models.Tier {
	if e.tier == nil {
		return models.TierFree
	}
	return e.tier.Tier()
}

func (e *Engine) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.remoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.remoteTimeout)
}

// Habits returns a copy of the in-memory habit list.
func (e *Engine) Habits() []models.Habit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Habit(nil), e.habits...)
}

// Habit returns the in-memory habit with id.
func (e *Engine) Habit(id string) (models.Habit, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i := e.habitIndexLocked(id); i >= 0 {
		return e.habits[i], true
	}
	return models.Habit{}, false
}

// Completions returns a copy of the in-memory completion log.
func (e *Engine) Completions() []models.CompletionEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.CompletionEvent(nil), e.completions...)
}

// Location is the timezone calendar days are computed in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// CompletedToday reports whether habitID has been completed on the current calendar day.
func (e *Engine) CompletedToday(habitID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureTodayLocked(e.now())
	return e.today[habitID]
}

func (e *Engine) habitIndexLocked(id string) int {
	for i, h := range e.habits {
		if h.ID == id {
			return i
		}
	}
	return -1
}

// setCompletionsLocked replaces the log and rebuilds the derived indexes.
func (e *Engine) setCompletionsLocked(events []models.CompletionEvent) {
	e.completions = events
	e.completionIDs = make(map[string]struct{}, len(events))
	for _, ev := range events {
		e.completionIDs[ev.ID] = struct{}{}
	}
	e.todayKey = ""
	e.ensureTodayLocked(e.now())
}

// ensureTodayLocked rebuilds the completed-today set when the calendar day
// has changed since it was last computed.
func (e *Engine) ensureTodayLocked(now time.Time) {
	key := utils.DayKey(now, e.loc)
	if key == e.todayKey {
		return
	}
	e.todayKey = key
	e.today = make(map[string]bool)
	for _, ev := range e.completions {
		if utils.DayKey(ev.CompletedAt, e.loc) == key {
			e.today[ev.HabitID] = true
		}
	}
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
