package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
	"github.com/julianstephens/streakly/internal/storage/memory"
	"github.com/julianstephens/streakly/internal/telemetry"
)

var alice = models.Identity{UserID: "user-alice", Email: "alice@example.com"}

type fakeTier struct {
	mu       sync.Mutex
	tier     models.Tier
	identity models.Identity
}

func (f *fakeTier) Tier() models.Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tier
}

func (f *fakeTier) Identity() models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *fakeTier) set(tier models.Tier, identity models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tier = tier
	f.identity = identity
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeReminders struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeReminders) ScheduleReminders(_ context.Context, times []string, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s|%s|%v", title, message, times))
	return f.err
}

type vacation bool

func (v vacation) VacationMode(context.Context) (bool, error) { return bool(v), nil }

type fakeBackups struct{ calls int }

func (f *fakeBackups) CreateBackup() (string, error) {
	f.calls++
	return fmt.Sprintf("/backups/streakly-%d.db", f.calls), nil
}

type harness struct {
	engine  *Engine
	local   *memory.KV
	remote  *memory.Documents
	tier    *fakeTier
	clock   *fakeClock
	metrics *telemetry.Metrics
}

func newHarness(t *testing.T, tier models.Tier, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		local:   memory.NewKV(),
		remote:  memory.NewDocuments(),
		tier:    &fakeTier{tier: tier},
		clock:   &fakeClock{now: time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)},
		metrics: telemetry.New(),
	}
	if tier == models.TierPremium {
		h.tier.identity = alice
	}

	var seq int
	base := []Option{
		WithRemote(h.remote),
		WithMetrics(h.metrics),
		WithClock(h.clock.Now),
		WithLocation(time.UTC),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("habit-%d", seq)
		}),
	}
	h.engine = New(h.local, h.tier, append(base, opts...)...)
	require.NoError(t, h.engine.Load(context.Background()))
	return h
}

func (h *harness) create(t *testing.T, title string) models.Habit {
	t.Helper()
	habit, err := h.engine.CreateHabit(context.Background(), models.HabitInput{Title: title})
	require.NoError(t, err)
	return habit
}

func (h *harness) localHabits(t *testing.T) []models.Habit {
	t.Helper()
	var habits []models.Habit
	_, err := h.local.Get(context.Background(), constants.KeyHabits, &habits)
	require.NoError(t, err)
	return habits
}

func (h *harness) localCompletions(t *testing.T) []models.CompletionEvent {
	t.Helper()
	var events []models.CompletionEvent
	_, err := h.local.Get(context.Background(), constants.KeyCompletions, &events)
	require.NoError(t, err)
	return events
}

func countID(habits []models.Habit, id string) int {
	n := 0
	for _, h := range habits {
		if h.ID == id {
			n++
		}
	}
	return n
}

func TestCreateThenFetchIncludesHabitOnce(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
		t.Run(tier.String(), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tier)
			habit := h.create(t, "Read")

			habits, err := h.engine.FetchHabits(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, countID(habits, habit.ID))
			assert.Equal(t, models.FrequencyDaily, habit.Frequency)
			assert.Nil(t, habit.LastCompletedAt)
			assert.Equal(t, 1, countID(h.localHabits(t), habit.ID), "local copy is always written")
		})
	}
}

func TestCreateHabitPremiumWritesRemoteWithOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	habit := h.create(t, "Stretch")

	assert.Equal(t, alice.UserID, habit.OwnerID)
	docs, err := h.remote.List(ctx, constants.CollectionHabits, storage.OwnedBy(alice.UserID))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, habit.ID, docs[0].ID())

	var meta models.ReminderMeta
	found, err := h.local.Get(ctx, constants.ReminderMetaKey(habit.ID), &meta)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Stretch", meta.Title)
	assert.Equal(t, constants.DefaultReminderMessage, meta.ReminderMessage)
}

func TestCreateHabitFreeDoesNotTouchRemote(t *testing.T) {
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Walk")

	assert.Empty(t, habit.OwnerID)
	assert.Equal(t, 0, h.remote.Calls("create", constants.CollectionHabits))
}

func TestCreateHabitRemoteFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, models.TierPremium)
	h.remote.FailNext("create", constants.CollectionHabits, 1)

	habit := h.create(t, "Journal")
	assert.Equal(t, 1, countID(h.localHabits(t), habit.ID))
	assert.Equal(t, 0, h.remote.Count(constants.CollectionHabits))
	assert.Equal(t, float64(1), metricValue(t, h.metrics, "streakly_remote_write_failures_total"))
}

func TestCreateHabitLocalFailurePropagates(t *testing.T) {
	h := newHarness(t, models.TierFree)
	h.local.FailWith(errors.New("quota exceeded"))

	_, err := h.engine.CreateHabit(context.Background(), models.HabitInput{Title: "Run"})
	require.Error(t, err)
	assert.True(t, storage.IsLocal(err))
	assert.Empty(t, h.engine.Habits())
}

func TestCreateHabitSchedulesReminders(t *testing.T) {
	reminders := &fakeReminders{}
	h := newHarness(t, models.TierFree, WithReminders(reminders))

	_, err := h.engine.CreateHabit(context.Background(), models.HabitInput{
		Title:     "Meditate",
		Reminders: []string{"07:00", "21:00"},
	})
	require.NoError(t, err)
	require.Len(t, reminders.calls, 1)
	assert.Equal(t, "Meditate|Don't forget your habit!|[07:00 21:00]", reminders.calls[0])

	h.create(t, "No reminders")
	assert.Len(t, reminders.calls, 1)
}

func TestCreateHabitReminderFailureIsNotFatal(t *testing.T) {
	reminders := &fakeReminders{err: errors.New("tray not running")}
	h := newHarness(t, models.TierFree, WithReminders(reminders))

	_, err := h.engine.CreateHabit(context.Background(), models.HabitInput{Title: "Floss", Reminders: []string{"22:00"}})
	require.NoError(t, err)
}

func TestVacationModeSkipsReminders(t *testing.T) {
	reminders := &fakeReminders{}
	h := newHarness(t, models.TierPremium, WithReminders(reminders), WithVacation(vacation(true)))

	_, err := h.engine.CreateHabit(context.Background(), models.HabitInput{Title: "Swim", Reminders: []string{"06:30"}})
	require.NoError(t, err)
	assert.Empty(t, reminders.calls)
}

func TestCompleteHabitTwiceSameDay(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
		t.Run(tier.String(), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tier)
			habit := h.create(t, "Read")

			recorded, err := h.engine.CompleteHabit(ctx, habit.ID)
			require.NoError(t, err)
			assert.True(t, recorded)

			h.clock.Advance(3 * time.Hour)
			recorded, err = h.engine.CompleteHabit(ctx, habit.ID)
			require.NoError(t, err)
			assert.False(t, recorded)

			got, ok := h.engine.Habit(habit.ID)
			require.True(t, ok)
			assert.Equal(t, 1, got.StreakCount)
			require.NotNil(t, got.LastCompletedAt)
			assert.True(t, h.engine.CompletedToday(habit.ID))

			assert.Len(t, h.localCompletions(t), 1)
			assert.Len(t, h.engine.Completions(), 1)
			if tier == models.TierPremium {
				assert.Equal(t, 1, h.remote.Count(constants.CollectionCompletions))
			}
		})
	}
}

func TestCompleteHabitGuardSurvivesReload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Read")

	_, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)

	fresh := New(h.local, h.tier, WithClock(h.clock.Now), WithLocation(time.UTC))
	require.NoError(t, fresh.Load(ctx))
	recorded, err := fresh.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Len(t, h.localCompletions(t), 1)
}

func TestCompleteHabitNextDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Read")

	_, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)
	assert.False(t, h.engine.CompletedToday(habit.ID))

	recorded, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.True(t, recorded)

	got, _ := h.engine.Habit(habit.ID)
	assert.Equal(t, 2, got.StreakCount)
	assert.Len(t, h.localCompletions(t), 2)
}

func TestCompleteHabitConcurrent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	a := h.create(t, "A")
	b := h.create(t, "B")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, id := range []string{a.ID, b.ID} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := h.engine.CompleteHabit(ctx, id)
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	assert.Len(t, h.localCompletions(t), 2)
	for _, id := range []string{a.ID, b.ID} {
		got, _ := h.engine.Habit(id)
		assert.Equal(t, 1, got.StreakCount)
	}
}

func TestCompleteHabitUnknown(t *testing.T) {
	h := newHarness(t, models.TierFree)
	_, err := h.engine.CompleteHabit(context.Background(), "missing")
	require.ErrorIs(t, err, ErrHabitNotFound)
}

func TestCompleteHabitRemoteFailureKeepsOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	habit := h.create(t, "Read")

	h.remote.SetOffline(true)
	recorded, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.True(t, recorded)

	got, _ := h.engine.Habit(habit.ID)
	assert.Equal(t, 1, got.StreakCount)
	assert.Len(t, h.localCompletions(t), 1)
	assert.Equal(t, 1, countID(h.localHabits(t), habit.ID))
	assert.Equal(t, 1, h.localHabits(t)[0].StreakCount)
}

func TestCompleteHabitLocalFailureReverts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Read")

	h.local.FailWith(errors.New("disk full"))
	_, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.Error(t, err)
	assert.True(t, storage.IsLocal(err))

	got, _ := h.engine.Habit(habit.ID)
	assert.Equal(t, 0, got.StreakCount)
	assert.Nil(t, got.LastCompletedAt)
	assert.False(t, h.engine.CompletedToday(habit.ID))

	h.local.FailWith(nil)
	recorded, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)
	assert.True(t, recorded)
}

func TestFetchFallsBackToLocalWhenOffline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	habit := h.create(t, "Read")
	_, err := h.engine.CompleteHabit(ctx, habit.ID)
	require.NoError(t, err)

	h.remote.SetOffline(true)
	habits, err := h.engine.FetchHabits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countID(habits, habit.ID))

	events, err := h.engine.FetchCompletions(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Equal(t, float64(1), metricValue(t, h.metrics, `streakly_remote_read_fallbacks_total{collection="habits"}`))
}

func TestFetchPremiumReadsOnlyOwnedRemoteHabits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	other := storage.HabitDocument(models.Habit{ID: "foreign", Title: "Not mine", OwnerID: "user-bob", CreatedAt: h.clock.Now()})
	require.NoError(t, h.remote.Create(ctx, constants.CollectionHabits, "foreign", other))
	mine := storage.HabitDocument(models.Habit{ID: "remote-only", Title: "Other device", OwnerID: alice.UserID, CreatedAt: h.clock.Now()})
	require.NoError(t, h.remote.Create(ctx, constants.CollectionHabits, "remote-only", mine))

	habits, err := h.engine.FetchHabits(ctx)
	require.NoError(t, err)
	require.Len(t, habits, 1)
	assert.Equal(t, "remote-only", habits[0].ID)
}

func TestFetchLocalFailureIsReturned(t *testing.T) {
	h := newHarness(t, models.TierFree)
	h.local.FailWith(errors.New("corrupt"))
	_, err := h.engine.FetchHabits(context.Background())
	require.Error(t, err)
}

func TestFetchCompletionsSince(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierPremium} {
		t.Run(tier.String(), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tier)
			habit := h.create(t, "Read")
			_, err := h.engine.CompleteHabit(ctx, habit.ID)
			require.NoError(t, err)
			h.clock.Advance(48 * time.Hour)
			_, err = h.engine.CompleteHabit(ctx, habit.ID)
			require.NoError(t, err)

			since := h.clock.Now().Add(-time.Hour)
			events, err := h.engine.FetchCompletionsSince(ctx, since)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, models.CompletionID(habit.ID, h.clock.Now(), time.UTC), events[0].ID)
		})
	}
}

func TestDeleteHabitCascades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	keep := h.create(t, "Keep")
	drop := h.create(t, "Drop")
	for _, id := range []string{keep.ID, drop.ID} {
		_, err := h.engine.CompleteHabit(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.DeleteHabit(ctx, drop.ID))

	assert.Equal(t, 0, countID(h.localHabits(t), drop.ID))
	for _, ev := range h.localCompletions(t) {
		assert.NotEqual(t, drop.ID, ev.HabitID)
	}
	assert.Len(t, h.localCompletions(t), 1)
	found, err := h.local.Get(ctx, constants.ReminderMetaKey(drop.ID), &models.ReminderMeta{})
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 1, h.remote.Count(constants.CollectionHabits))
	remaining, err := h.remote.List(ctx, constants.CollectionCompletions)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].String(constants.FieldHabitID))

	_, ok := h.engine.Habit(drop.ID)
	assert.False(t, ok)
	assert.Len(t, h.engine.Completions(), 1)
}

func TestDeleteHabitRemoteFailureStillDeletesLocally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierPremium)
	habit := h.create(t, "Drop")

	h.remote.SetOffline(true)
	require.NoError(t, h.engine.DeleteHabit(ctx, habit.ID))
	assert.Empty(t, h.localHabits(t))
}

func TestDeleteHabitLocalFailurePropagates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Drop")

	h.local.FailWith(errors.New("read only"))
	require.Error(t, h.engine.DeleteHabit(ctx, habit.ID))
	_, ok := h.engine.Habit(habit.ID)
	assert.True(t, ok)
}

func TestDeleteHabitUnknown(t *testing.T) {
	h := newHarness(t, models.TierFree)
	require.ErrorIs(t, h.engine.DeleteHabit(context.Background(), "missing"), ErrHabitNotFound)
}

func TestReconcileStreakCounters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, models.TierFree)
	habit := h.create(t, "Read")

	for _, step := range []time.Duration{0, 24 * time.Hour, 24 * time.Hour, 5 * 24 * time.Hour} {
		h.clock.Advance(step)
		_, err := h.engine.CompleteHabit(ctx, habit.ID)
		require.NoError(t, err)
	}
	got, _ := h.engine.Habit(habit.ID)
	require.Equal(t, 4, got.StreakCount)

	changed, err := h.engine.ReconcileStreakCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, _ = h.engine.Habit(habit.ID)
	assert.Equal(t, 1, got.StreakCount)
	assert.Equal(t, 1, h.localHabits(t)[0].StreakCount)

	changed, err = h.engine.ReconcileStreakCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

// metricValue sums the snapshot samples whose series starts with prefix.
func metricValue(t *testing.T, m *telemetry.Metrics, prefix string) float64 {
	t.Helper()
	lines, err := m.Snapshot()
	require.NoError(t, err)
	var total float64
	for _, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		var v float64
		_, err := fmt.Sscanf(line[strings.LastIndex(line, " ")+1:], "%g", &v)
		require.NoError(t, err)
		total += v
	}
	return total
}
