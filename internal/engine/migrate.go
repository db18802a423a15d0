package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/stats"
	"github.com/julianstephens/streakly/internal/storage"
)

// Migration phases, in execution order.
const (
	PhaseWipeHabits        = "wipe-habits"
	PhaseWipeCompletions   = "wipe-completions"
	PhaseUploadHabits      = "upload-habits"
	PhaseUploadCompletions = "upload-completions"
)

// PhaseResult is the outcome of one migration phase. A phase stops at its
// first failure; Done counts the operations that succeeded before it.
type PhaseResult struct {
	Name  string
	Total int
	Done  int
	Err   error
}

// MigrationReport describes a local-to-remote migration
type MigrationReport struct {
	UserID           string
	BackupPath       string
	LocalHabits      int
	LocalCompletions int
	Phases           []PhaseResult
}

// Failed returns the phases that did not complete.
func (r MigrationReport) Failed() []PhaseResult {
	var out []PhaseResult
	for _, p := range r.Phases {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// PartialMigrationError reports that some phases failed while earlier ones
// were kept. Re-running the transition retries the whole migration.
type PartialMigrationError struct {
	Report MigrationReport
}

func (e *PartialMigrationError) Error() string {
	var names []string
	for _, p := range e.Report.Failed() {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("migration partially failed (%s): %v", strings.Join(names, ", "), e.Unwrap())
}

func (e *PartialMigrationError) Unwrap() error {
	var errs []error
	for _, p := range e.Report.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, p.Err))
	}
	return errors.Join(errs...)
}

// PartialMigration marks the error for the CLI error taxonomy.
func (e *PartialMigrationError) PartialMigration() bool { return true }

// MigrateLocalToRemote replaces everything identity owns remotely with the
// local habits and completions, keeping their ids. It is a destructive full
// replace: remote records are deleted first, then local records re-created.
// Each phase aborts on its first failure but later phases still run.
func (e *Engine) MigrateLocalToRemote(ctx context.Context, identity models.Identity) (MigrationReport, error) {
	report := MigrationReport{UserID: identity.UserID}
	if e.remote == nil {
		return report, fmt.Errorf("%w: no remote store configured", storage.ErrUnavailable)
	}
	if identity.IsZero() {
		return report, ErrNoSession
	}

	habits, err := e.localHabits(ctx)
	if err != nil {
		return report, err
	}
	events, err := e.localCompletions(ctx)
	if err != nil {
		return report, err
	}
	report.LocalHabits = len(habits)
	report.LocalCompletions = len(events)

	if e.backups != nil {
		path, err := e.backups.CreateBackup()
		if err != nil {
			logger.Warn("Failed to back up local store before migration", "error", err)
		} else {
			report.BackupPath = path
		}
	}

	logger.Info("Starting migration", "user_id", identity.UserID, "habits", len(habits), "completions", len(events))

	report.Phases = append(report.Phases,
		e.wipePhase(ctx, PhaseWipeHabits, constants.CollectionHabits, identity),
		e.wipePhase(ctx, PhaseWipeCompletions, constants.CollectionCompletions, identity),
	)

	uploadHabits := PhaseResult{Name: PhaseUploadHabits, Total: len(habits)}
	for _, h := range habits {
		h.OwnerID = identity.UserID
		if err := e.remoteCreate(ctx, constants.CollectionHabits, h.ID, storage.HabitDocument(h)); err != nil {
			uploadHabits.Err = err
			break
		}
		uploadHabits.Done++
	}
	e.finishPhase(&report, uploadHabits)

	uploadCompletions := PhaseResult{Name: PhaseUploadCompletions, Total: len(events)}
	for _, ev := range events {
		ev.OwnerID = identity.UserID
		if err := e.remoteCreate(ctx, constants.CollectionCompletions, ev.ID, storage.CompletionDocument(ev)); err != nil {
			uploadCompletions.Err = err
			break
		}
		uploadCompletions.Done++
	}
	e.finishPhase(&report, uploadCompletions)

	if len(report.Failed()) > 0 {
		return report, &PartialMigrationError{Report: report}
	}
	logger.Info("Migration complete", "user_id", identity.UserID)
	return report, nil
}

func (e *Engine) wipePhase(ctx context.Context, name, collection string, identity models.Identity) PhaseResult {
	result := PhaseResult{Name: name}

	rctx, cancel := e.remoteContext(ctx)
	docs, err := e.remote.List(rctx, collection, storage.OwnedBy(identity.UserID))
	cancel()
	if err != nil {
		result.Err = err
		e.logPhase(result)
		return result
	}

	result.Total = len(docs)
	for _, doc := range docs {
		rctx, cancel := e.remoteContext(ctx)
		err := e.remote.Delete(rctx, collection, doc.ID())
		cancel()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			result.Err = err
			break
		}
		result.Done++
	}
	e.logPhase(result)
	return result
}

func (e *Engine) remoteCreate(ctx context.Context, collection, id string, doc storage.Document) error {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()
	return e.remote.Create(rctx, collection, id, doc)
}

func (e *Engine) finishPhase(report *MigrationReport, result PhaseResult) {
	e.logPhase(result)
	report.Phases = append(report.Phases, result)
}

func (e *Engine) logPhase(result PhaseResult) {
	e.metrics.MigrationPhase(result.Name, result.Err)
	if result.Err != nil {
		logger.Error("Migration phase failed", "phase", result.Name, "done", result.Done, "total", result.Total, "error", result.Err)
		return
	}
	logger.Info("Migration phase complete", "phase", result.Name, "done", result.Done)
}

func transitionKey(tr models.Transition) string {
	return fmt.Sprintf("%s>%s:%s:%d", tr.From, tr.To, tr.Identity.UserID, tr.Epoch)
}

// HandleTransition reacts to a tier change. FREE to PREMIUM with an identity
// migrates local data at most once per transition: a persisted marker records
// fully successful runs and concurrent re-fires get ErrMigrationInProgress.
// Every transition ends with a reload from the newly authoritative store.
// The report is nil when no migration ran.
func (e *Engine) HandleTransition(ctx context.Context, tr models.Transition) (*MigrationReport, error) {
	e.metrics.SetTier(tr.To)

	if tr.From != models.TierFree || tr.To != models.TierPremium || tr.Identity.IsZero() {
		return nil, e.Load(ctx)
	}

	key := transitionKey(tr)
	e.migMu.Lock()
	if e.inFlight[key] {
		e.migMu.Unlock()
		return nil, ErrMigrationInProgress
	}
	e.inFlight[key] = true
	e.migMu.Unlock()
	defer func() {
		e.migMu.Lock()
		delete(e.inFlight, key)
		e.migMu.Unlock()
	}()

	var marker string
	if _, err := e.local.Get(ctx, constants.KeyMigrationMarker, &marker); err != nil {
		return nil, err
	}
	if marker == key {
		logger.Debug("Migration already done for transition", "key", key)
		return nil, e.Load(ctx)
	}

	report, err := e.MigrateLocalToRemote(ctx, tr.Identity)
	if err != nil {
		var partial *PartialMigrationError
		if errors.As(err, &partial) {
			if loadErr := e.Load(ctx); loadErr != nil {
				logger.Warn("Failed to reload after partial migration", "error", loadErr)
			}
		}
		return &report, err
	}

	if err := e.local.Set(ctx, constants.KeyMigrationMarker, key); err != nil {
		return &report, err
	}
	if err := e.Load(ctx); err != nil {
		return &report, err
	}
	if _, err := e.ReconcileStreakCounters(ctx); err != nil {
		return &report, err
	}
	return &report, nil
}

// ReconcileStreakCounters sets every habit's denormalized streak counter to
// the derived current streak. It returns how many habits changed. Remote
// updates are best effort; local failures are returned.
func (e *Engine) ReconcileStreakCounters(ctx context.Context) (int, error) {
	e.mu.RLock()
	calc := stats.NewCalculator(append([]models.CompletionEvent(nil), e.completions...), e.loc)
	var changed []models.Habit
	for _, h := range e.habits {
		if cur := calc.Streak(h.ID).Current; h.StreakCount != cur {
			h.StreakCount = cur
			changed = append(changed, h)
		}
	}
	e.mu.RUnlock()

	if len(changed) == 0 {
		return 0, nil
	}

	if err := e.updateLocalHabits(ctx, func(habits []models.Habit) []models.Habit {
		for _, h := range changed {
			habits = upsertHabit(habits, h)
		}
		return habits
	}); err != nil {
		return 0, err
	}

	if _, ok := e.session(); ok {
		for _, h := range changed {
			rctx, cancel := e.remoteContext(ctx)
			err := e.remote.Update(rctx, constants.CollectionHabits, h.ID, storage.HabitProgressPatch(h))
			cancel()
			if err != nil {
				e.remoteWriteFailed("update", constants.CollectionHabits, h.ID, err)
			}
		}
	}

	e.mu.Lock()
	for _, h := range changed {
		if i := e.habitIndexLocked(h.ID); i >= 0 {
			e.habits[i].StreakCount = h.StreakCount
		}
	}
	e.mu.Unlock()

	logger.Info("Reconciled streak counters", "changed", len(changed))
	return len(changed), nil
}
