package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/stats"
	"github.com/julianstephens/streakly/internal/utils"
)

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictEmptyTitle          ConflictType = "empty_title"
	ConflictInvalidFrequency    ConflictType = "invalid_frequency"
	ConflictInvalidReminderTime ConflictType = "invalid_reminder_time"
	ConflictDuplicateReminder   ConflictType = "duplicate_reminder"
	ConflictDuplicateHabitTitle ConflictType = "duplicate_habit_title"
	ConflictOrphanedCompletion  ConflictType = "orphaned_completion"
	ConflictDuplicateCompletion ConflictType = "duplicate_completion"
	ConflictStreakDrift         ConflictType = "streak_drift"
)

var ErrInvalidHabit = errors.New("invalid habit")

// Conflict represents a detected problem in habits or completions
type Conflict struct {
	Type        ConflictType
	Description string
	Date        string   // YYYY-MM-DD format (if applicable)
	Items       []string // Habit titles or reminder times involved
	HabitIDs    []string // IDs of habits involved
}

// ValidationResult contains all detected conflicts
type ValidationResult struct {
	Conflicts []Conflict
}

// HasConflicts returns true if there are any conflicts
func (vr *ValidationResult) HasConflicts() bool {
	return len(vr.Conflicts) > 0
}

// FormatReport returns a human-readable report of all conflicts
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasConflicts() {
		return "No conflicts detected."
	}

	var b strings.Builder
	b.WriteString("Conflicts detected:\n")
	for _, conflict := range vr.Conflicts {
		fmt.Fprintf(&b, "- %s\n", conflict.Description)
	}
	return b.String()
}

// Validator checks habit input and stored data
type Validator struct {
	loc *time.Location
}

// New creates a Validator that buckets completions into days of loc.
func New(loc *time.Location) *Validator {
	if loc == nil {
		loc = time.Local
	}
	return &Validator{loc: loc}
}

// ValidateHabitInput checks the fields a user supplies for a new habit.
// The engine accepts any input, so callers run this first.
func ValidateHabitInput(in models.HabitInput) error {
	var result ValidationResult
	checkHabitFields(&result, "", in.Title, string(in.Frequency), in.Reminders)
	if !result.HasConflicts() {
		return nil
	}
	msgs := make([]string, len(result.Conflicts))
	for i, c := range result.Conflicts {
		msgs[i] = c.Description
	}
	return fmt.Errorf("%w: %s", ErrInvalidHabit, strings.Join(msgs, "; "))
}

func checkHabitFields(result *ValidationResult, habitID, title, frequency string, reminders []string) {
	var ids []string
	if habitID != "" {
		ids = []string{habitID}
	}

	if strings.TrimSpace(title) == "" {
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictEmptyTitle,
			Description: "habit title cannot be empty",
			HabitIDs:    ids,
		})
	}
	if _, err := models.ParseFrequency(frequency); err != nil {
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictInvalidFrequency,
			Description: err.Error(),
			Items:       []string{frequency},
			HabitIDs:    ids,
		})
	}

	seen := make(map[string]bool, len(reminders))
	for _, r := range reminders {
		if !utils.ValidateTimeFormat(r) {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictInvalidReminderTime,
				Description: fmt.Sprintf("reminder time %q must be HH:MM (24-hour)", r),
				Items:       []string{r},
				HabitIDs:    ids,
			})
			continue
		}
		if seen[r] {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictDuplicateReminder,
				Description: fmt.Sprintf("reminder time %s is listed more than once", r),
				Items:       []string{r},
				HabitIDs:    ids,
			})
		}
		seen[r] = true
	}
}

// ValidateHabits checks stored habits for bad fields and duplicate titles.
func (v *Validator) ValidateHabits(habits []models.Habit) ValidationResult {
	var result ValidationResult
	byTitle := make(map[string][]models.Habit)
	for _, h := range habits {
		checkHabitFields(&result, h.ID, h.Title, string(h.Frequency), h.Reminders)
		key := strings.ToLower(strings.TrimSpace(h.Title))
		if key != "" {
			byTitle[key] = append(byTitle[key], h)
		}
	}

	titles := make([]string, 0, len(byTitle))
	for k := range byTitle {
		titles = append(titles, k)
	}
	sort.Strings(titles)
	for _, k := range titles {
		group := byTitle[k]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		for i, h := range group {
			ids[i] = h.ID
		}
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictDuplicateHabitTitle,
			Description: fmt.Sprintf("%d habits are titled %q", len(group), group[0].Title),
			Items:       []string{group[0].Title},
			HabitIDs:    ids,
		})
	}
	return result
}

// ValidateCompletions reports completions of unknown habits, several
// completions of one habit on the same day, and habits whose stored
// streak counter has drifted from the streak derived from the log.
func (v *Validator) ValidateCompletions(habits []models.Habit, events []models.CompletionEvent) ValidationResult {
	var result ValidationResult

	known := make(map[string]models.Habit, len(habits))
	for _, h := range habits {
		known[h.ID] = h
	}

	orphans := make(map[string]int)
	perDay := make(map[string]int)
	var dayOrder []string
	for _, e := range events {
		if _, ok := known[e.HabitID]; !ok {
			orphans[e.HabitID]++
			continue
		}
		key := e.HabitID + "|" + utils.DayKey(e.CompletedAt, v.loc)
		if perDay[key] == 0 {
			dayOrder = append(dayOrder, key)
		}
		perDay[key]++
	}

	orphanIDs := make([]string, 0, len(orphans))
	for id := range orphans {
		orphanIDs = append(orphanIDs, id)
	}
	sort.Strings(orphanIDs)
	for _, id := range orphanIDs {
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictOrphanedCompletion,
			Description: fmt.Sprintf("%d completion(s) reference missing habit %s", orphans[id], id),
			HabitIDs:    []string{id},
		})
	}

	for _, key := range dayOrder {
		n := perDay[key]
		if n < 2 {
			continue
		}
		habitID, day, _ := strings.Cut(key, "|")
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictDuplicateCompletion,
			Description: fmt.Sprintf("%q was completed %d times on %s", known[habitID].Title, n, day),
			Date:        day,
			Items:       []string{known[habitID].Title},
			HabitIDs:    []string{habitID},
		})
	}

	calc := stats.NewCalculator(events, v.loc)
	for _, h := range habits {
		derived := calc.Streak(h.ID).Current
		if h.StreakCount == derived {
			continue
		}
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        ConflictStreakDrift,
			Description: fmt.Sprintf("%q stores a streak of %d but its completions give %d", h.Title, h.StreakCount, derived),
			Items:       []string{h.Title},
			HabitIDs:    []string{h.ID},
		})
	}
	return result
}
