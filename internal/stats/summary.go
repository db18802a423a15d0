package stats

import (
	"time"

	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/utils"
)

// Summary is the performance overview for a trailing window
type Summary struct {
	Habits            int
	WindowDays        int
	TotalCompletions  int
	ActiveDays        int
	CompletionRate    float64
	BestCurrentStreak int
	DaysThisWeek      int
}

// Summarize computes the performance overview over the windowDays days ending
// today. CompletionRate is completed habit-days over habits times window days.
func Summarize(habits []models.Habit, events []models.CompletionEvent, windowDays int, now time.Time, loc *time.Location) Summary {
	s := Summary{Habits: len(habits), WindowDays: windowDays}

	known := make(map[string]bool, len(habits))
	for _, h := range habits {
		known[h.ID] = true
	}
	var owned []models.CompletionEvent
	for _, ev := range events {
		if known[ev.HabitID] {
			owned = append(owned, ev)
		}
	}

	hist := BuildActivityHistogram(owned, windowDays, now, loc)
	for _, count := range hist {
		s.TotalCompletions += count
		if count > 0 {
			s.ActiveDays++
		}
	}
	if len(habits) > 0 && windowDays > 0 {
		s.CompletionRate = float64(s.TotalCompletions) / float64(len(habits)*windowDays)
	}

	calc := NewCalculator(owned, loc)
	for _, h := range habits {
		if cur := calc.Streak(h.ID).Current; cur > s.BestCurrentStreak {
			s.BestCurrentStreak = cur
		}
	}

	today := utils.StartOfDay(now, loc)
	week := BuildActivityHistogram(owned, int(today.Weekday())+1, now, loc)
	for _, count := range week {
		if count > 0 {
			s.DaysThisWeek++
		}
	}
	return s
}
