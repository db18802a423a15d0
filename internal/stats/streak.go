// Package stats derives streaks and activity statistics from the completion log.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/utils"
)

// GapTolerance is the longest gap between two completions that keeps a streak going.
const GapTolerance = 36 * time.Hour

// Streak summarizes one habit's completion history
type Streak struct {
	Current int `json:"current"`
	Best    int `json:"best"`
	Total   int `json:"total"`
}

// ComputeStreak walks the completions of habitID in time order. Each
// completion within GapTolerance of the previous one extends the running
// streak, otherwise the streak restarts at 1. Current is the running streak at
// the latest completion, whether or not that completion is recent.
// Completions on the same calendar day in loc count once.
func ComputeStreak(events []models.CompletionEvent, habitID string, loc *time.Location) Streak {
	times := completionTimes(events, habitID, loc)
	if len(times) == 0 {
		return Streak{}
	}

	s := Streak{Total: len(times)}
	running := 0
	for i, t := range times {
		if i > 0 && t.Sub(times[i-1]) <= GapTolerance {
			running++
		} else {
			running = 1
		}
		if running > s.Best {
			s.Best = running
		}
	}
	s.Current = running
	return s
}

// completionTimes returns the earliest completion per calendar day, ascending.
func completionTimes(events []models.CompletionEvent, habitID string, loc *time.Location) []time.Time {
	byDay := make(map[string]time.Time)
	for _, ev := range events {
		if ev.HabitID != habitID {
			continue
		}
		key := utils.DayKey(ev.CompletedAt, loc)
		if prev, ok := byDay[key]; !ok || ev.CompletedAt.Before(prev) {
			byDay[key] = ev.CompletedAt
		}
	}

	times := make([]time.Time, 0, len(byDay))
	for _, t := range byDay {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// Calculator caches streaks for a fixed completion log. Call Reset when the
// log changes.
type Calculator struct {
	mu     sync.Mutex
	loc    *time.Location
	events []models.CompletionEvent
	cache  map[string]Streak
}

func NewCalculator(events []models.CompletionEvent, loc *time.Location) *Calculator {
	c := &Calculator{loc: loc}
	c.Reset(events)
	return c
}

// Reset replaces the log and drops cached results.
func (c *Calculator) Reset(events []models.CompletionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
	c.cache = make(map[string]Streak)
}

func (c *Calculator) Streak(habitID string) Streak {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[habitID]; ok {
		return s
	}
	s := ComputeStreak(c.events, habitID, c.loc)
	c.cache[habitID] = s
	return s
}

// HabitStreak pairs a habit with its derived streak
type HabitStreak struct {
	Habit  models.Habit
	Streak Streak
}

// Rank orders habits by best streak, descending. Ties keep input order.
// top <= 0 returns every habit.
func Rank(habits []models.Habit, calc *Calculator, top int) []HabitStreak {
	ranked := make([]HabitStreak, len(habits))
	for i, h := range habits {
		ranked[i] = HabitStreak{Habit: h, Streak: calc.Streak(h.ID)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Streak.Best > ranked[j].Streak.Best
	})
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}
	return ranked
}
