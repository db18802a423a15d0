package stats

import (
	"math/bits"
	"time"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/utils"
)

// BuildActivityHistogram counts completions per calendar day for the
// windowDays days ending on the day of now. Every day in the window has a key.
// Repeat completions of one habit on one day count once.
func BuildActivityHistogram(events []models.CompletionEvent, windowDays int, now time.Time, loc *time.Location) map[string]int {
	hist := make(map[string]int, windowDays)
	if windowDays <= 0 {
		return hist
	}
	today := utils.StartOfDay(now, loc)
	for i := 0; i < windowDays; i++ {
		hist[today.AddDate(0, 0, -i).Format(constants.DateFormat)] = 0
	}

	seen := make(map[string]bool)
	for _, ev := range events {
		day := utils.DayKey(ev.CompletedAt, loc)
		if _, inWindow := hist[day]; !inWindow {
			continue
		}
		key := ev.HabitID + "|" + day
		if seen[key] {
			continue
		}
		seen[key] = true
		hist[day]++
	}
	return hist
}

// IntensityLevel maps a day's count to a color step in [0, steps). Zero is
// always the lowest step, otherwise the level is floor(log2(count+1)).
func IntensityLevel(count, steps int) int {
	if count <= 0 || steps <= 1 {
		return 0
	}
	level := bits.Len(uint(count+1)) - 1
	if level > steps-1 {
		level = steps - 1
	}
	return level
}

// Cell is one day of the activity grid
type Cell struct {
	Date   string
	Count  int
	Level  int
	Future bool
}

// Week is a Sunday-first grid column
type Week [7]Cell

// GridWeeks lays out the last weeks weeks as Sunday-first columns. The final
// column holds today; days after today are marked Future.
func GridWeeks(events []models.CompletionEvent, weeks, steps int, now time.Time, loc *time.Location) []Week {
	if weeks <= 0 {
		return nil
	}
	today := utils.StartOfDay(now, loc)
	lastSunday := today.AddDate(0, 0, -int(today.Weekday()))
	start := lastSunday.AddDate(0, 0, -7*(weeks-1))

	windowDays := 7*(weeks-1) + int(today.Weekday()) + 1
	hist := BuildActivityHistogram(events, windowDays, now, loc)

	grid := make([]Week, weeks)
	for w := range grid {
		for d := 0; d < 7; d++ {
			day := start.AddDate(0, 0, 7*w+d)
			key := day.Format(constants.DateFormat)
			count := hist[key]
			grid[w][d] = Cell{
				Date:   key,
				Count:  count,
				Level:  IntensityLevel(count, steps),
				Future: day.After(today),
			}
		}
	}
	return grid
}

// MonthLabel marks the first grid column of a new month
type MonthLabel struct {
	Label string
	Week  int
}

func MonthLabels(grid []Week) []MonthLabel {
	var labels []MonthLabel
	last := ""
	for i, w := range grid {
		t, err := time.Parse(constants.DateFormat, w[0].Date)
		if err != nil {
			continue
		}
		month := t.Format("Jan")
		if month != last {
			labels = append(labels, MonthLabel{Label: month, Week: i})
			last = month
		}
	}
	return labels
}
