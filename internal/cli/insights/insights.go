package insights

import (
	"fmt"
	"strings"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/stats"
)

type StreaksCmd struct {
	Top int `help:"Number of habits to show (0 for all)." default:"3"`
}

func (c *StreaksCmd) Run(ctx *cli.Context) error {
	habits := ctx.Engine.Habits()
	if len(habits) == 0 {
		ctx.Printf("No habits found.\n")
		return nil
	}

	calc := stats.NewCalculator(ctx.Engine.Completions(), ctx.Engine.Location())
	ranked := stats.Rank(habits, calc, c.Top)

	ctx.Printf("%s\n", cli.TitleStyle.Render("Top streaks"))
	for i, r := range ranked {
		ctx.Printf("%2d. %s best %-3d current %-3d total %d\n",
			i+1, cli.Truncate(r.Habit.Title, 24), r.Streak.Best, r.Streak.Current, r.Streak.Total)
	}
	return nil
}

type ActivityCmd struct {
	Weeks int `help:"Number of weeks to show." default:"53"`
}

var dayLabels = [7]string{"Sun", "", "Tue", "", "Thu", "", "Sat"}

func (c *ActivityCmd) Run(ctx *cli.Context) error {
	weeks := c.Weeks
	if weeks <= 0 {
		weeks = constants.DefaultHistogramWeeks
	}
	grid := stats.GridWeeks(ctx.Engine.Completions(), weeks, constants.DefaultIntensitySteps,
		ctx.Engine.Now(), ctx.Engine.Location())

	ctx.Printf("%s\n", RenderGrid(grid))
	return nil
}

// RenderGrid draws the activity grid with month labels above the columns.
// Each column is two characters wide.
func RenderGrid(grid []stats.Week) string {
	var b strings.Builder

	header := []rune(strings.Repeat(" ", 2*len(grid)))
	for _, l := range stats.MonthLabels(grid) {
		for i, r := range l.Label {
			if pos := 2*l.Week + i; pos < len(header) {
				header[pos] = r
			}
		}
	}
	fmt.Fprintf(&b, "    %s\n", strings.TrimRight(string(header), " "))

	for d := 0; d < 7; d++ {
		fmt.Fprintf(&b, "%-4s", dayLabels[d])
		for _, week := range grid {
			cell := week[d]
			if cell.Future {
				b.WriteString("  ")
				continue
			}
			b.WriteString(cli.Cell(cell.Level) + " ")
		}
		b.WriteString("\n")
	}

	b.WriteString("    " + cli.MutedStyle.Render("Less "))
	for level := range cli.IntensityColors {
		b.WriteString(cli.Cell(level) + " ")
	}
	b.WriteString(cli.MutedStyle.Render("More"))
	return b.String()
}

type StatsCmd struct {
	Days int `help:"Length of the trailing window in days." default:"30"`
}

func (c *StatsCmd) Run(ctx *cli.Context) error {
	days := c.Days
	if days <= 0 {
		days = constants.DefaultSummaryDays
	}
	s := stats.Summarize(ctx.Engine.Habits(), ctx.Engine.Completions(), days,
		ctx.Engine.Now(), ctx.Engine.Location())

	ctx.Printf("%s\n", cli.TitleStyle.Render(fmt.Sprintf("Last %d days", s.WindowDays)))
	ctx.Printf("  Habits:            %d\n", s.Habits)
	ctx.Printf("  Completions:       %d\n", s.TotalCompletions)
	ctx.Printf("  Active days:       %d\n", s.ActiveDays)
	ctx.Printf("  Completion rate:   %.0f%%\n", s.CompletionRate*100)
	ctx.Printf("  Best streak now:   %d\n", s.BestCurrentStreak)
	ctx.Printf("  Days this week:    %d\n", s.DaysThisWeek)
	return nil
}
