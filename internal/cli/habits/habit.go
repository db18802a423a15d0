package habits

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/streakly/internal/cli"
	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/validation"
)

type HabitCmd struct {
	Add      HabitAddCmd      `cmd:"" help:"Add a new habit."`
	List     HabitListCmd     `cmd:"" help:"List habits."`
	Complete HabitCompleteCmd `cmd:"" aliases:"done" help:"Mark a habit as completed today."`
	Delete   HabitDeleteCmd   `cmd:"" help:"Delete a habit and its completions."`
}

type HabitAddCmd struct {
	Title       string   `arg:"" help:"Habit title."`
	Description string   `help:"Optional description."`
	Frequency   string   `help:"Frequency (daily, weekly, monthly)." default:"daily" enum:"daily,weekly,monthly"`
	Remind      []string `help:"Daily reminder time (HH:MM, 24-hour). Repeatable." sep:","`
	Message     string   `help:"Reminder message."`
}

func (c *HabitAddCmd) Run(ctx *cli.Context) error {
	input := models.HabitInput{
		Title:           strings.TrimSpace(c.Title),
		Description:     c.Description,
		Frequency:       models.Frequency(c.Frequency),
		Reminders:       c.Remind,
		ReminderMessage: c.Message,
	}
	if err := validation.ValidateHabitInput(input); err != nil {
		return err
	}

	habit, err := ctx.Engine.CreateHabit(ctx.Ctx, input)
	if err != nil {
		return fmt.Errorf("failed to add habit: %w", err)
	}

	ctx.Printf("Added habit: %s (%s)\n", habit.Title, habit.ID)
	if len(habit.Reminders) > 0 {
		ctx.Printf("  Reminders at %s\n", strings.Join(habit.Reminders, ", "))
	}
	return nil
}

type HabitListCmd struct{}

func (c *HabitListCmd) Run(ctx *cli.Context) error {
	habits := ctx.Engine.Habits()
	if len(habits) == 0 {
		ctx.Printf("No habits found. Add one with 'streakly habit add'.\n")
		return nil
	}

	for _, h := range habits {
		mark := cli.MutedStyle.Render("○")
		if ctx.Engine.CompletedToday(h.ID) {
			mark = cli.SuccessStyle.Render("●")
		}
		last := "never"
		if h.LastCompletedAt != nil {
			last = h.LastCompletedAt.In(ctx.Engine.Location()).Format(constants.DateFormat)
		}
		ctx.Printf("%s %s %-8s streak %-3d last %s  %s\n",
			mark, cli.Truncate(h.Title, 24), h.Frequency, h.StreakCount, last, cli.MutedStyle.Render(h.ID))
	}
	return nil
}

type HabitCompleteCmd struct {
	Habit string `arg:"" help:"Habit id or title."`
}

func (c *HabitCompleteCmd) Run(ctx *cli.Context) error {
	habit, err := ctx.FindHabit(c.Habit)
	if err != nil {
		return err
	}

	recorded, err := ctx.Engine.CompleteHabit(ctx.Ctx, habit.ID)
	if err != nil {
		return fmt.Errorf("failed to complete habit: %w", err)
	}
	if !recorded {
		ctx.Printf("%s is already completed today.\n", habit.Title)
		return nil
	}

	updated, _ := ctx.Engine.Habit(habit.ID)
	ctx.Printf("%s %s (streak %d)\n", cli.SuccessStyle.Render("✓"), updated.Title, updated.StreakCount)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit id or title."`
	Yes   bool   `short:"y" help:"Skip the confirmation prompt."`
}

func (c *HabitDeleteCmd) Run(ctx *cli.Context) error {
	habit, err := ctx.FindHabit(c.Habit)
	if err != nil {
		return err
	}

	if !c.Yes {
		confirmed := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete %q and all of its completions?", habit.Title)).
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive form error: %w", err)
		}
		if !confirmed {
			ctx.Printf("Delete cancelled.\n")
			return nil
		}
	}

	ctx.PerformAutomaticBackup()
	if err := ctx.Engine.DeleteHabit(ctx.Ctx, habit.ID); err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}
	ctx.Printf("Deleted habit: %s\n", habit.Title)
	return nil
}
