package constants

const (
	// Default Settings Values
	DefaultTheme           = "system"
	DefaultTimezone        = "Local" // Use system local timezone by default
	DefaultReminderMessage = "Don't forget your habit!"
	MinPasswordLength      = 6

	// Statistics defaults
	DefaultHistogramWeeks = 53
	DefaultIntensitySteps = 5
	DefaultTopStreaks     = 3
	DefaultSummaryDays    = 30
)
