package constants

// Local store keys
const (
	KeyHabits          = "habits"
	KeyCompletions     = "completions"
	KeyCachedTier      = "cachedTier"
	KeyCachedIdentity  = "cachedIdentity"
	KeyTierEpoch       = "tierEpoch"
	KeyMigrationMarker = "migrationMarker"
	KeyThemePreference = "themePreference"
	KeyVacationMode    = "vacationMode"
	KeyTimezone        = "timezone"
	ReminderMetaPrefix = "reminderMeta:"
)

// Remote collections and realtime channels
const (
	CollectionHabits      = "habits"
	CollectionCompletions = "completions"
	CollectionAccounts    = "accounts"
	CollectionSessions    = "sessions"
)

// Remote document fields
const (
	FieldID              = "id"
	FieldOwnerID         = "ownerId"
	FieldHabitID         = "habitId"
	FieldCompletedAt     = "completedAt"
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldFrequency       = "frequency"
	FieldStreakCount     = "streakCount"
	FieldLastCompletedAt = "lastCompletedAt"
	FieldCreatedAt       = "createdAt"
	FieldReminders       = "reminders"
	FieldReminderMessage = "reminderMessage"
	FieldEmail           = "email"
	FieldPasswordHash    = "passwordHash"
	FieldExpiresAt       = "expiresAt"
)

// ReminderMetaKey returns the local key holding reminder metadata for a habit.
func ReminderMetaKey(habitID string) string {
	return ReminderMetaPrefix + habitID
}
