package constants

import "time"

const (
	AppName            = "streakly"
	DefaultKeyringUser = "remote-connection"
	SessionKeyringUser = "session-token"
	DefaultConfigDir   = "~/.config/streakly"
	DefaultLocalPath   = "~/.config/streakly/streakly.db"
	ConfigFileName     = "config.yaml"
	Version            = "v0.3.0"

	// DateFormat is the calendar-day key format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the reminder time-of-day format (HH:MM, 24-hour)
	TimeFormat = "15:04"

	// RemoteTimeFormat is how timestamps are stored in remote documents.
	// Fixed width UTC so string comparison matches chronological order.
	RemoteTimeFormat = "2006-01-02T15:04:05Z"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "streakly-"
	BackupFileSuffix = ".db"

	// Notifier constants
	NotifierLockfileName = "streakly-notifier.lock"
	TrayAppIdentifier    = "com.julianstephens.streakly"
	TrayExecutablePrefix = "streakly-tray"
	NotifyMaxRetries     = 3
	NotifyRetryDelay     = 100 * time.Millisecond

	// Remote defaults
	DefaultRemoteTimeout  = 10 * time.Second
	DefaultRemoteDatabase = "streakly"
	DefaultSessionTTL     = 30 * 24 * time.Hour
)
