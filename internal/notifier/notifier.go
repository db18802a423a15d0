// Package notifier hands reminder schedules to the streakly tray app, which
// owns the OS-level notifications.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/utils"
)

var (
	userConfigDirFunc = os.UserConfigDir
	findProcessFunc   = ps.FindProcess
)

var (
	ErrTrayNotRunning = errors.New("streakly-tray is not running")
	ErrInvalidTime    = errors.New("reminder times must be HH:MM")
)

// ReminderPayload asks the tray to replace every reminder for Title with
// daily triggers at Times.
type ReminderPayload struct {
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Times          []string `json:"times"`
	CancelExisting bool     `json:"cancel_existing"`
}

type Notifier struct {
	client     *http.Client
	retryDelay time.Duration
}

func New() *Notifier {
	return &Notifier{
		client:     &http.Client{Timeout: 5 * time.Second},
		retryDelay: constants.NotifyRetryDelay,
	}
}

// ScheduleReminders replaces the daily reminders registered under title.
// An empty message falls back to the default reminder text.
func (n *Notifier) ScheduleReminders(ctx context.Context, times []string, title, message string) error {
	for _, t := range times {
		if !utils.ValidateTimeFormat(t) {
			return fmt.Errorf("%w: %q", ErrInvalidTime, t)
		}
	}
	if strings.TrimSpace(message) == "" {
		message = constants.DefaultReminderMessage
	}

	trayAppConfigPath, err := GetTrayAppConfigDir()
	if err != nil {
		return err
	}
	port, secret, err := findAndValidateTrayProcess(filepath.Join(trayAppConfigPath, constants.NotifierLockfileName))
	if err != nil {
		return err
	}

	payload := ReminderPayload{
		Title:          title,
		Message:        message,
		Times:          times,
		CancelExisting: true,
	}
	return n.sendWithRetry(ctx, port, secret, payload)
}

// GetTrayAppConfigDir returns the configuration directory used by the tray application.
func GetTrayAppConfigDir() (string, error) {
	configDir, err := userConfigDirFunc()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}

	trayConfigDir := filepath.Join(configDir, constants.TrayAppIdentifier)

	// A custom lockfile dir may be set in the tray's settings.json
	data, err := os.ReadFile(filepath.Join(trayConfigDir, "settings.json"))
	if err == nil {
		var store struct {
			Settings struct {
				LockfileDir *string `json:"lockfile_dir"`
			} `json:"settings"`
		}
		if err := json.Unmarshal(data, &store); err == nil {
			if store.Settings.LockfileDir != nil && *store.Settings.LockfileDir != "" {
				return *store.Settings.LockfileDir, nil
			}
		}
	}

	return trayConfigDir, nil
}

// findAndValidateTrayProcess reads a "port|pid|secret" lockfile and checks the
// pid belongs to the tray executable.
func findAndValidateTrayProcess(lockfilePath string) (string, string, error) {
	content, err := os.ReadFile(lockfilePath)
	if err != nil {
		return "", "", ErrTrayNotRunning
	}

	parts := strings.Split(strings.TrimSpace(string(content)), "|")
	if len(parts) != 3 {
		return "", "", errors.New("lockfile is malformed")
	}

	port := parts[0]
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return "", "", errors.New("invalid port number in lockfile")
	}
	if portNum < 1 || portNum > 65535 {
		return "", "", fmt.Errorf("port number %d is outside valid range (1-65535)", portNum)
	}

	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", "", errors.New("invalid process ID in lockfile")
	}
	secret := parts[2]
	if strings.TrimSpace(secret) == "" {
		return "", "", errors.New("secret in lockfile is empty")
	}

	process, err := findProcessFunc(pid)
	if err != nil || process == nil {
		return "", "", ErrTrayNotRunning
	}
	if !strings.HasPrefix(process.Executable(), constants.TrayExecutablePrefix) {
		return "", "", fmt.Errorf("process with PID %d is not %s (is %s)", pid, constants.TrayExecutablePrefix, process.Executable())
	}

	return port, secret, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("reminder request failed with status %d: %s", e.code, e.body)
}

func (n *Notifier) sendWithRetry(ctx context.Context, port, secret string, payload ReminderPayload) error {
	var err error
	for attempt := 1; attempt <= constants.NotifyMaxRetries; attempt++ {
		err = n.sendReminders(ctx, port, secret, payload)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < http.StatusInternalServerError {
			return err
		}
		if attempt == constants.NotifyMaxRetries {
			break
		}
		logger.Debug("Retrying reminder request", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelay):
		}
	}
	return err
}

func (n *Notifier) sendReminders(ctx context.Context, port, secret string, payload ReminderPayload) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/reminders", port)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Streakly-Secret", secret)

	res, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusNoContent {
		return nil
	}

	body, _ := io.ReadAll(res.Body)
	return &statusError{code: res.StatusCode, body: string(body)}
}
