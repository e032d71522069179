package app

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bnema/zerowrap"
)

const pidFileName = "revpd.pid"

// getSecureRuntimeDir prefers XDG_RUNTIME_DIR, falling back to ~/.revpd/run.
func getSecureRuntimeDir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dir := filepath.Join(runtimeDir, "revpd")
		if err := os.MkdirAll(dir, 0700); err == nil {
			return dir, nil
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".revpd", "run")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime directory: %w", err)
	}
	return dir, nil
}

// createPidFile writes the current process id so `revpd resync` can find it.
func createPidFile(log zerowrap.Logger) string {
	pid := os.Getpid()

	var locations []string
	if runtimeDir, err := getSecureRuntimeDir(); err == nil {
		locations = append(locations, filepath.Join(runtimeDir, pidFileName))
	}
	locations = append(locations, filepath.Join(os.TempDir(), pidFileName))

	for _, location := range locations {
		if err := os.WriteFile(location, []byte(fmt.Sprintf("%d", pid)), 0600); err == nil {
			log.Debug().Str("pid_file", location).Int("pid", pid).Msg("created PID file")
			return location
		}
	}

	log.Warn().Int("pid", pid).Msg("failed to create PID file in any location")
	return ""
}

func removePidFile(pidFile string, log zerowrap.Logger) {
	if pidFile == "" {
		return
	}
	if err := os.Remove(pidFile); err != nil {
		log.Warn().Err(err).Str("pid_file", pidFile).Msg("failed to remove PID file")
	}
}

func findPidFile() string {
	var locations []string
	if runtimeDir, err := getSecureRuntimeDir(); err == nil {
		locations = append(locations, filepath.Join(runtimeDir, pidFileName))
	}
	locations = append(locations, filepath.Join(os.TempDir(), pidFileName))

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// SendResyncSignal signals a running `revpd serve` process to perform an
// immediate reconcile sweep, the same mechanism the teacher uses for its
// own config-reload command.
func SendResyncSignal() error {
	pidFile := findPidFile()
	if pidFile == "" {
		return fmt.Errorf("revpd PID file not found, is revpd serve running?")
	}

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(pidBytes), "%d", &pid); err != nil {
		return fmt.Errorf("failed to parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("failed to send resync signal: %w", err)
	}
	return nil
}
