package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotRunning is returned when no live coordinator owns the PID file.
	ErrNotRunning = errors.New("coordinator not running")
	// ErrAlreadyRunning is returned by Start when the PID file names a
	// live process.
	ErrAlreadyRunning = errors.New("coordinator already running")
)

// ReadPID returns the process ID recorded in pidFile.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", pidFile, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Signal sends sig to the coordinator recorded in pidFile.
func Signal(pidFile string, sig syscall.Signal) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// StopRunning sends SIGTERM and waits up to timeout for the coordinator
// to remove its PID file.
func StopRunning(pidFile string, timeout time.Duration) error {
	if err := Signal(pidFile, syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidFile); os.IsNotExist(err) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("coordinator did not exit within %s", timeout)
}

// writePID records this process in pidFile. A file left by a dead
// process is replaced.
func writePID(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	if pid, err := ReadPID(pidFile); err == nil {
		if Signal(pidFile, syscall.Signal(0)) == nil {
			return fmt.Errorf("%w: pid %d in %s", ErrAlreadyRunning, pid, pidFile)
		}
		slog.Warn("replacing stale PID file", "path", pidFile, "pid", pid)
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	slog.Debug("PID file written", "path", pidFile, "pid", pid)
	return nil
}

func removePID(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
