package codesign

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"machmap/pkg/logging"
	"machmap/pkg/pathutil"
)

var (
	ErrInvalidPID = errors.New("invalid pid")
	ErrNotFound   = errors.New("no executable path for process")
)

// PathForPID resolves the on-disk executable of pid. The platform code
// identity is consulted first, then the process table.
func PathForPID(pid int) (string, error) {
	if pid <= 0 {
		return "", ErrInvalidPID
	}
	if p, err := identityPath(pid); err == nil && p != "" {
		return pathutil.Canonicalize(p), nil
	} else if err != nil {
		logging.LogDebug("code identity lookup failed", "pid", pid, "error", err.Error())
	}
	return processPath(pid)
}

func processPath(pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", fmt.Errorf("%w: pid %d: %v", ErrNotFound, pid, err)
	}
	exe, err := proc.Exe()
	if err != nil || exe == "" {
		return "", fmt.Errorf("%w: pid %d: %v", ErrNotFound, pid, err)
	}
	return pathutil.Canonicalize(exe), nil
}

// Exists reports whether pid names a live process.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
