package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/killallgit/atelier/pkg/logger"
)

// fileLock serialises writers of the session file across processes with an
// exclusive lock file plus flock.
type fileLock struct {
	path     string
	lockPath string
	file     *os.File
	locked   bool
}

type lockConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	StaleAfter time.Duration
}

func defaultLockConfig() lockConfig {
	return lockConfig{
		Timeout:    5 * time.Second,
		RetryDelay: 50 * time.Millisecond,
		StaleAfter: time.Minute,
	}
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path, lockPath: path + ".lock"}
}

func (fl *fileLock) lock(cfg lockConfig) error {
	if fl.locked {
		return errors.New("file is already locked")
	}
	if err := os.MkdirAll(filepath.Dir(fl.lockPath), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	for {
		err := fl.tryLock(cfg)
		if err == nil {
			fl.locked = true
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout acquiring lock on %s after %v: %w", fl.path, cfg.Timeout, err)
		}
		time.Sleep(cfg.RetryDelay)
	}
}

func (fl *fileLock) tryLock(cfg lockConfig) error {
	file, err := os.OpenFile(fl.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			if fl.stale(cfg.StaleAfter) {
				os.Remove(fl.lockPath)
			}
			return errors.New("lock already held")
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		os.Remove(fl.lockPath)
		return fmt.Errorf("failed to acquire system lock: %w", err)
	}

	fmt.Fprintf(file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	fl.file = file
	return nil
}

// stale reports whether the lock file was left behind by a dead process.
func (fl *fileLock) stale(after time.Duration) bool {
	info, err := os.Stat(fl.lockPath)
	if err != nil {
		return true
	}
	if time.Since(info.ModTime()) < after {
		return false
	}

	data, err := os.ReadFile(fl.lockPath)
	if err != nil {
		return true
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "pid:%d", &pid); err != nil {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

func (fl *fileLock) unlock() error {
	if !fl.locked {
		return nil
	}

	var lastErr error
	if fl.file != nil {
		if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
			lastErr = fmt.Errorf("failed to release system lock: %w", err)
		}
		if err := fl.file.Close(); err != nil && lastErr == nil {
			lastErr = fmt.Errorf("failed to close lock file: %w", err)
		}
		fl.file = nil
	}
	if err := os.Remove(fl.lockPath); err != nil && lastErr == nil {
		lastErr = fmt.Errorf("failed to remove lock file: %w", err)
	}
	fl.locked = false
	return lastErr
}

// withLock runs fn while holding the lock for path.
func withLock(path string, cfg lockConfig, fn func() error) error {
	lock := newFileLock(path)
	if err := lock.lock(cfg); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := lock.unlock(); err != nil {
			logger.Warn("failed to unlock %s: %v", path, err)
		}
	}()
	return fn()
}

// atomicWrite replaces path with data through a temp file and rename.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
