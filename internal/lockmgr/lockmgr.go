// Package lockmgr implements directory-based mutual exclusion for the
// shared Production tree, with automatic reclamation of locks whose
// owner went away.
//
// Directory creation (os.Mkdir) is the acquisition primitive because it
// is atomic on compliant NFS servers, unlike O_EXCL opens which several
// NFS implementations do not serialize correctly.
package lockmgr

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/re-cinq/cccopy/internal/cccerr"
	"github.com/re-cinq/cccopy/internal/fileutil"
)

// StaleThreshold is the age beyond which a lock directory's owner file
// is considered abandoned and safe to reclaim.
const StaleThreshold = 300 * time.Second

// Backoff parameters for the acquisition retry loop.
const (
	backoffInitial = 100 * time.Millisecond
	backoffCap     = 1 * time.Second
)

// Manager creates scoped lock acquisitions rooted at a single directory
// (normally "<production_dir>/.cccopy/lock").
type Manager struct {
	root string
	log  zerolog.Logger

	// sleepFunc and nowFunc are overridden in tests to avoid real delays
	// and to simulate stale owners deterministically.
	sleepFunc func(time.Duration)
	nowFunc   func() time.Time
}

// New creates a Manager whose lock directories live under root/<name>.lockdir.
func New(root string, log zerolog.Logger) *Manager {
	return &Manager{
		root:      root,
		log:       log,
		sleepFunc: time.Sleep,
		nowFunc:   time.Now,
	}
}

// Lock is an acquired scope. Release is idempotent and safe to defer
// unconditionally.
type Lock struct {
	mgr      *Manager
	name     string
	path     string
	released bool
}

// WithLock attempts to acquire the named lock within timeout, returning
// a Lock scope on success. Callers must call Release() on every exit
// path, typically via defer.
func (m *Manager) WithLock(name string, timeout time.Duration) (*Lock, error) {
	lockPath := filepath.Join(m.root, name+".lockdir")
	deadline := m.nowFunc().Add(timeout)
	delay := backoffInitial

	for {
		if err := fileutil.EnsureDir(m.root); err != nil {
			return nil, fmt.Errorf("preparing lock root %s: %w", m.root, err)
		}

		if err := os.Mkdir(lockPath, 0755); err == nil {
			if err := writeOwner(lockPath); err != nil {
				_ = os.RemoveAll(lockPath)
				return nil, fmt.Errorf("writing lock owner for %s: %w", name, err)
			}
			m.log.Debug().Str("lock", name).Msg("lock acquired")
			return &Lock{mgr: m, name: name, path: lockPath}, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock directory %s: %w", lockPath, err)
		}

		stale, staleErr := isStale(lockPath, m.nowFunc())
		if staleErr == nil && stale {
			m.log.Warn().Str("lock", name).Msg("reclaiming stale lock")
			// Best-effort removal: tolerate a race where another acquirer
			// reclaimed it first or recreated it already.
			_ = os.RemoveAll(lockPath)
			continue
		}

		if m.nowFunc().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", cccerr.ErrLockTimeout, name, timeout)
		}

		m.sleepFunc(delay)
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// Release unlinks the owner file and removes the lock directory. It
// tolerates ENOENT (already reclaimed by another process) and is
// idempotent.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	ownerPath := filepath.Join(l.path, "owner")
	if err := os.Remove(ownerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock owner %s: %w", ownerPath, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock directory %s: %w", l.path, err)
	}
	l.mgr.log.Debug().Str("lock", l.name).Msg("lock released")
	return nil
}

// writeOwner records "host:pid:epoch_ms:user" for the acquirer.
func writeOwner(lockPath string) error {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	u, err := user.Current()
	username := "unknown"
	if err == nil {
		username = u.Username
	}
	line := fmt.Sprintf("%s:%d:%d:%s", host, os.Getpid(), time.Now().UnixMilli(), username)
	return os.WriteFile(filepath.Join(lockPath, "owner"), []byte(line), 0644)
}

// isStale reports whether the owner file at lockPath records an epoch_ms
// older than StaleThreshold relative to now.
func isStale(lockPath string, now time.Time) (bool, error) {
	data, err := os.ReadFile(filepath.Join(lockPath, "owner"))
	if err != nil {
		if os.IsNotExist(err) {
			// Owner file missing but directory present: treat as stale so
			// a half-created lock from a crashed acquirer doesn't wedge
			// the resource forever.
			return true, nil
		}
		return false, err
	}
	fields := strings.SplitN(strings.TrimSpace(string(data)), ":", 4)
	if len(fields) != 4 {
		return true, nil
	}
	epochMs, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return true, nil
	}
	age := now.Sub(time.UnixMilli(epochMs))
	return age > StaleThreshold, nil
}
