// Package lock provides the advisory lock around an evaluation's critical
// section. Acquisition is a single create-if-absent; a held lock is retried
// at a fixed pace until a deadline. Stale locks are never reclaimed
// automatically: removing one is an operator action (see ForceRemove).
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/boshu2/phasegate/internal/types"
)

// Defaults for Options.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Owner is the record written into the lock file.
type Owner struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	Command    string    `json:"command,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options tunes Acquire.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// Command is recorded in the owner record for operators.
	Command string
	Logger  *slog.Logger
}

// TimeoutError reports a lock still held when the wait ran out.
type TimeoutError struct {
	Path  string
	Owner *Owner
	Age   time.Duration
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s (%s)", types.ErrLockTimeout.Error(), e.Path)
	if e.Owner != nil {
		msg += fmt.Sprintf("; held by pid %d for %s", e.Owner.PID, e.Age.Round(time.Second))
	}
	return msg
}

// Is matches types.ErrLockTimeout.
func (e *TimeoutError) Is(target error) bool { return target == types.ErrLockTimeout }

// Lock is a held lock.
type Lock struct {
	path  string
	owner Owner
}

// Owner returns the record this process wrote.
func (l *Lock) Owner() Owner { return l.owner }

// Path returns the lock file.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock at path, retrying until opts.Timeout or ctx ends.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	host, _ := os.Hostname() //nolint:errcheck // host is informational
	owner := Owner{ID: uuid.NewString(), PID: os.Getpid(), Host: host, Command: opts.Command}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(opts.PollInterval), 1)

	for attempt := 1; ; attempt++ {
		owner.AcquiredAt = time.Now().UTC()
		err := create(path, owner)
		if err == nil {
			logger.DebugContext(ctx, "lock acquired", "path", path, "attempts", attempt)
			return &Lock{path: path, owner: owner}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if err := limiter.Wait(ctx); err != nil {
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			return nil, timeoutError(path)
		}
	}
}

// Release removes the lock if this process still owns it. The file is
// renamed aside first so the owner check and the removal see the same file.
// A lock found to belong to another owner is linked back into place; an
// acquirer that runs in that gap wins the lock instead of the foreign owner.
// That gap only exists after an operator ran unlock on this lock.
func (l *Lock) Release() error {
	aside := l.path + ".release-" + l.owner.ID
	if err := os.Rename(l.path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("release lock: %w", err)
	}
	current, err := ReadOwner(aside)
	if err == nil && current.ID != l.owner.ID {
		restoreErr := os.Link(aside, l.path)
		_ = os.Remove(aside)
		if restoreErr != nil {
			return fmt.Errorf("lock %s now owned by %s and could not be restored: %w", l.path, current.ID, restoreErr)
		}
		return fmt.Errorf("lock %s now owned by %s; not removing", l.path, current.ID)
	}
	if err := os.Remove(aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ReadOwner reads the owner record of the lock at path.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return Owner{}, fmt.Errorf("parse lock owner: %w", err)
	}
	return o, nil
}

// ForceRemove deletes the lock regardless of owner and returns the record it
// held, if readable. It returns os.ErrNotExist when no lock is present.
func ForceRemove(path string) (Owner, error) {
	owner, readErr := ReadOwner(path)
	if err := os.Remove(path); err != nil {
		return Owner{}, err
	}
	if readErr != nil {
		return Owner{}, nil
	}
	return owner, nil
}

func create(path string, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()       //nolint:errcheck // cleanup in error path
		_ = os.Remove(path) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write lock owner: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

func timeoutError(path string) error {
	te := &TimeoutError{Path: path}
	if o, err := ReadOwner(path); err == nil {
		te.Owner = &o
		te.Age = time.Since(o.AcquiredAt)
	}
	return te
}
