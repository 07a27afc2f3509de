package scheduler

import (
	"path/filepath"

	"github.com/gofrs/flock"

	glaierrors "glaiprocessor/pkg/errors"
)

// LockFileName guards a monitored directory against concurrent runs
const LockFileName = ".glai.lock"

// acquireLock takes the advisory lock of dir without waiting. A held lock is
// a transient condition: the other run finishes and the next invocation
// proceeds.
func acquireLock(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, glaierrors.Wrap(glaierrors.KindTransient, "scheduler.lock", err)
	}
	if !ok {
		return nil, glaierrors.Newf(glaierrors.KindTransient, "scheduler.lock",
			"directory %s is locked by another run", dir)
	}
	return lock, nil
}
