// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ARPA-SIMC/arkimet/pkg/log"
)

// ErrLocked is returned when a conflicting lock is still held after
// all retries.
var ErrLocked = errors.New("locked")

// Locks are advisory file locks so they work across processes and
// machines sharing a filesystem; an in-process reader-writer lock is
// layered on top because POSIX locks are per-process.

const (
	lockRetries    = 30
	lockRetryDelay = 100 * time.Millisecond
)

var (
	procLocksMu sync.Mutex
	procLocks   = map[string]*sync.RWMutex{}
)

func procLock(path string) *sync.RWMutex {
	procLocksMu.Lock()
	defer procLocksMu.Unlock()
	if l, ok := procLocks[path]; ok {
		return l
	}
	l := new(sync.RWMutex)
	procLocks[path] = l
	return l
}

// Lock is one held lock; Release is idempotent.
type Lock struct {
	fl       *flock.Flock
	proc     *sync.RWMutex
	shared   bool
	released bool
}

func acquire(path string, shared bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, err
	}
	l := &Lock{proc: procLock(path), shared: shared}
	if shared {
		l.proc.RLock()
	} else {
		l.proc.Lock()
	}

	l.fl = flock.New(path)
	try := l.fl.TryLock
	if shared {
		try = l.fl.TryRLock
	}
	for attempt := 0; attempt < lockRetries; attempt++ {
		ok, err := try()
		if err != nil {
			l.unlockProc()
			return nil, err
		}
		if ok {
			return l, nil
		}
		time.Sleep(lockRetryDelay)
	}
	l.unlockProc()
	log.Warnf("lock on %s still held elsewhere after %d attempts", path, lockRetries)
	return nil, fmt.Errorf("acquiring lock on %s: %w", path, ErrLocked)
}

// AcquireShared takes a shared lock on the given lock file.
func AcquireShared(path string) (*Lock, error) {
	return acquire(path, true)
}

// AcquireExclusive takes an exclusive lock on the given lock file.
func AcquireExclusive(path string) (*Lock, error) {
	return acquire(path, false)
}

func (l *Lock) unlockProc() {
	if l.shared {
		l.proc.RUnlock()
	} else {
		l.proc.Unlock()
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	err := l.fl.Unlock()
	l.unlockProc()
	return err
}

// DataLockPath is the lock file guarding one segment's data.
func DataLockPath(abspath string) string {
	return abspath + ".lock"
}
