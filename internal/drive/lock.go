package drive

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

const advisoryRetryInterval = 50 * time.Millisecond

// LockProvider serializes mutations of one user's namespace.
type LockProvider interface {
	WithUserLock(ctx context.Context, db *gorm.DB, userID uint64, timeout time.Duration, fn func(tx *gorm.DB) error) error
}

// DefaultLockProvider combines an in-process keyed mutex with a Postgres
// advisory lock held by the callback's transaction.
type DefaultLockProvider struct {
	local *keyedMutex
}

// NewLockProvider constructs a DefaultLockProvider.
func NewLockProvider() *DefaultLockProvider {
	return &DefaultLockProvider{local: newKeyedMutex()}
}

// WithUserLock acquires the user lock and executes the callback within a transaction.
func (p *DefaultLockProvider) WithUserLock(ctx context.Context, db *gorm.DB, userID uint64, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return errors.New("db is required")
	}
	deadline := time.Now().Add(timeout)

	unlock, err := p.local.lock(ctx, userID, deadline)
	if err != nil {
		return err
	}
	defer unlock()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := acquireUserLock(ctx, tx, userID, deadline); err != nil {
			return err
		}
		return fn(tx)
	})
}

// acquireUserLock obtains a user scoped advisory lock within the transaction.
func acquireUserLock(ctx context.Context, tx *gorm.DB, userID uint64, deadline time.Time) error {
	if tx == nil {
		return errors.New("transaction is required")
	}
	if !isPostgresDialect(tx) {
		return nil
	}

	key := hashLockKey("drive-user", strconv.FormatUint(userID, 10))
	for {
		var locked bool
		if err := tx.WithContext(ctx).Raw("SELECT pg_try_advisory_xact_lock(?)", key).Scan(&locked).Error; err != nil {
			return errors.Wrap(err, "acquire advisory lock")
		}
		if locked {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errBusy()
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait advisory lock")
		case <-time.After(advisoryRetryInterval):
		}
	}
}

// hashLockKey derives a stable int64 key from its parts.
func hashLockKey(parts ...string) int64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte(":"))
		}
		_, _ = h.Write([]byte(p))
	}
	return int64(h.Sum64())
}

func errBusy() *Error {
	return NewError(ErrCodeResourceBusy, "resource busy, retry later", true)
}

// keyedMutex is a set of mutexes addressed by key whose waits honour a deadline.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[uint64]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[uint64]*lockSlot)}
}

func (k *keyedMutex) lock(ctx context.Context, key uint64, deadline time.Time) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	unlock := func() {
		<-slot.ch
		k.release(key, slot)
	}
	select {
	case slot.ch <- struct{}{}:
		return unlock, nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		return unlock, nil
	case <-timer.C:
		k.release(key, slot)
		return nil, errBusy()
	case <-ctx.Done():
		k.release(key, slot)
		return nil, errors.Wrap(ctx.Err(), "wait user lock")
	}
}

func (k *keyedMutex) release(key uint64, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

// fileLocks hands out a reader/writer lock per file id.
//
// Renames hold the writer side across the disk move and the record update,
// streams hold the reader side while opening the file.
type fileLocks struct {
	mu    sync.Mutex
	locks map[uint64]*fileLock
}

type fileLock struct {
	sync.RWMutex
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[uint64]*fileLock)}
}

func (f *fileLocks) acquire(id uint64) *fileLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[id]
	if !ok {
		l = &fileLock{}
		f.locks[id] = l
	}
	l.refs++
	return l
}

func (f *fileLocks) release(id uint64, l *fileLock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(f.locks, id)
	}
}

// Lock takes the writer side for id and returns its release func.
func (f *fileLocks) Lock(id uint64) func() {
	l := f.acquire(id)
	l.Lock()
	return func() {
		l.Unlock()
		f.release(id, l)
	}
}

// RLock takes the reader side for id and returns its release func.
func (f *fileLocks) RLock(id uint64) func() {
	l := f.acquire(id)
	l.RLock()
	return func() {
		l.RUnlock()
		f.release(id, l)
	}
}
