package lock

import "context"

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker hands out named locks.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock acquires key only if it is free; ok is false otherwise.
	TryLock(ctx context.Context, key string) (unlock Unlock, ok bool, err error)
}

// Local is an in-process Locker.
type Local struct {
	km *KeyedMutex
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{km: NewKeyedMutex()}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	unlock, err := l.km.LockContext(ctx, key)
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

func (l *Local) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	unlock, ok := l.km.TryLock(key)
	if !ok {
		return nil, false, nil
	}
	return unlock, true, nil
}
