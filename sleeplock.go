package blockfs

// sleepLock is a mutual-exclusion lock that a goroutine may hold across a
// blocking disk operation without pinning an OS thread the way a spinlock
// would (spec.md §4.1 / kernel/sleeplock.h). It is implemented as a
// single-slot channel: acquiring sends a token, releasing receives it back.
type sleepLock struct {
	ch chan struct{}
}

func newSleepLock() sleepLock {
	l := sleepLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Lock blocks until the lock is free.
func (l sleepLock) Lock() {
	<-l.ch
}

// Unlock releases the lock. Unlock on a lock that isn't held is a programmer
// error and will deadlock the next Lock call rather than panicking.
func (l sleepLock) Unlock() {
	l.ch <- struct{}{}
}

// TryLock acquires the lock without blocking, reporting whether it succeeded.
func (l sleepLock) TryLock() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
