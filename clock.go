package blockfs

import "sync/atomic"

// Clock supplies the monotonically increasing tick counter stored in inode
// Atime/Mtime fields (spec.md §4.4). It is not wall-clock time: ticks only
// need to order events relative to one another within a mounted FS.
type Clock interface {
	Tick() uint32
}

// systemClock hands out a strictly increasing counter, incremented once per
// call, starting from 1 so a zero-value timestamp field always reads as unset.
type systemClock struct {
	n uint32
}

func newSystemClock() *systemClock {
	return &systemClock{}
}

func (c *systemClock) Tick() uint32 {
	return atomic.AddUint32(&c.n, 1)
}
