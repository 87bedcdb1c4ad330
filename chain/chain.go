// Package chain implements multi-iterable iteration: a chain snapshots the
// iterables matching a filter, locks them uniformly, and drives cursors and
// operate dispatches over them as one sequence of slots.
package chain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/iterable"
)

// Chain is a locked sequence of iterables under one filter. A chain drives
// one iteration pass: the last cursor's dispose tears it down and unlocks
// the segments. Reset rearms a disposed chain over the same snapshot;
// enchain again to pick up iterables created since.
type Chain struct {
	filter   *fingerprint.Filter
	segments []iterable.Iterable
	solid    bool
	logger   zerolog.Logger

	users      atomic.Int32
	operatings atomic.Int32
	disposed   atomic.Bool
	stop       atomic.Bool

	mu     sync.Mutex
	opDone chan struct{}
	opErr  error
}

// New locks every segment with the requested kind and returns the chain.
// On a lock failure the already locked segments are released again.
func New(x *fingerprint.Filter, solid bool, logger zerolog.Logger, segments ...iterable.Iterable) (*Chain, error) {
	if x == nil {
		return nil, eris.Wrap(machina.ErrNullArgument, "chaining with a nil filter")
	}
	for i, seg := range segments {
		var err error
		if solid {
			err = seg.LockSolid()
		} else {
			err = seg.LockLiquid()
		}
		if err != nil {
			for _, locked := range segments[:i] {
				_ = locked.Unlock()
			}
			return nil, eris.Wrap(err, "locking chain segments")
		}
	}
	return &Chain{
		filter:   x,
		segments: segments,
		solid:    solid,
		logger:   logger,
	}, nil
}

// Filter returns the chain's filter.
func (ch *Chain) Filter() *fingerprint.Filter { return ch.filter }

// Solid reports whether the chain holds solid locks.
func (ch *Chain) Solid() bool { return ch.solid }

// Disposed reports whether the chain was torn down.
func (ch *Chain) Disposed() bool { return ch.disposed.Load() }

// SegmentCount returns the number of chained iterables.
func (ch *Chain) SegmentCount() int { return len(ch.segments) }

// VisibleSlots returns the total raw slots a cursor can traverse.
func (ch *Chain) VisibleSlots() int {
	total := 0
	for _, seg := range ch.segments {
		total += seg.VisibleSlots()
	}
	return total
}

// StopIterating requests cooperative cancellation. Cursors observe it on
// their next advance; concurrent workers stop before their next slot.
func (ch *Chain) StopIterating() { ch.stop.Store(true) }

// Stopped reports whether cancellation was requested.
func (ch *Chain) Stopped() bool { return ch.stop.Load() }

// Dispose tears down a chain no cursor ever used. With live cursors it
// fails: the last cursor's dispose is the teardown path.
func (ch *Chain) Dispose() error {
	if ch.users.Load() > 0 {
		return eris.Wrap(machina.ErrInvalidState, "disposing a chain with live cursors")
	}
	return ch.teardown()
}

func (ch *Chain) retain() error {
	if ch.disposed.Load() {
		return eris.Wrap(machina.ErrInvalidState, "using a disposed chain")
	}
	ch.users.Add(1)
	return nil
}

func (ch *Chain) release() {
	if ch.users.Add(-1) == 0 {
		_ = ch.teardown()
	}
}

func (ch *Chain) teardown() error {
	if !ch.disposed.CompareAndSwap(false, true) {
		return eris.Wrap(machina.ErrInvalidState, "chain is already disposed")
	}
	ch.WaitForOperatingsCompletion(0)
	for _, seg := range ch.segments {
		_ = seg.Unlock()
	}
	ch.logger.Debug().
		Bool("solid", ch.solid).
		Int("segments", len(ch.segments)).
		Msg("chain disposed")
	return nil
}

// Reset returns a disposed chain to service for another pass, re-locking
// the same segment snapshot with the same kind. Iterables created since
// the chain was built stay invisible to it.
func (ch *Chain) Reset() error {
	if !ch.disposed.Load() {
		return eris.Wrap(machina.ErrInvalidState, "resetting a chain that is still live")
	}
	for i, seg := range ch.segments {
		var err error
		if ch.solid {
			err = seg.LockSolid()
		} else {
			err = seg.LockLiquid()
		}
		if err != nil {
			for _, locked := range ch.segments[:i] {
				_ = locked.Unlock()
			}
			return eris.Wrap(err, "relocking chain segments")
		}
	}
	ch.stop.Store(false)
	ch.mu.Lock()
	ch.opErr = nil
	ch.mu.Unlock()
	ch.disposed.Store(false)
	return nil
}

// beginOperating registers one running dispatch; the completion channel is
// armed when the count leaves zero.
func (ch *Chain) beginOperating() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.operatings.Add(1) == 1 {
		ch.opDone = make(chan struct{})
	}
}

func (ch *Chain) endOperating(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err != nil && ch.opErr == nil {
		ch.opErr = err
	}
	if ch.operatings.Add(-1) == 0 {
		close(ch.opDone)
		ch.opDone = nil
	}
}

// OperatingsCount returns the number of running dispatches.
func (ch *Chain) OperatingsCount() int { return int(ch.operatings.Load()) }

// OperatingError returns the first error a finished dispatch produced.
func (ch *Chain) OperatingError() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.opErr
}

// WaitForOperatingsCompletion blocks until every running dispatch finished,
// reporting whether that happened within the timeout. A zero timeout waits
// indefinitely.
func (ch *Chain) WaitForOperatingsCompletion(timeout time.Duration) bool {
	ch.mu.Lock()
	done := ch.opDone
	ch.mu.Unlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
