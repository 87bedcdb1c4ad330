package chain

import (
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/operatics/machina"
	"github.com/operatics/machina/registry"
)

// Operate drives fn over every viable slot of the chain in order, on the
// calling goroutine. The cursor it creates holds the given parts. The pass
// consumes the chain: the cursor's dispose tears it down.
func (ch *Chain) Operate(fn func(*Cursor) error, parts ...registry.TraitID) error {
	cur, err := ch.Cursor(parts...)
	if err != nil {
		return err
	}
	ch.beginOperating()
	var opErr error
	for ok := cur.Begin(0, -1); ok; ok = cur.Advance() {
		if opErr = fn(cur); opErr != nil {
			break
		}
	}
	ch.endOperating(opErr)
	cur.Dispose()
	return opErr
}

// Operate1 drives fn with a typed pointer to the T1 trait of every slot.
// The type parameter doubles as the part list.
func Operate1[T1 any](ch *Chain, fn func(cur *Cursor, t1 *T1) error) error {
	id1, err := registry.TraitIDOf[T1](ch.filter.Registry())
	if err != nil {
		return err
	}
	return ch.Operate(func(cur *Cursor) error {
		return fn(cur, TraitPtrOf[T1](cur, 0))
	}, id1)
}

// Operate2 is Operate1 for two trait parts.
func Operate2[T1, T2 any](ch *Chain, fn func(cur *Cursor, t1 *T1, t2 *T2) error) error {
	reg := ch.filter.Registry()
	id1, err := registry.TraitIDOf[T1](reg)
	if err != nil {
		return err
	}
	id2, err := registry.TraitIDOf[T2](reg)
	if err != nil {
		return err
	}
	return ch.Operate(func(cur *Cursor) error {
		return fn(cur, TraitPtrOf[T1](cur, 0), TraitPtrOf[T2](cur, 1))
	}, id1, id2)
}

// Operate3 is Operate1 for three trait parts.
func Operate3[T1, T2, T3 any](ch *Chain, fn func(cur *Cursor, t1 *T1, t2 *T2, t3 *T3) error) error {
	reg := ch.filter.Registry()
	id1, err := registry.TraitIDOf[T1](reg)
	if err != nil {
		return err
	}
	id2, err := registry.TraitIDOf[T2](reg)
	if err != nil {
		return err
	}
	id3, err := registry.TraitIDOf[T3](reg)
	if err != nil {
		return err
	}
	return ch.Operate(func(cur *Cursor) error {
		return fn(cur, TraitPtrOf[T1](cur, 0), TraitPtrOf[T2](cur, 1), TraitPtrOf[T3](cur, 2))
	}, id1, id2, id3)
}

// OperateConcurrently splits the chain's raw slots into disjoint intervals
// and drives fn over each on its own goroutine with its own cursor. Only
// solid chains qualify: liquid locks admit structural changes no worker
// coordination covers.
//
// The worker count is VisibleSlots/minSlotsPerThread clamped to
// [1, maxThreads]. With wait set the call blocks and returns the first
// worker error; otherwise it returns immediately and completion is
// observed through WaitForOperatingsCompletion and OperatingError.
func (ch *Chain) OperateConcurrently(fn func(*Cursor) error, maxThreads, minSlotsPerThread int, wait bool, parts ...registry.TraitID) error {
	if !ch.solid {
		return eris.Wrap(machina.ErrInvalidState, "concurrent operate needs a solid chain")
	}
	if maxThreads < 1 || minSlotsPerThread < 1 {
		return eris.Wrap(machina.ErrInvalidArgument, "thread bounds must be positive")
	}
	total := ch.VisibleSlots()
	if total == 0 {
		return nil
	}
	threads := total / minSlotsPerThread
	if threads < 1 {
		threads = 1
	}
	if threads > maxThreads {
		threads = maxThreads
	}

	cursors := make([]*Cursor, threads)
	for i := range cursors {
		cur, err := ch.Cursor(parts...)
		if err != nil {
			for _, c := range cursors[:i] {
				c.Dispose()
			}
			return err
		}
		cursors[i] = cur
	}

	per := total / threads
	rest := total % threads
	var g errgroup.Group
	offset := 0
	for i := 0; i < threads; i++ {
		span := per
		if i < rest {
			span++
		}
		cur, from := cursors[i], offset
		offset += span
		ch.beginOperating()
		g.Go(func() error {
			var err error
			for ok := cur.Begin(from, span); ok; ok = cur.Advance() {
				if err = fn(cur); err != nil {
					break
				}
			}
			ch.endOperating(err)
			cur.Dispose()
			return err
		})
	}
	ch.logger.Debug().
		Int("threads", threads).
		Int("slots", total).
		Msg("concurrent operate dispatched")

	if wait {
		return g.Wait()
	}
	go func() { _ = g.Wait() }()
	return nil
}
