package world

import "github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"

type PushResult int

const (
	PushAccepted PushResult = iota
	PushDuplicate
	PushStale
	PushTooFarAhead
)

// InputQueue is the per-connection jitter buffer. Commands arrive tagged
// with the client's sequence number, possibly reordered, duplicated by
// redundant resends, or missing entirely. The queue hands the simulation
// exactly one command per tick in sequence order, waits a short grace
// period when the next sequence has not arrived, and then skips forward
// to the earliest buffered command.
//
// Sequence numbers are never recycled within a connection, so plain
// comparisons are enough; wraparound of a uint32 at any realistic send
// rate is decades away.
type InputQueue struct {
	holdTicks  int
	aheadLimit int

	pending map[uint32]sim.Command

	next    uint32
	started bool

	waitTicks int
	skips     uint64
	stale     uint64
	dups      uint64
}

func NewInputQueue(holdTicks, aheadLimit int) *InputQueue {
	if holdTicks < 0 {
		holdTicks = 0
	}
	if aheadLimit < 1 {
		aheadLimit = 1
	}
	return &InputQueue{
		holdTicks:  holdTicks,
		aheadLimit: aheadLimit,
		pending:    map[uint32]sim.Command{},
	}
}

// Push files one command. The first command ever seen anchors the
// expected sequence. Anything below the anchor is stale (already applied
// or skipped), an already-buffered sequence is a redundant resend, and a
// sequence too far above the next deliverable one is rejected so a
// client cannot grow the buffer without bound.
func (q *InputQueue) Push(cmd sim.Command) PushResult {
	if !q.started {
		q.started = true
		q.next = cmd.Sequence
	}
	if cmd.Sequence < q.next {
		q.stale++
		return PushStale
	}
	if _, ok := q.pending[cmd.Sequence]; ok {
		q.dups++
		return PushDuplicate
	}
	if cmd.Sequence >= q.next+uint32(q.aheadLimit) {
		return PushTooFarAhead
	}
	q.pending[cmd.Sequence] = cmd
	return PushAccepted
}

// Pop returns the command to apply this tick, if any. When the buffer is
// empty the gap countdown resets: an idle client is not a lossy one.
// When later sequences are buffered but the next one is missing, Pop
// reports nothing for up to holdTicks ticks and then gives up on the
// gap, resuming from the earliest sequence present. Late arrivals for a
// skipped gap are dropped as stale by Push.
func (q *InputQueue) Pop() (sim.Command, bool) {
	if len(q.pending) == 0 {
		q.waitTicks = 0
		return sim.Command{}, false
	}
	if cmd, ok := q.pending[q.next]; ok {
		delete(q.pending, q.next)
		q.next++
		q.waitTicks = 0
		return cmd, true
	}
	q.waitTicks++
	if q.waitTicks <= q.holdTicks {
		return sim.Command{}, false
	}
	lowest := uint32(0)
	first := true
	for seq := range q.pending {
		if first || seq < lowest {
			lowest = seq
			first = false
		}
	}
	cmd := q.pending[lowest]
	delete(q.pending, lowest)
	q.next = lowest + 1
	q.waitTicks = 0
	q.skips++
	return cmd, true
}

// Len reports how many commands are buffered.
func (q *InputQueue) Len() int { return len(q.pending) }

// Skips reports how many gaps this queue has given up on.
func (q *InputQueue) Skips() uint64 { return q.skips }

// StaleDrops reports how many already-passed sequences were offered.
func (q *InputQueue) StaleDrops() uint64 { return q.stale }

// Duplicates reports how many redundant resends were absorbed.
func (q *InputQueue) Duplicates() uint64 { return q.dups }
