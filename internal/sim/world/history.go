package world

import "github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"

// HistoryBuffer is a ring of the last N ticks of entity positions,
// kept so hit claims can be checked against the world as the claimant
// saw it. Slots are addressed tick modulo capacity; a slot whose stored
// tick does not match the requested one has been overwritten.
type HistoryBuffer struct {
	frames []historyFrame
}

type historyFrame struct {
	tick  uint64
	valid bool
	pos   map[string]sim.Vec2
}

func NewHistoryBuffer(ticks int) *HistoryBuffer {
	if ticks < 2 {
		ticks = 2
	}
	return &HistoryBuffer{frames: make([]historyFrame, ticks)}
}

func (b *HistoryBuffer) Record(tick uint64, entities map[string]*Entity) {
	f := &b.frames[tick%uint64(len(b.frames))]
	f.tick = tick
	f.valid = true
	f.pos = make(map[string]sim.Vec2, len(entities))
	for id, e := range entities {
		f.pos[id] = e.State.Pos
	}
}

// At returns the recorded positions for tick, or false when that tick
// was never recorded or has already been overwritten.
func (b *HistoryBuffer) At(tick uint64) (map[string]sim.Vec2, bool) {
	f := &b.frames[tick%uint64(len(b.frames))]
	if !f.valid || f.tick != tick {
		return nil, false
	}
	return f.pos, true
}

// OldestTick reports the oldest tick still resolvable once newest has
// been recorded.
func (b *HistoryBuffer) OldestTick(newest uint64) uint64 {
	span := uint64(len(b.frames) - 1)
	if newest < span {
		return 0
	}
	return newest - span
}

// RemoveEntity scrubs an entity from every retained frame. A rewound
// shot can never land on a player who has already left.
func (b *HistoryBuffer) RemoveEntity(id string) {
	for i := range b.frames {
		if b.frames[i].pos != nil {
			delete(b.frames[i].pos, id)
		}
	}
}

func (b *HistoryBuffer) Capacity() int { return len(b.frames) }
