package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

// stateDigest hashes everything that influences future ticks: entity
// kinematics, the last applied command of each entity, and the exact
// contents of every jitter buffer. Iteration is sorted throughout so
// the digest is a pure function of state. The hit history is derived
// from past states and is deliberately left out.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(w.cfg.Seed))
	digestWriteU64(h, &tmp, uint64(len(w.entities)))

	for _, id := range sortedEntityIDs(w.entities) {
		e := w.entities[id]
		h.Write([]byte(id))
		digestWriteF64(h, &tmp, e.State.Pos.X)
		digestWriteF64(h, &tmp, e.State.Pos.Y)
		digestWriteF64(h, &tmp, e.State.Vel.X)
		digestWriteF64(h, &tmp, e.State.Vel.Y)
		digestWriteF64(h, &tmp, e.State.Yaw)
		digestWriteU64(h, &tmp, uint64(e.State.LastInput))

		digestWriteCommand(h, &tmp, e.LastApplied)

		q := e.Queue
		digestWriteU64(h, &tmp, uint64(q.next))
		h.Write([]byte{boolByte(q.started)})
		digestWriteU64(h, &tmp, uint64(q.waitTicks))
		seqs := make([]uint32, 0, len(q.pending))
		for seq := range q.pending {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		digestWriteU64(h, &tmp, uint64(len(seqs)))
		for _, seq := range seqs {
			digestWriteCommand(h, &tmp, q.pending[seq])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteCommand(h hashWriter, tmp *[8]byte, cmd sim.Command) {
	digestWriteU64(h, tmp, uint64(cmd.Sequence))
	h.Write([]byte{byte(cmd.Buttons)})
	digestWriteF64(h, tmp, cmd.AimX)
	digestWriteF64(h, tmp, cmd.AimY)
	digestWriteU64(h, tmp, cmd.ClientTick)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, f float64) {
	digestWriteU64(h, tmp, math.Float64bits(f))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
