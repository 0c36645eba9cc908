// Package sim holds the deterministic simulation core shared by the
// authoritative server and the predicting client. Everything in here is
// pure: no clocks, no goroutines, no I/O. The same inputs must produce
// bit-identical outputs on both sides of the wire.
package sim

// Buttons is a bitset of held movement inputs sampled for one tick.
type Buttons uint8

const (
	ButtonUp Buttons = 1 << iota
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonFire
)

func (b Buttons) Has(mask Buttons) bool { return b&mask != 0 }

// Command is one tick of player intent. Sequence numbers start at 1 and
// increase by exactly 1 per produced command; 0 means "no command yet".
type Command struct {
	Sequence   uint32
	Buttons    Buttons
	AimX, AimY float64
	ClientTick uint64
}
