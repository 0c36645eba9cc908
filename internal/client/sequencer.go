// Package client holds the game-client side of the netcode: command
// sequencing, local prediction, reconciliation against authoritative
// snapshots, and interpolation of everyone else. The pure pieces know
// nothing about sockets; Session ties them to a connection.
package client

import "github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"

// Sequencer stamps outgoing commands with a monotonically increasing
// sequence number and retains the unacknowledged ones. The retained
// window serves two masters: redundant resends (the tail rides along
// with every packet) and prediction replay after a reconcile.
type Sequencer struct {
	window int
	next   uint32
	buf    []sim.Command
}

func NewSequencer(window int) *Sequencer {
	if window < 1 {
		window = 1
	}
	return &Sequencer{window: window, next: 1}
}

// Next stamps cmd and files it. When the window overflows the oldest
// command is dropped; the server will have long since applied or
// skipped it.
func (s *Sequencer) Next(cmd sim.Command) sim.Command {
	cmd.Sequence = s.next
	s.next++
	s.buf = append(s.buf, cmd)
	if len(s.buf) > s.window {
		s.buf = s.buf[1:]
	}
	return cmd
}

// Ack discards every command with sequence <= seq. Acks never regress,
// so an older ack is a no-op.
func (s *Sequencer) Ack(seq uint32) {
	i := 0
	for i < len(s.buf) && s.buf[i].Sequence <= seq {
		i++
	}
	s.buf = s.buf[i:]
}

// Unacked returns the retained commands in sequence order. The slice
// aliases internal storage and is only valid until the next call.
func (s *Sequencer) Unacked() []sim.Command { return s.buf }

// Recent returns the newest k retained commands for one outgoing
// packet. Lost packets are never retransmitted on their own; the
// overlap between consecutive packets is the whole recovery story.
func (s *Sequencer) Recent(k int) []sim.Command {
	if k < 1 {
		k = 1
	}
	if len(s.buf) <= k {
		return s.buf
	}
	return s.buf[len(s.buf)-k:]
}

func (s *Sequencer) Len() int { return len(s.buf) }
