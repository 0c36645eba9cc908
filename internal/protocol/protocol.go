package protocol

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/klauspost/compress/zstd"
)

const Version = "1.0"

// Frame types. Every websocket message is one frame:
// [type byte][codec byte][msgpack payload].
const (
	FrameHello byte = iota + 1
	FrameWelcome
	FrameInput
	FrameSnapshot
	FrameHitClaim
	FrameHitResult
	FrameError
)

const (
	codecRaw  byte = 0
	codecZstd byte = 1

	frameHeaderLen = 2

	// Payloads below this stay raw; compressing tiny frames costs more
	// than it saves.
	compressThreshold = 512
)

var msgpackHandle = &codec.MsgpackHandle{}

var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDec, _ = zstd.NewReader(nil)
)

// Encode builds an uncompressed frame.
func Encode(frame byte, v any) ([]byte, error) {
	payload, err := marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	out[0] = frame
	out[1] = codecRaw
	return append(out, payload...), nil
}

// EncodeCompressed builds a frame whose payload is zstd-compressed when
// large enough to be worth it. Snapshot fan-out uses this.
func EncodeCompressed(frame byte, v any) ([]byte, error) {
	payload, err := marshal(v)
	if err != nil {
		return nil, err
	}
	c := codecRaw
	if len(payload) >= compressThreshold {
		payload = zstdEnc.EncodeAll(payload, nil)
		c = codecZstd
	}
	out := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	out[0] = frame
	out[1] = c
	return append(out, payload...), nil
}

// DecodeFrame splits a frame into its type and (decompressed) payload.
func DecodeFrame(b []byte) (byte, []byte, error) {
	if len(b) < frameHeaderLen {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(b))
	}
	frame := b[0]
	payload := b[frameHeaderLen:]
	switch b[1] {
	case codecRaw:
		return frame, payload, nil
	case codecZstd:
		raw, err := zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("zstd payload: %w", err)
		}
		return frame, raw, nil
	default:
		return 0, nil, fmt.Errorf("unknown frame codec %d", b[1])
	}
}

// Decode unmarshals a frame payload into v.
func Decode(payload []byte, v any) error {
	return codec.NewDecoderBytes(payload, msgpackHandle).Decode(v)
}

func marshal(v any) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}
