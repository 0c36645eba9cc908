package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

const (
	handshakeDeadline = 5 * time.Second
	readDeadline      = 60 * time.Second
	writeDeadline     = 5 * time.Second

	// outQueue bounds the per-connection send buffer. The world drops
	// the oldest frame when a slow link falls behind.
	outQueue = 64
)

// Server upgrades player connections and shuttles frames between the
// websocket and the world's channels. The reader goroutine never touches
// world state; it only decodes envelopes and enqueues them.
type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		entityID, out := s.handshake(conn)
		if entityID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: the only place that writes after handshake.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			frame, payload, err := protocol.DecodeFrame(msg)
			if err != nil {
				s.pushError(out, protocol.ErrProtoBadFrame, "unreadable frame")
				continue
			}
			switch frame {
			case protocol.FrameInput:
				var in protocol.InputMsg
				if err := protocol.Decode(payload, &in); err != nil {
					s.pushError(out, protocol.ErrProtoBadFrame, "unreadable INPUT")
					continue
				}
				if len(in.Commands) == 0 {
					continue
				}
				s.world.Inbox() <- world.InputEnvelope{
					EntityID:     entityID,
					Msg:          in,
					ReceivedAtMs: time.Now().UnixMilli(),
				}
			case protocol.FrameHitClaim:
				var claim protocol.HitClaimMsg
				if err := protocol.Decode(payload, &claim); err != nil {
					s.pushError(out, protocol.ErrProtoBadFrame, "unreadable HIT_CLAIM")
					continue
				}
				if claim.ClaimID == "" {
					s.pushError(out, protocol.ErrBadRequest, "claim_id required")
					continue
				}
				s.world.Claims() <- world.ClaimEnvelope{EntityID: entityID, Claim: claim}
			default:
				s.pushError(out, protocol.ErrProtoBadFrame, fmt.Sprintf("unexpected frame type %d", frame))
			}
		}

		// Cleanup.
		s.world.Leave() <- entityID
	}
}

// handshake reads HELLO, joins the world, and writes WELCOME. It returns
// the assigned entity id and the connection's outbound queue, or "" when
// the connection was rejected.
func (s *Server) handshake(conn *websocket.Conn) (string, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	frame, payload, err := protocol.DecodeFrame(msg)
	if err != nil || frame != protocol.FrameHello {
		s.reject(conn, protocol.ErrProtoBadFrame, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := protocol.Decode(payload, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadFrame, "unreadable HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoVersion, fmt.Sprintf("server speaks %s, client sent %q", protocol.Version, hello.ProtocolVersion))
		return "", nil
	}
	name := strings.TrimSpace(hello.PlayerName)
	if name == "" {
		name = "player"
	}

	out := make(chan []byte, outQueue)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{Name: name, Out: out, Resp: respCh}
	resp := <-respCh

	b, err := protocol.Encode(protocol.FrameWelcome, resp.Welcome)
	if err != nil {
		return "", nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		s.world.Leave() <- resp.Welcome.EntityID
		return "", nil
	}
	return resp.Welcome.EntityID, out
}

// reject sends a coded ERROR frame and closes the handshake. Post-join
// errors go through the out queue instead so they never race the writer.
func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	if b, err := protocol.Encode(protocol.FrameError, protocol.ErrorMsg{Code: code, Message: msg}); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.BinaryMessage, b)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func (s *Server) pushError(out chan []byte, code, msg string) {
	b, err := protocol.Encode(protocol.FrameError, protocol.ErrorMsg{Code: code, Message: msg})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// Queue full: the peer is not reading; the error is advisory.
	}
}
