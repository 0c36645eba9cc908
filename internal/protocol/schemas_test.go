package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validateSchema(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSchemas_ValidateSamples(t *testing.T) {
	helloSchema := compileSchema(t, "hello.schema.json")
	welcomeSchema := compileSchema(t, "welcome.schema.json")
	inputSchema := compileSchema(t, "input.schema.json")
	snapshotSchema := compileSchema(t, "snapshot.schema.json")
	claimSchema := compileSchema(t, "hit_claim.schema.json")
	resultSchema := compileSchema(t, "hit_result.schema.json")
	errorSchema := compileSchema(t, "error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "protocol_version":"1.0",
	  "player_name":"bot1"
	}`), &hello)
	validateSchema(t, helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "protocol_version":"1.0",
	  "entity_id":"P1",
	  "world_params":{
	    "tick_rate_hz":20,
	    "input_redundancy":5,
	    "interp_delay_ticks":2,
	    "command_window":64,
	    "seed":1337,
	    "movement":{
	      "accel_per_sec":40,
	      "max_speed":8,
	      "friction_per_sec":6,
	      "arena_half_extent":100,
	      "hit_radius":0.5,
	      "ray_range":60
	    }
	  }
	}`), &welcome)
	validateSchema(t, welcomeSchema, welcome)

	var input any
	_ = json.Unmarshal([]byte(`{
	  "commands":[
	    {"seq":7,"buttons":3,"aim_x":1,"aim_y":0,"tick":42},
	    {"seq":8,"buttons":1,"aim_x":0.7,"aim_y":0.7,"tick":43}
	  ],
	  "snapshot_echo":1724400000000
	}`), &input)
	validateSchema(t, inputSchema, input)

	var snapshot any
	_ = json.Unmarshal([]byte(`{
	  "tick":120,
	  "last_input":8,
	  "sent_at_ms":1724400000123,
	  "entities":[
	    {"id":"P1","x":1.5,"y":-2.25,"vx":0.1,"vy":0,"yaw":1.5707},
	    {"id":"P2","x":-4,"y":9,"vx":0,"vy":0,"yaw":0}
	  ]
	}`), &snapshot)
	validateSchema(t, snapshotSchema, snapshot)

	var claim any
	_ = json.Unmarshal([]byte(`{
	  "claim_id":"C3",
	  "aim_x":0.9,
	  "aim_y":-0.1,
	  "render_tick":118,
	  "latency_ms":95,
	  "target_hint":"P2"
	}`), &claim)
	validateSchema(t, claimSchema, claim)

	var result any
	_ = json.Unmarshal([]byte(`{
	  "claim_id":"C3",
	  "hit":true,
	  "target":"P2",
	  "rewind_tick":118
	}`), &result)
	validateSchema(t, resultSchema, result)

	var errMsg any
	_ = json.Unmarshal([]byte(`{
	  "code":"E_INPUT_FLOOD",
	  "message":"too far ahead of last acked input"
	}`), &errMsg)
	validateSchema(t, errorSchema, errMsg)
}

// The wire structs carry json tags alongside the codec tags; their JSON
// projection must stay valid against the published schemas.
func TestSchemas_ValidateStructProjections(t *testing.T) {
	cases := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", protocol.HelloMsg{ProtocolVersion: protocol.Version, PlayerName: "alice"}},
		{"welcome.schema.json", protocol.WelcomeMsg{
			ProtocolVersion: protocol.Version,
			EntityID:        "P1",
			Params: protocol.WorldParams{
				TickRateHz:       20,
				InputRedundancy:  5,
				InterpDelayTicks: 2,
				CommandWindow:    64,
				Seed:             1337,
				Movement: protocol.MovementParams{
					AccelPerSec:     40,
					MaxSpeed:        8,
					FrictionPerSec:  6,
					ArenaHalfExtent: 100,
					HitRadius:       0.5,
					RayRange:        60,
				},
			},
		}},
		{"input.schema.json", protocol.InputMsg{
			Commands: []protocol.CommandRecord{
				{Seq: 1, Buttons: 2, AimX: 1, AimY: 0, Tick: 10},
			},
			SnapshotEcho: 1724400000000,
		}},
		{"snapshot.schema.json", protocol.SnapshotMsg{
			Tick:      55,
			LastInput: 1,
			SentAtMs:  1724400000123,
			Entities:  []protocol.EntityRecord{{ID: "P1", X: 1, Y: 2, VX: 0, VY: 0, Yaw: 0.5}},
		}},
		{"hit_claim.schema.json", protocol.HitClaimMsg{ClaimID: "C9", AimX: 1, AimY: 0, RenderTick: 52, LatencyMs: 80}},
		{"hit_result.schema.json", protocol.HitResultMsg{ClaimID: "C9", Hit: false, Code: protocol.ErrInvalidTarget}},
		{"error.schema.json", protocol.ErrorMsg{Code: protocol.ErrProtoVersion, Message: "unsupported protocol version"}},
	}

	for _, tc := range cases {
		s := compileSchema(t, tc.schema)
		raw, err := json.Marshal(tc.msg)
		if err != nil {
			t.Fatalf("marshal for %s: %v", tc.schema, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			t.Fatalf("unmarshal for %s: %v", tc.schema, err)
		}
		validateSchema(t, s, v)
	}
}
